package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultMetadataFilename = "metadata.csv"
	DefaultDelimiter        = "|"
	DefaultTextColumn       = -1
	DefaultWavSubdir        = "wavs"
	DefaultAudioExt         = ".wav"

	maxLineSize = 1 << 20
)

type (
	ParseOptions struct {
		// Root is the corpus directory audio paths are resolved against.
		// Empty means the directory containing the metadata file.
		Root       string
		Delimiter  string
		TextColumn int
		WavSubdir  string
		AudioExt   string
		// OnDiagnostic, when set, observes every diagnostic as it is produced.
		OnDiagnostic func(Diagnostic)
	}

	Parsed struct {
		Records     []MetadataRecord
		Diagnostics []Diagnostic
		Lines       int
		Blank       int
	}
)

func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		Delimiter:  DefaultDelimiter,
		TextColumn: DefaultTextColumn,
		WavSubdir:  DefaultWavSubdir,
		AudioExt:   DefaultAudioExt,
	}
}

// Column returns fields[idx], where a negative idx counts from the end.
func Column(fields []string, idx int) (string, bool) {
	if idx < 0 {
		idx += len(fields)
	}
	if idx < 0 || idx >= len(fields) {
		return "", false
	}
	return fields[idx], true
}

// ParseLine turns one metadata line into a candidate record. Blank lines
// yield neither a record nor a diagnostic.
func ParseLine(line string, lineNo int, opts ParseOptions) (MetadataRecord, *Diagnostic) {
	line = strings.TrimSpace(line)
	if line == "" {
		return MetadataRecord{}, nil
	}

	parts := strings.Split(line, opts.Delimiter)
	if len(parts) < 2 {
		return MetadataRecord{}, &Diagnostic{Kind: TooFewColumns, Line: lineNo, Content: line}
	}

	id := strings.TrimSpace(parts[0])
	if id == "" {
		return MetadataRecord{}, &Diagnostic{Kind: EmptyID, Line: lineNo, Content: line}
	}

	text, ok := Column(parts, opts.TextColumn)
	if !ok {
		return MetadataRecord{}, &Diagnostic{Kind: TextColumnOutOfRange, Line: lineNo, Content: line, Column: opts.TextColumn}
	}

	return MetadataRecord{
		Line:      lineNo,
		ID:        id,
		Text:      strings.TrimSpace(text),
		AudioPath: filepath.Join(opts.Root, opts.WavSubdir, id+opts.AudioExt),
	}, nil
}

// Parse reads the metadata file at path and returns candidate records in
// file order. Malformed lines are skipped and reported as diagnostics.
func Parse(path string, opts ParseOptions) (Parsed, error) {
	if opts.Delimiter == "" {
		return Parsed{}, fmt.Errorf("parsing %s: %w: empty delimiter", path, ErrConfiguration)
	}
	if opts.Root == "" {
		opts.Root = filepath.Dir(path)
	}

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Parsed{}, fmt.Errorf("%w: metadata file not found: %s", ErrConfiguration, path)
		}
		return Parsed{}, fmt.Errorf("%w: stat metadata file: %w", ErrConfiguration, err)
	}
	if fi.IsDir() {
		return Parsed{}, fmt.Errorf("%w: metadata path is a directory: %s", ErrConfiguration, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: opening metadata file: %w", ErrConfiguration, err)
	}
	defer f.Close()

	res, err := parseReader(f, opts)
	if err != nil {
		return res, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(res.Records) == 0 {
		return res, fmt.Errorf("%w: no valid rows found in metadata file %s", ErrEmptyDataset, path)
	}

	return res, nil
}

func parseReader(r io.Reader, opts ParseOptions) (Parsed, error) {
	var res Parsed

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		res.Lines++
		line := scanner.Text()
		if res.Lines == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			res.Blank++
			continue
		}

		rec, d := ParseLine(line, res.Lines, opts)
		if d != nil {
			res.Diagnostics = append(res.Diagnostics, *d)
			if opts.OnDiagnostic != nil {
				opts.OnDiagnostic(*d)
			}
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return res, err
	}

	return res, nil
}
