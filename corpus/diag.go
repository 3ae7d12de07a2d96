package corpus

import "fmt"

type DiagnosticKind string

const (
	TooFewColumns        DiagnosticKind = "too_few_columns"
	TextColumnOutOfRange DiagnosticKind = "text_column_out_of_range"
	EmptyID              DiagnosticKind = "empty_id"
	AudioNotFound        DiagnosticKind = "audio_not_found"
)

// Diagnostic describes a line or record that was skipped.
type Diagnostic struct {
	Kind DiagnosticKind
	Line int
	// Content is the trimmed metadata line for parse diagnostics.
	Content string
	// Path is the audio path for AudioNotFound.
	Path string
	// Column is the configured text column for TextColumnOutOfRange.
	Column int
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case TooFewColumns:
		return fmt.Sprintf("malformed metadata line %d (too few columns): %s", d.Line, d.Content)
	case TextColumnOutOfRange:
		return fmt.Sprintf("text column index %d invalid for line %d: %s", d.Column, d.Line, d.Content)
	case EmptyID:
		return fmt.Sprintf("malformed metadata line %d (empty id): %s", d.Line, d.Content)
	case AudioNotFound:
		return fmt.Sprintf("audio file not found, skipping: %s", d.Path)
	default:
		return fmt.Sprintf("line %d: %s", d.Line, d.Kind)
	}
}

// Err classifies the diagnostic as ErrMalformedRecord or ErrMissingAudio.
func (d Diagnostic) Err() error {
	if d.Kind == AudioNotFound {
		return fmt.Errorf("%w: %s", ErrMissingAudio, d)
	}
	return fmt.Errorf("%w: %s", ErrMalformedRecord, d)
}

// Malformed reports whether the diagnostic was raised while parsing a line.
func (d Diagnostic) Malformed() bool {
	return d.Kind != AudioNotFound
}

func countKinds(diags []Diagnostic) (malformed, missing int) {
	for _, d := range diags {
		if d.Malformed() {
			malformed++
		} else {
			missing++
		}
	}
	return malformed, missing
}
