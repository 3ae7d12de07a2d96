package corpus

import "os"

type Validated struct {
	Records     []ValidatedRecord
	Diagnostics []Diagnostic
}

// Validate checks that rec.AudioPath is an existing regular file.
// It never fails; a missing file is reported through the returned diagnostic.
func Validate(rec MetadataRecord) (ValidatedRecord, *Diagnostic) {
	fi, err := os.Stat(rec.AudioPath)
	if err != nil || !fi.Mode().IsRegular() {
		return ValidatedRecord{}, &Diagnostic{Kind: AudioNotFound, Line: rec.Line, Path: rec.AudioPath}
	}
	return ValidatedRecord(rec), nil
}

// ValidateAll filters recs down to those with existing audio, preserving order.
func ValidateAll(recs []MetadataRecord, onDiagnostic func(Diagnostic)) Validated {
	var res Validated
	for _, rec := range recs {
		v, d := Validate(rec)
		if d != nil {
			res.Diagnostics = append(res.Diagnostics, *d)
			if onDiagnostic != nil {
				onDiagnostic(*d)
			}
			continue
		}
		res.Records = append(res.Records, v)
	}
	return res
}

// Summarize combines a parse and a validation pass into run statistics.
func Summarize(p Parsed, v Validated) Stats {
	malformed, _ := countKinds(p.Diagnostics)
	_, missing := countKinds(v.Diagnostics)
	return Stats{
		Lines:        p.Lines,
		Blank:        p.Blank,
		Malformed:    malformed,
		MissingAudio: missing,
		Valid:        len(v.Records),
	}
}

type Duplicate struct {
	ID    string
	Lines []int
}

// DuplicateIDs lists ids that occur more than once, in order of first occurrence.
// Duplicates are kept in the dataset; this is informational only.
func DuplicateIDs(recs []ValidatedRecord) []Duplicate {
	lines := make(map[string][]int, len(recs))
	var order []string
	for _, r := range recs {
		if _, seen := lines[r.ID]; !seen {
			order = append(order, r.ID)
		}
		lines[r.ID] = append(lines[r.ID], r.Line)
	}

	var dups []Duplicate
	for _, id := range order {
		if len(lines[id]) > 1 {
			dups = append(dups, Duplicate{ID: id, Lines: lines[id]})
		}
	}
	return dups
}
