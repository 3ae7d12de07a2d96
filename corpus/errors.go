package corpus

import "errors"

var (
	// ErrConfiguration is returned when the corpus cannot be read at all,
	// e.g. the metadata file is absent or the parse options are unusable.
	ErrConfiguration = errors.New("configuration error")
	// ErrEmptyDataset is returned when no usable record survives parsing and validation.
	ErrEmptyDataset = errors.New("empty dataset")
	// ErrMalformedRecord and ErrMissingAudio classify per-line diagnostics.
	// They never abort a run.
	ErrMalformedRecord = errors.New("malformed record")
	ErrMissingAudio    = errors.New("missing audio")
	ErrNormalization   = errors.New("text normalization failed")
)
