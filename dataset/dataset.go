// Package dataset assembles validated corpus records into an immutable,
// schema-typed table whose audio column references files lazily, and
// serializes it as parquet shards with a dataset card.
package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ljspush/b3"
	"ljspush/corpus"
)

const DefaultSamplingRate = 24000

var ErrInvalidSamplingRate = errors.New("invalid sampling rate")

type (
	// AudioRef points at an audio file without loading it.
	AudioRef struct {
		Path         string
		SamplingRate int
	}

	Row struct {
		ID    string
		Text  string
		Audio AudioRef
	}

	// Dataset is built once and never modified. Accessors return copies.
	Dataset struct {
		features Features
		rows     []Row
	}
)

// Build maps recs to rows in input order. Duplicated ids are kept.
func Build(recs []corpus.ValidatedRecord, samplingRate int) (*Dataset, error) {
	if samplingRate <= 0 {
		return nil, fmt.Errorf("building dataset: %w: %d", ErrInvalidSamplingRate, samplingRate)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("building dataset: %w", corpus.ErrEmptyDataset)
	}

	rows := make([]Row, len(recs))
	for i, r := range recs {
		rows[i] = Row{
			ID:   r.ID,
			Text: r.Text,
			Audio: AudioRef{
				Path:         r.AudioPath,
				SamplingRate: samplingRate,
			},
		}
	}

	return &Dataset{features: Schema(samplingRate), rows: rows}, nil
}

func (d *Dataset) Features() Features {
	return append(Features(nil), d.features...)
}

func (d *Dataset) Len() int {
	return len(d.rows)
}

func (d *Dataset) Row(i int) Row {
	return d.rows[i]
}

func (d *Dataset) Rows() []Row {
	return append([]Row(nil), d.rows...)
}

func (d *Dataset) SamplingRate() int {
	for _, f := range d.features {
		if f.Type == TypeAudio {
			return f.SamplingRate
		}
	}
	return 0
}

// Fingerprint is a blake3 digest of the schema and every row value.
func (d *Dataset) Fingerprint() string {
	fp := b3.NewFingerprint()
	for _, f := range d.features {
		fp.Field(f.Name)
		fp.Field(string(f.Type))
		fp.Field(strconv.Itoa(f.SamplingRate))
	}
	for _, r := range d.rows {
		fp.Field(r.ID)
		fp.Field(r.Text)
		fp.Field(r.Audio.Path)
		fp.Field(strconv.Itoa(r.Audio.SamplingRate))
	}
	return fp.Hex()
}

func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset({\n    features: ['%s'],\n    num_rows: %d\n})",
		strings.Join(d.features.Names(), "', '"), len(d.rows))
}
