package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type FeatureType string

const (
	TypeString FeatureType = "string"
	TypeAudio  FeatureType = "audio"
)

type (
	Feature struct {
		Name string
		Type FeatureType
		// SamplingRate is set for TypeAudio only. It is declared metadata
		// and is never checked against the audio files.
		SamplingRate int
	}

	// Features is an ordered column list.
	Features []Feature
)

// Schema returns the fixed id/text/audio column layout.
func Schema(samplingRate int) Features {
	return Features{
		{Name: "id", Type: TypeString},
		{Name: "text", Type: TypeString},
		{Name: "audio", Type: TypeAudio, SamplingRate: samplingRate},
	}
}

func (fs Features) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

// MarshalJSON encodes the features in the layout the datasets library
// reads back from parquet metadata, keeping column order.
func (fs Features) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		switch f.Type {
		case TypeString:
			buf.WriteString(`{"dtype":"string","_type":"Value"}`)
		case TypeAudio:
			fmt.Fprintf(&buf, `{"sampling_rate":%d,"_type":"Audio"}`, f.SamplingRate)
		default:
			return nil, fmt.Errorf("feature %s: unknown type %q", f.Name, f.Type)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// parquetMetadata is the value stored under the "huggingface" key of each shard.
func (fs Features) parquetMetadata() (string, error) {
	feats, err := fs.MarshalJSON()
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(map[string]any{
		"info": map[string]json.RawMessage{"features": feats},
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
