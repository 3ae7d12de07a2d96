package dataset

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

type (
	CardOptions struct {
		RepoID     string
		PrettyName string
		Split      string
		// NumBytes is the total size of the written shards.
		NumBytes int64
		Summary  Summary
	}

	cardMeta struct {
		PrettyName     string       `yaml:"pretty_name,omitempty"`
		TaskCategories []string     `yaml:"task_categories"`
		DatasetInfo    cardInfo     `yaml:"dataset_info"`
		Configs        []cardConfig `yaml:"configs"`
	}

	cardInfo struct {
		Features     []cardFeature `yaml:"features"`
		Splits       []cardSplit   `yaml:"splits"`
		DownloadSize int64         `yaml:"download_size"`
		DatasetSize  int64         `yaml:"dataset_size"`
	}

	cardFeature struct {
		Name  string `yaml:"name"`
		Dtype any    `yaml:"dtype"`
	}

	cardSplit struct {
		Name        string `yaml:"name"`
		NumBytes    int64  `yaml:"num_bytes"`
		NumExamples int    `yaml:"num_examples"`
	}

	cardConfig struct {
		ConfigName string          `yaml:"config_name"`
		DataFiles  []cardDataFiles `yaml:"data_files"`
	}

	cardDataFiles struct {
		Split string `yaml:"split"`
		Path  string `yaml:"path"`
	}
)

// Card renders README.md: YAML front matter the hub reads for the dataset
// viewer, followed by a short human-readable description.
func Card(ds *Dataset, opts CardOptions) ([]byte, error) {
	if opts.Split == "" {
		opts.Split = DefaultSplit
	}
	if opts.PrettyName == "" {
		opts.PrettyName = opts.RepoID
		if i := strings.LastIndex(opts.RepoID, "/"); i >= 0 {
			opts.PrettyName = opts.RepoID[i+1:]
		}
	}

	meta := cardMeta{
		PrettyName:     opts.PrettyName,
		TaskCategories: []string{"text-to-speech", "automatic-speech-recognition"},
		DatasetInfo: cardInfo{
			Splits:       []cardSplit{{Name: opts.Split, NumBytes: opts.NumBytes, NumExamples: ds.Len()}},
			DownloadSize: opts.NumBytes,
			DatasetSize:  opts.NumBytes,
		},
		Configs: []cardConfig{{
			ConfigName: "default",
			DataFiles:  []cardDataFiles{{Split: opts.Split, Path: ShardPattern(opts.Split)}},
		}},
	}
	for _, f := range ds.features {
		cf := cardFeature{Name: f.Name, Dtype: string(f.Type)}
		if f.Type == TypeAudio {
			cf.Dtype = map[string]any{"audio": map[string]int{"sampling_rate": f.SamplingRate}}
		}
		meta.DatasetInfo.Features = append(meta.DatasetInfo.Features, cf)
	}

	front, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding dataset card: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	fmt.Fprintf(&buf, "# %s\n\n", opts.PrettyName)
	buf.WriteString("Speech dataset converted from an LJSpeech-style corpus (`<id>|<text>` metadata plus audio files).\n\n")
	fmt.Fprintf(&buf, "- Columns: `%s`\n", strings.Join(ds.features.Names(), "`, `"))
	fmt.Fprintf(&buf, "- Split `%s`: %s\n", opts.Split, opts.Summary)
	fmt.Fprintf(&buf, "- Fingerprint: `%s`\n", ds.Fingerprint())
	buf.WriteString("\nThe declared sampling rate is metadata only; audio is stored at its original rate.\n")
	return buf.Bytes(), nil
}
