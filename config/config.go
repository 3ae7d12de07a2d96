// Package config holds the run configuration: defaults, an optional YAML
// file, environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"ljspush/corpus"
	"ljspush/dataset"
	"ljspush/hub"
	"ljspush/publish"
)

const (
	StoreHub   = "hub"
	StoreS3    = "s3"
	StoreLocal = "local"

	EnvStore       = "LJSPUSH_STORE"
	EnvHubEndpoint = "LJSPUSH_HUB_ENDPOINT"
	EnvPushgateway = "LJSPUSH_PUSHGATEWAY"

	DefaultMetricsJob = "ljspush"
)

type (
	Config struct {
		RootDir          string `yaml:"rootDir"`
		MetadataFilename string `yaml:"metadataFilename"`
		WavSubdir        string `yaml:"wavSubdir"`
		AudioExt         string `yaml:"audioExt"`
		TextColumnIndex  int    `yaml:"textColumnIndex"`
		SamplingRate     int    `yaml:"samplingRate"`
		RepoID           string `yaml:"repoId"`
		Token            string `yaml:"token"`
		Private          bool   `yaml:"private"`

		Delimiter     string `yaml:"delimiter"`
		Split         string `yaml:"split"`
		MaxShardSize  int64  `yaml:"maxShardSize"`
		EmbedAudio    bool   `yaml:"embedAudio"`
		CommitMessage string `yaml:"commitMessage"`

		Normalizer Normalizer `yaml:"normalizer"`
		Store      string     `yaml:"store"`
		Hub        Hub        `yaml:"hub"`
		S3         S3         `yaml:"s3"`
		Local      Local      `yaml:"local"`
		Metrics    Metrics    `yaml:"metrics"`
	}

	Normalizer struct {
		Command string `yaml:"command"`
		Locale  string `yaml:"locale"`
	}

	Hub struct {
		Endpoint string `yaml:"endpoint"`
		Revision string `yaml:"revision"`
	}

	S3 struct {
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Prefix   string `yaml:"prefix"`
	}

	Local struct {
		Path string `yaml:"path"`
	}

	Metrics struct {
		Pushgateway string `yaml:"pushgateway"`
		Job         string `yaml:"job"`
	}
)

func Defaults() Config {
	return Config{
		MetadataFilename: corpus.DefaultMetadataFilename,
		WavSubdir:        corpus.DefaultWavSubdir,
		AudioExt:         corpus.DefaultAudioExt,
		TextColumnIndex:  corpus.DefaultTextColumn,
		SamplingRate:     dataset.DefaultSamplingRate,
		Delimiter:        corpus.DefaultDelimiter,
		Split:            dataset.DefaultSplit,
		MaxShardSize:     dataset.DefaultMaxShardSize,
		EmbedAudio:       true,
		Store:            StoreHub,
		Hub:              Hub{Endpoint: hub.DefaultEndpoint, Revision: hub.DefaultRevision},
		S3:               S3{Region: "us-east-1"},
		Metrics:          Metrics{Job: DefaultMetricsJob},
	}
}

// LoadFile reads path over the defaults. Unknown keys are rejected.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: config file %s not found", corpus.ErrConfiguration, path)
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", corpus.ErrConfiguration, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides store selection, hub endpoint and pushgateway from
// the environment. The token is resolved separately through TokenChain.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvStore); ok && v != "" {
		c.Store = v
	}
	if v, ok := lookup(EnvHubEndpoint); ok && v != "" {
		c.Hub.Endpoint = v
	}
	if v, ok := lookup(EnvPushgateway); ok && v != "" {
		c.Metrics.Pushgateway = v
	}
}

// ValidateCorpus checks the options needed to read a corpus.
func (c Config) ValidateCorpus() error {
	var problems []string
	if c.RootDir == "" {
		problems = append(problems, "rootDir is required")
	}
	if c.MetadataFilename == "" {
		problems = append(problems, "metadataFilename must not be empty")
	}
	if c.Delimiter == "" {
		problems = append(problems, "delimiter must not be empty")
	}
	if c.SamplingRate <= 0 {
		problems = append(problems, fmt.Sprintf("samplingRate must be positive, got %d", c.SamplingRate))
	}
	return joinProblems(problems)
}

// Validate checks everything a publishing run needs.
func (c Config) Validate() error {
	if err := c.ValidateCorpus(); err != nil {
		return err
	}

	var problems []string
	if c.RepoID == "" {
		problems = append(problems, "repoId is required")
	} else if err := publish.ValidateRepoID(c.RepoID); err != nil {
		problems = append(problems, fmt.Sprintf("repoId %q is not a valid [namespace/]name", c.RepoID))
	}
	if c.Split == "" || strings.ContainsAny(c.Split, "/-*") {
		problems = append(problems, fmt.Sprintf("split %q must be a plain name", c.Split))
	}
	if c.MaxShardSize <= 0 {
		problems = append(problems, "maxShardSize must be positive")
	}

	switch c.Store {
	case StoreHub:
		if c.Hub.Endpoint == "" {
			problems = append(problems, "hub.endpoint must not be empty")
		}
	case StoreS3:
		if c.S3.Bucket == "" {
			problems = append(problems, "s3.bucket is required for the s3 store")
		}
	case StoreLocal:
		if c.Local.Path == "" {
			problems = append(problems, "local.path is required for the local store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store %q (want hub, s3 or local)", c.Store))
	}
	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", corpus.ErrConfiguration, strings.Join(problems, "; "))
}

func (c Config) MetadataPath() string {
	return filepath.Join(c.RootDir, c.MetadataFilename)
}

func (c Config) ParseOptions() corpus.ParseOptions {
	return corpus.ParseOptions{
		Root:       c.RootDir,
		Delimiter:  c.Delimiter,
		TextColumn: c.TextColumnIndex,
		WavSubdir:  c.WavSubdir,
		AudioExt:   c.AudioExt,
	}
}

func (c Config) ShardOptions() dataset.ShardOptions {
	return dataset.ShardOptions{
		Split:        c.Split,
		MaxShardSize: c.MaxShardSize,
		EmbedAudio:   c.EmbedAudio,
	}
}

func (c Config) TokenChain(lookup func(string) (string, bool)) publish.TokenChain {
	return publish.TokenFromEnv(c.Token, lookup)
}
