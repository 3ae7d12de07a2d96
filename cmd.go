package main

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ljspush/config"
	"ljspush/dataset"
	"ljspush/metrics"
	"ljspush/normalizer"
	"ljspush/pipeline"
	"ljspush/publish"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ljspush",
		Short: "Publish LJSpeech-style corpora as audio datasets",
		Long: `ljspush reads an LJSpeech-style corpus (a delimited metadata file plus a
directory of audio clips), drops malformed lines and clips that do not exist,
assembles an audio dataset and uploads it as parquet shards with a dataset card.

Configuration is read from --config (YAML), then the environment
(HF_TOKEN, LJSPUSH_STORE, LJSPUSH_HUB_ENDPOINT, LJSPUSH_PUSHGATEWAY),
then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPushCmd(), newInspectCmd())
	return root
}

// overlay binds flags to a scratch Config and copies the flags the user
// set onto the loaded configuration.
type overlay struct {
	flags  config.Config
	file   string
	setter []func(cmd *cobra.Command, dst *config.Config)
}

func newOverlay() *overlay {
	return &overlay{flags: config.Defaults()}
}

func (o *overlay) strVar(cmd *cobra.Command, name, usage string, field func(*config.Config) *string) {
	cmd.Flags().StringVar(field(&o.flags), name, *field(&o.flags), usage)
	o.setter = append(o.setter, func(cmd *cobra.Command, dst *config.Config) {
		if cmd.Flags().Changed(name) {
			*field(dst) = *field(&o.flags)
		}
	})
}

func (o *overlay) intVar(cmd *cobra.Command, name, usage string, field func(*config.Config) *int) {
	cmd.Flags().IntVar(field(&o.flags), name, *field(&o.flags), usage)
	o.setter = append(o.setter, func(cmd *cobra.Command, dst *config.Config) {
		if cmd.Flags().Changed(name) {
			*field(dst) = *field(&o.flags)
		}
	})
}

func (o *overlay) int64Var(cmd *cobra.Command, name, usage string, field func(*config.Config) *int64) {
	cmd.Flags().Int64Var(field(&o.flags), name, *field(&o.flags), usage)
	o.setter = append(o.setter, func(cmd *cobra.Command, dst *config.Config) {
		if cmd.Flags().Changed(name) {
			*field(dst) = *field(&o.flags)
		}
	})
}

func (o *overlay) boolVar(cmd *cobra.Command, name, usage string, field func(*config.Config) *bool) {
	cmd.Flags().BoolVar(field(&o.flags), name, *field(&o.flags), usage)
	o.setter = append(o.setter, func(cmd *cobra.Command, dst *config.Config) {
		if cmd.Flags().Changed(name) {
			*field(dst) = *field(&o.flags)
		}
	})
}

func (o *overlay) corpusFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.file, "config", "", "YAML configuration file")
	o.strVar(cmd, "root-dir", "corpus directory (required)", func(c *config.Config) *string { return &c.RootDir })
	o.strVar(cmd, "metadata-filename", "metadata file inside the root dir", func(c *config.Config) *string { return &c.MetadataFilename })
	o.strVar(cmd, "wav-subdir", "audio directory inside the root dir", func(c *config.Config) *string { return &c.WavSubdir })
	o.strVar(cmd, "audio-ext", "audio file extension", func(c *config.Config) *string { return &c.AudioExt })
	o.strVar(cmd, "delimiter", "metadata field delimiter", func(c *config.Config) *string { return &c.Delimiter })
	o.intVar(cmd, "text-column-index", "transcript column; negative counts from the end", func(c *config.Config) *int { return &c.TextColumnIndex })
	o.intVar(cmd, "sampling-rate", "declared sampling rate of the audio", func(c *config.Config) *int { return &c.SamplingRate })
	o.strVar(cmd, "normalizer", "command that normalizes one transcript from stdin to stdout", func(c *config.Config) *string { return &c.Normalizer.Command })
	o.strVar(cmd, "locale", "locale passed to the normalizer", func(c *config.Config) *string { return &c.Normalizer.Locale })
}

func (o *overlay) publishFlags(cmd *cobra.Command) {
	o.strVar(cmd, "repo", "target repository id, [namespace/]name (required)", func(c *config.Config) *string { return &c.RepoID })
	o.strVar(cmd, "token", "access token; falls back to "+publish.EnvToken, func(c *config.Config) *string { return &c.Token })
	o.boolVar(cmd, "private", "create the repository as private", func(c *config.Config) *bool { return &c.Private })
	o.strVar(cmd, "split", "dataset split name", func(c *config.Config) *string { return &c.Split })
	o.int64Var(cmd, "max-shard-size", "maximum parquet shard size in bytes", func(c *config.Config) *int64 { return &c.MaxShardSize })
	o.boolVar(cmd, "embed-audio", "embed audio bytes in the shards instead of uploading them separately", func(c *config.Config) *bool { return &c.EmbedAudio })
	o.strVar(cmd, "commit-message", "commit message", func(c *config.Config) *string { return &c.CommitMessage })
	o.strVar(cmd, "store", "dataset store: hub, s3 or local", func(c *config.Config) *string { return &c.Store })
	o.strVar(cmd, "hub-endpoint", "hub base URL", func(c *config.Config) *string { return &c.Hub.Endpoint })
	o.strVar(cmd, "s3-bucket", "bucket for the s3 store", func(c *config.Config) *string { return &c.S3.Bucket })
	o.strVar(cmd, "s3-region", "region for the s3 store", func(c *config.Config) *string { return &c.S3.Region })
	o.strVar(cmd, "s3-endpoint", "custom endpoint for S3-compatible services", func(c *config.Config) *string { return &c.S3.Endpoint })
	o.strVar(cmd, "s3-prefix", "key prefix for the s3 store", func(c *config.Config) *string { return &c.S3.Prefix })
	o.strVar(cmd, "local-path", "directory of the local store", func(c *config.Config) *string { return &c.Local.Path })
	o.strVar(cmd, "pushgateway", "Prometheus Pushgateway URL", func(c *config.Config) *string { return &c.Metrics.Pushgateway })
}

// load resolves the configuration: defaults, file, environment, flags.
func (o *overlay) load(cmd *cobra.Command, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Defaults()
	if o.file != "" {
		var err error
		if cfg, err = config.LoadFile(o.file); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv(lookup)
	for _, set := range o.setter {
		set(cmd, &cfg)
	}
	return cfg, nil
}

func newPushCmd() *cobra.Command {
	o := newOverlay()
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Validate a corpus and upload it as a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, nil)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			rep := newReporter(cmd.OutOrStdout())
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			deps, err := baseDeps(cfg, rep)
			if err != nil {
				return err
			}
			deps.Publisher = publish.NewPublisher(store)

			opts := runOptions(cfg)
			_, runErr := pipeline.Run(ctx, deps, opts)
			if err := deps.Metrics.Push(ctx, cfg.Metrics.Pushgateway, cfg.Metrics.Job); err != nil {
				rep.Warnf("%v", err)
			}
			return runErr
		},
	}
	o.corpusFlags(cmd)
	o.publishFlags(cmd)
	return cmd
}

func newInspectCmd() *cobra.Command {
	o := newOverlay()
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Parse and validate a corpus without uploading anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, nil)
			if err != nil {
				return err
			}
			if err := cfg.ValidateCorpus(); err != nil {
				return err
			}

			rep := newReporter(cmd.OutOrStdout())
			deps, err := baseDeps(cfg, rep)
			if err != nil {
				return err
			}
			opts := runOptions(cfg)
			opts.DryRun = true

			res, err := pipeline.Run(cmd.Context(), deps, opts)
			if err != nil {
				return err
			}
			return report(rep, res)
		},
	}
	o.corpusFlags(cmd)
	return cmd
}

func baseDeps(cfg config.Config, rep *reporter) (pipeline.Deps, error) {
	deps := pipeline.Deps{
		Metrics:  metrics.New(),
		Reporter: rep,
	}
	if cfg.Normalizer.Command != "" {
		n, err := normalizer.New(cfg.Normalizer.Command, log.New(rep.Writer(), "[normalizer] ", 0))
		if err != nil {
			return deps, err
		}
		deps.Normalizer = n
	}
	return deps, nil
}

func runOptions(cfg config.Config) pipeline.Options {
	return pipeline.Options{
		MetadataPath: cfg.MetadataPath(),
		Parse:        cfg.ParseOptions(),
		SamplingRate: cfg.SamplingRate,
		RepoID:       cfg.RepoID,
		Visibility:   publish.VisibilityOf(cfg.Private),
		Token:        cfg.TokenChain(nil),
		Locale:       cfg.Normalizer.Locale,
		Publish: publish.Options{
			Shards:        cfg.ShardOptions(),
			CommitMessage: cfg.CommitMessage,
		},
	}
}

// report prints what inspect found.
func report(rep *reporter, res pipeline.Result) error {
	s := res.Stats
	rep.Infof("%d lines: %d valid, %d blank, %d malformed, %d missing audio",
		s.Lines, s.Valid, s.Blank, s.Malformed, s.MissingAudio)
	for _, d := range res.Duplicates {
		rep.Warnf("duplicate id %s on lines %v (all rows are kept)", d.ID, d.Lines)
	}

	summary, err := dataset.Summarize(res.Dataset)
	if err != nil {
		return err
	}
	rep.Infof("%s", summary)
	rep.Infof("Fingerprint %s", res.Dataset.Fingerprint())
	return nil
}
