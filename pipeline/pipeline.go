// Package pipeline runs a corpus through parsing, validation, assembly and
// publishing, and owns the failure policy between those stages.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"ljspush/corpus"
	"ljspush/dataset"
	"ljspush/metrics"
	"ljspush/publish"
)

type State string

const (
	Idle       State = "idle"
	Parsing    State = "parsing"
	Validating State = "validating"
	Assembling State = "assembling"
	Publishing State = "publishing"
	Done       State = "done"
	Failed     State = "failed"
)

func (s State) Terminal() bool {
	return s == Done || s == Failed
}

type (
	// Reporter receives progress lines and diagnostics.
	Reporter interface {
		Infof(format string, args ...any)
		Warnf(format string, args ...any)
	}

	// Publisher is the part of *publish.Publisher the pipeline drives.
	Publisher interface {
		EnsureRepo(ctx context.Context, repoID string, vis publish.Visibility, token string) (publish.RepoInfo, error)
		Publish(ctx context.Context, ds *dataset.Dataset, repoID string, token string, opts publish.Options) (publish.Result, error)
	}

	Deps struct {
		Publisher  Publisher
		Normalizer corpus.TextNormalizer
		Metrics    *metrics.Metrics
		Reporter   Reporter
		// OnState observes every transition, including the one into Failed.
		OnState func(from, to State)
	}

	Options struct {
		MetadataPath string
		Parse        corpus.ParseOptions
		SamplingRate int
		RepoID       string
		Visibility   publish.Visibility
		Token        publish.TokenChain
		// Locale is passed to the normalizer.
		Locale  string
		Publish publish.Options
		// DryRun stops after assembly. No credential is needed.
		DryRun bool
	}

	Result struct {
		State       State
		Stats       corpus.Stats
		Diagnostics []corpus.Diagnostic
		Duplicates  []corpus.Duplicate
		Dataset     *dataset.Dataset
		TokenSource string
		Repo        publish.RepoInfo
		Published   publish.Result
	}

	runner struct {
		deps  Deps
		opts  Options
		state State
	}
)

// Run executes one pipeline run. A failed run returns the error that
// stopped it together with everything gathered up to that point.
func Run(ctx context.Context, deps Deps, opts Options) (Result, error) {
	if deps.Reporter == nil {
		deps.Reporter = discard{}
	}
	r := &runner{deps: deps, opts: opts, state: Idle}

	var res Result
	err := r.run(ctx, &res)
	if err != nil {
		r.transition(Failed)
		deps.Metrics.RunFinished(string(Failed))
	} else {
		deps.Metrics.RunFinished(string(r.state))
	}
	res.State = r.state
	return res, err
}

func (r *runner) run(ctx context.Context, res *Result) error {
	diag := func(d corpus.Diagnostic) {
		r.deps.Reporter.Warnf("%s", d)
	}

	var parsed corpus.Parsed
	err := r.stage(Parsing, func() error {
		r.deps.Reporter.Infof("Loading metadata...")
		opts := r.opts.Parse
		opts.OnDiagnostic = diag

		var err error
		parsed, err = corpus.Parse(r.opts.MetadataPath, opts)
		res.Diagnostics = append(res.Diagnostics, parsed.Diagnostics...)
		if err != nil {
			res.Stats = corpus.Summarize(parsed, corpus.Validated{})
			r.deps.Metrics.ObserveStats(res.Stats)
		}
		return err
	})
	if err != nil {
		return err
	}

	var validated corpus.Validated
	err = r.stage(Validating, func() error {
		validated = corpus.ValidateAll(parsed.Records, diag)
		res.Diagnostics = append(res.Diagnostics, validated.Diagnostics...)
		res.Stats = corpus.Summarize(parsed, validated)
		r.deps.Metrics.ObserveStats(res.Stats)

		if len(validated.Records) == 0 {
			return fmt.Errorf("%w: no valid rows found in %s (%d malformed, %d missing audio)",
				corpus.ErrEmptyDataset, r.opts.MetadataPath, res.Stats.Malformed, res.Stats.MissingAudio)
		}
		r.deps.Reporter.Infof("Found %d valid examples", len(validated.Records))
		res.Duplicates = corpus.DuplicateIDs(validated.Records)
		return nil
	})
	if err != nil {
		return err
	}

	err = r.stage(Assembling, func() error {
		recs := validated.Records
		if r.deps.Normalizer != nil {
			r.deps.Reporter.Infof("Normalizing %d transcripts...", len(recs))
			var err error
			if recs, err = corpus.NormalizeAll(ctx, recs, r.deps.Normalizer, r.opts.Locale); err != nil {
				return err
			}
		}

		r.deps.Reporter.Infof("Building HF audio dataset...")
		ds, err := dataset.Build(recs, r.opts.SamplingRate)
		if err != nil {
			return err
		}
		res.Dataset = ds
		r.deps.Metrics.SetRows(ds.Len())
		r.deps.Reporter.Infof("%s", ds)
		return nil
	})
	if err != nil || r.opts.DryRun {
		return err
	}

	return r.stage(Publishing, func() error {
		res.TokenSource = r.opts.Token.Source()
		token, err := r.opts.Token.Resolve()
		if err != nil {
			return err
		}
		if r.deps.Publisher == nil {
			return fmt.Errorf("%w: no dataset store configured", corpus.ErrConfiguration)
		}

		r.deps.Reporter.Infof("Pushing dataset to hub as %s ...", r.opts.RepoID)
		res.Repo, err = r.deps.Publisher.EnsureRepo(ctx, r.opts.RepoID, r.opts.Visibility, token)
		if err != nil {
			return err
		}
		if !res.Repo.Created && res.Repo.Visibility != "" && r.opts.Visibility != "" && res.Repo.Visibility != r.opts.Visibility {
			r.deps.Reporter.Warnf("repository %s already exists as %s; requested %s is ignored",
				r.opts.RepoID, res.Repo.Visibility, r.opts.Visibility)
		}

		res.Published, err = r.deps.Publisher.Publish(ctx, res.Dataset, r.opts.RepoID, token, r.opts.Publish)
		if err != nil {
			return err
		}
		r.deps.Reporter.Infof("Done. Dataset uploaded to %s (commit %s).", r.opts.RepoID, res.Published.Commit.ID)
		return nil
	})
}

// stage enters s, runs fn and records its duration. A successful
// Publishing stage, or Assembling on a dry run, ends in Done.
func (r *runner) stage(s State, fn func() error) error {
	r.transition(s)
	start := time.Now()
	err := fn()
	r.deps.Metrics.ObserveStage(string(s), time.Since(start))
	if err != nil {
		return err
	}
	if s == Publishing || (s == Assembling && r.opts.DryRun) {
		r.transition(Done)
	}
	return nil
}

func (r *runner) transition(to State) {
	if r.state == to || r.state.Terminal() {
		return
	}
	from := r.state
	r.state = to
	if r.deps.OnState != nil {
		r.deps.OnState(from, to)
	}
}

type discard struct{}

func (discard) Infof(string, ...any) {}
func (discard) Warnf(string, ...any) {}
