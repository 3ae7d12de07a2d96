package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ljspush/corpus"
	"ljspush/dataset"
	"ljspush/localstore"
	"ljspush/metrics"
	"ljspush/publish"
)

type recorder struct {
	lines []string
}

func (r *recorder) Infof(format string, args ...any) {
	r.lines = append(r.lines, "INFO "+fmt.Sprintf(format, args...))
}

func (r *recorder) Warnf(format string, args ...any) {
	r.lines = append(r.lines, "WARN "+fmt.Sprintf(format, args...))
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, l := range r.lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	ensureCalls  int
	publishCalls int
	existing     publish.Visibility
	err          error
	rows         int
}

func (f *fakePublisher) EnsureRepo(_ context.Context, repoID string, vis publish.Visibility, _ string) (publish.RepoInfo, error) {
	f.ensureCalls++
	if f.err != nil {
		return publish.RepoInfo{}, f.err
	}
	if f.existing != "" {
		return publish.RepoInfo{RepoID: repoID, Visibility: f.existing}, nil
	}
	return publish.RepoInfo{RepoID: repoID, Created: true, Visibility: vis}, nil
}

func (f *fakePublisher) Publish(_ context.Context, ds *dataset.Dataset, _ string, _ string, _ publish.Options) (publish.Result, error) {
	f.publishCalls++
	f.rows = ds.Len()
	return publish.Result{Commit: publish.CommitInfo{ID: "c0ffee"}}, nil
}

type upper struct{ fail bool }

func (u upper) Normalize(_ context.Context, text, locale string) (string, error) {
	if u.fail {
		return "", errors.New("normalizer exited 1")
	}
	return strings.ToUpper(text) + "@" + locale, nil
}

// writeCorpus lays out metadata.csv and a wav file for every id in wavs.
func writeCorpus(t *testing.T, metadata string, wavs ...string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "wavs"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, id := range wavs {
		if err := os.WriteFile(filepath.Join(root, "wavs", id+".wav"), []byte("RIFF"+id), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	p := filepath.Join(root, "metadata.csv")
	if err := os.WriteFile(p, []byte(metadata), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func options(path string, token string) Options {
	return Options{
		MetadataPath: path,
		Parse:        corpus.DefaultParseOptions(),
		SamplingRate: dataset.DefaultSamplingRate,
		RepoID:       "org/ljspeech",
		Visibility:   publish.Public,
		Token:        publish.TokenChain{Explicit: token},
		Locale:       "en_US",
		Publish:      publish.DefaultOptions(),
	}
}

const mixed = `LJ001-0001|Mary had a little lamb.|MARY HAD A LITTLE LAMB.
LJ002-0001|broken

onlyonefield
LJ003-0001|Its fleece was white.
`

func TestRunPublishes(t *testing.T) {
	path := writeCorpus(t, mixed, "LJ001-0001", "LJ003-0001")
	pub := &fakePublisher{}
	rep := &recorder{}
	var transitions []string

	res, err := Run(context.Background(), Deps{
		Publisher: pub,
		Reporter:  rep,
		OnState:   func(from, to State) { transitions = append(transitions, string(from)+">"+string(to)) },
	}, options(path, "hf_x"))
	if err != nil {
		t.Fatal(err)
	}

	want := "idle>parsing parsing>validating validating>assembling assembling>publishing publishing>done"
	if got := strings.Join(transitions, " "); got != want {
		t.Errorf("transitions = %s", got)
	}
	if res.State != Done {
		t.Errorf("state = %s", res.State)
	}
	if res.Stats != (corpus.Stats{Lines: 5, Blank: 1, Malformed: 1, MissingAudio: 1, Valid: 2}) {
		t.Errorf("stats = %+v", res.Stats)
	}
	if pub.ensureCalls != 1 || pub.publishCalls != 1 || pub.rows != 2 {
		t.Errorf("publisher = %+v", pub)
	}
	if row := res.Dataset.Row(0); row.ID != "LJ001-0001" || row.Text != "MARY HAD A LITTLE LAMB." {
		t.Errorf("row 0 = %+v", row)
	}
	if res.TokenSource != "explicit" {
		t.Errorf("token source = %q", res.TokenSource)
	}

	if n := rep.count("WARN "); n != 2 {
		t.Errorf("warnings = %d, want 2: %v", n, rep.lines)
	}
	last := rep.lines[len(rep.lines)-1]
	if last != "INFO Done. Dataset uploaded to org/ljspeech (commit c0ffee)." {
		t.Errorf("last line = %q", last)
	}
}

func TestRunEmptyDataset(t *testing.T) {
	path := writeCorpus(t, "onlyonefield\nLJ002-0001|broken\n")
	pub := &fakePublisher{}
	var last State

	res, err := Run(context.Background(), Deps{
		Publisher: pub,
		OnState:   func(_, to State) { last = to },
	}, options(path, "hf_x"))
	if !errors.Is(err, corpus.ErrEmptyDataset) {
		t.Fatalf("err = %v, want ErrEmptyDataset", err)
	}
	if res.State != Failed || last != Failed {
		t.Errorf("state = %s, last = %s", res.State, last)
	}
	if res.Dataset != nil {
		t.Error("dataset assembled for an empty corpus")
	}
	if pub.ensureCalls+pub.publishCalls != 0 {
		t.Error("publisher called")
	}
	if res.Stats.Malformed != 1 || res.Stats.MissingAudio != 1 || len(res.Diagnostics) != 2 {
		t.Errorf("stats = %+v, diagnostics = %v", res.Stats, res.Diagnostics)
	}
}

func TestRunOnlyMalformed(t *testing.T) {
	path := writeCorpus(t, "a\nb\n")
	res, err := Run(context.Background(), Deps{Publisher: &fakePublisher{}}, options(path, "hf_x"))
	if !errors.Is(err, corpus.ErrEmptyDataset) {
		t.Fatalf("err = %v", err)
	}
	if res.Stats.Malformed != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestRunMissingMetadata(t *testing.T) {
	var transitions []string
	_, err := Run(context.Background(), Deps{
		OnState: func(from, to State) { transitions = append(transitions, string(to)) },
	}, options(filepath.Join(t.TempDir(), "metadata.csv"), "hf_x"))
	if !errors.Is(err, corpus.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if got := strings.Join(transitions, ","); got != "parsing,failed" {
		t.Errorf("transitions = %s", got)
	}
}

func TestRunWithoutToken(t *testing.T) {
	path := writeCorpus(t, mixed, "LJ001-0001")
	pub := &fakePublisher{}

	opts := options(path, "")
	opts.Token = publish.TokenFromEnv("", func(string) (string, bool) { return "", false })
	res, err := Run(context.Background(), Deps{Publisher: pub}, opts)
	if !errors.Is(err, publish.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if pub.ensureCalls+pub.publishCalls != 0 {
		t.Error("store reached without a credential")
	}
	if res.State != Failed || res.TokenSource != "none" {
		t.Errorf("res = %+v", res)
	}
}

func TestRunTransportFailure(t *testing.T) {
	path := writeCorpus(t, mixed, "LJ001-0001")
	pub := &fakePublisher{err: &publish.TransportError{Op: "create repo", RepoID: "org/ljspeech", StatusCode: 500, Err: errors.New("boom")}}

	res, err := Run(context.Background(), Deps{Publisher: pub}, options(path, "hf_x"))
	if !errors.Is(err, publish.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if pub.publishCalls != 0 || res.State != Failed {
		t.Errorf("publishCalls = %d, state = %s", pub.publishCalls, res.State)
	}
}

func TestRunExistingRepoVisibility(t *testing.T) {
	path := writeCorpus(t, mixed, "LJ001-0001")
	rep := &recorder{}
	opts := options(path, "hf_x")
	opts.Visibility = publish.Private

	if _, err := Run(context.Background(), Deps{Publisher: &fakePublisher{existing: publish.Public}, Reporter: rep}, opts); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, l := range rep.lines {
		if strings.Contains(l, "already exists as public") {
			found = true
		}
	}
	if !found {
		t.Errorf("no visibility warning in %v", rep.lines)
	}
}

func TestRunDryRun(t *testing.T) {
	path := writeCorpus(t, mixed+"LJ001-0001|again\n", "LJ001-0001", "LJ003-0001")
	pub := &fakePublisher{}
	opts := options(path, "")
	opts.DryRun = true

	res, err := Run(context.Background(), Deps{Publisher: pub}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Done || res.Dataset.Len() != 3 {
		t.Errorf("state = %s, rows = %d", res.State, res.Dataset.Len())
	}
	if pub.ensureCalls+pub.publishCalls != 0 {
		t.Error("dry run published")
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0].ID != "LJ001-0001" {
		t.Errorf("duplicates = %+v", res.Duplicates)
	}
}

func TestRunNormalizes(t *testing.T) {
	path := writeCorpus(t, "LJ003-0001|Its fleece was white.\n", "LJ003-0001")
	opts := options(path, "")
	opts.DryRun = true

	res, err := Run(context.Background(), Deps{Normalizer: upper{}}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Dataset.Row(0).Text; got != "ITS FLEECE WAS WHITE.@en_US" {
		t.Errorf("text = %q", got)
	}

	_, err = Run(context.Background(), Deps{Normalizer: upper{fail: true}}, opts)
	if !errors.Is(err, corpus.ErrNormalization) {
		t.Fatalf("err = %v, want ErrNormalization", err)
	}
}

func TestRunMetrics(t *testing.T) {
	path := writeCorpus(t, mixed, "LJ001-0001")
	m := metrics.New()
	opts := options(path, "")
	opts.DryRun = true

	if _, err := Run(context.Background(), Deps{Metrics: m}, opts); err != nil {
		t.Fatal(err)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "ljspush_lines_total"); err != nil || n != 4 {
		t.Errorf("lines series = %d, %v", n, err)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "ljspush_stage_duration_seconds"); err != nil || n != 3 {
		t.Errorf("stage series = %d, %v", n, err)
	}
}

func TestRunToLocalStore(t *testing.T) {
	path := writeCorpus(t, mixed, "LJ001-0001", "LJ003-0001")
	store, err := localstore.Open(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	res, err := Run(ctx, Deps{Publisher: publish.NewPublisher(store)}, options(path, "hf_x"))
	if err != nil {
		t.Fatal(err)
	}

	files, err := store.Files(ctx, "org/ljspeech")
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	var shardHash string
	for _, f := range files {
		paths = append(paths, f.Path)
		if f.CommitID != res.Published.Commit.ID {
			t.Errorf("%s from commit %s, want %s", f.Path, f.CommitID, res.Published.Commit.ID)
		}
		if f.Path == "data/train-00000-of-00001.parquet" {
			shardHash = f.Blake3Hash
		}
	}
	if got := strings.Join(paths, ","); got != "README.md,data/train-00000-of-00001.parquet" {
		t.Errorf("files = %s", got)
	}

	rows, err := parquet.ReadFile[shardRow](store.BlobPath(shardHash))
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ id, text string }{
		{"LJ001-0001", "MARY HAD A LITTLE LAMB."},
		{"LJ003-0001", "Its fleece was white."},
	}
	if len(rows) != len(want) {
		t.Fatalf("stored shard has %d rows, want %d", len(rows), len(want))
	}
	for i, w := range want {
		r := rows[i]
		if r.ID != w.id || r.Text != w.text {
			t.Errorf("row %d = %s %q", i, r.ID, r.Text)
		}
		if r.Audio.Bytes == nil || string(*r.Audio.Bytes) != "RIFF"+w.id || r.Audio.Path != w.id+".wav" {
			t.Errorf("row %d audio = %+v", i, r.Audio)
		}
	}
}

// shardRow mirrors the published parquet layout as a reader outside the
// dataset package sees it.
type shardRow struct {
	ID    string `parquet:"id"`
	Text  string `parquet:"text"`
	Audio struct {
		Bytes *[]byte `parquet:"bytes"`
		Path  string  `parquet:"path,optional"`
	} `parquet:"audio"`
}
