package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ljspush/corpus"
	"ljspush/dataset"
)

// memStore is an in-memory DatasetStore.
type memStore struct {
	repos     map[string]Visibility
	files     map[string]map[string][]byte
	commits   []Commit
	ensureErr error
	uploadErr error
	calls     int
}

func newMemStore() *memStore {
	return &memStore{repos: map[string]Visibility{}, files: map[string]map[string][]byte{}}
}

func (m *memStore) EnsureRepo(_ context.Context, req RepoRequest) (RepoInfo, error) {
	m.calls++
	if m.ensureErr != nil {
		return RepoInfo{}, m.ensureErr
	}
	if vis, ok := m.repos[req.RepoID]; ok {
		return RepoInfo{RepoID: req.RepoID, Visibility: vis}, nil
	}
	m.repos[req.RepoID] = req.Visibility
	m.files[req.RepoID] = map[string][]byte{}
	return RepoInfo{RepoID: req.RepoID, Created: true, Visibility: req.Visibility}, nil
}

func (m *memStore) Upload(_ context.Context, repoID string, c Commit) (CommitInfo, error) {
	m.calls++
	if m.uploadErr != nil {
		return CommitInfo{}, m.uploadErr
	}
	tree := m.files[repoID]
	for p := range tree {
		if c.Replaced(p) && !c.Writes(p) {
			delete(tree, p)
		}
	}
	for _, f := range c.Files {
		b, err := os.ReadFile(f.LocalPath)
		if err != nil {
			return CommitInfo{}, err
		}
		tree[f.RepoPath] = b
	}
	m.commits = append(m.commits, c)
	return CommitInfo{ID: "c1"}, nil
}

func testDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	dir := t.TempDir()
	var recs []corpus.ValidatedRecord
	for i := 0; i < n; i++ {
		id := "utt-" + string(rune('a'+i))
		p := filepath.Join(dir, id+".wav")
		if err := os.WriteFile(p, []byte("RIFF"+id), 0o644); err != nil {
			t.Fatal(err)
		}
		recs = append(recs, corpus.ValidatedRecord{Line: i + 1, ID: id, Text: "text", AudioPath: p})
	}
	ds, err := dataset.Build(recs, 24000)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestTokenChain(t *testing.T) {
	env := func(v string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			if k == EnvToken && v != "" {
				return v, true
			}
			return "", false
		}
	}
	tests := []struct {
		name     string
		explicit string
		env      string
		want     string
		source   string
		wantErr  bool
	}{
		{"explicit wins", "hf_explicit", "hf_env", "hf_explicit", "explicit", false},
		{"env fallback", "", "hf_env", "hf_env", EnvToken, false},
		{"absent", "", "", "", "none", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := TokenFromEnv(tt.explicit, env(tt.env))
			got, err := c.Resolve()
			if tt.wantErr {
				if !errors.Is(err, ErrAuthentication) {
					t.Fatalf("err = %v, want ErrAuthentication", err)
				}
			} else if err != nil || got != tt.want {
				t.Fatalf("Resolve = %q, %v", got, err)
			}
			if c.Source() != tt.source {
				t.Errorf("Source = %s, want %s", c.Source(), tt.source)
			}
		})
	}
}

func TestValidateRepoID(t *testing.T) {
	good := []string{"Thorsten-Voice/TV-24kHz-Full", "user/ds_1.0", "standalone"}
	bad := []string{"", "a/b/c", "/name", "org/", "org/..name", "org/a--b", "org/with space", "-org/x"}
	for _, id := range good {
		if err := ValidateRepoID(id); err != nil {
			t.Errorf("ValidateRepoID(%q) = %v", id, err)
		}
	}
	for _, id := range bad {
		if err := ValidateRepoID(id); !errors.Is(err, corpus.ErrConfiguration) {
			t.Errorf("ValidateRepoID(%q) = %v, want ErrConfiguration", id, err)
		}
	}
}

func TestEnsureRepoIdempotent(t *testing.T) {
	store := newMemStore()
	p := NewPublisher(store)
	ctx := context.Background()

	first, err := p.EnsureRepo(ctx, "org/ds", Private, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created {
		t.Error("first call did not create the repo")
	}
	second, err := p.EnsureRepo(ctx, "org/ds", Private, "tok")
	if err != nil {
		t.Fatalf("second EnsureRepo: %v", err)
	}
	if second.Created || second.Visibility != Private {
		t.Errorf("second = %+v", second)
	}
}

func TestEnsureRepoWithoutToken(t *testing.T) {
	store := newMemStore()
	_, err := NewPublisher(store).EnsureRepo(context.Background(), "org/ds", Public, "")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if store.calls != 0 {
		t.Error("store was called without a token")
	}
}

func TestPublishWithoutToken(t *testing.T) {
	store := newMemStore()
	_, err := NewPublisher(store).Publish(context.Background(), testDataset(t, 1), "org/ds", "", DefaultOptions())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if store.calls != 0 {
		t.Error("store was called without a token")
	}
}

func TestPublish(t *testing.T) {
	store := newMemStore()
	p := NewPublisher(store)
	ctx := context.Background()
	ds := testDataset(t, 3)

	if _, err := p.EnsureRepo(ctx, "org/ds", Public, "tok"); err != nil {
		t.Fatal(err)
	}
	store.files["org/ds"]["data/train-00000-of-00002.parquet"] = []byte("stale")
	store.files["org/ds"]["data/test-00000-of-00001.parquet"] = []byte("other split")

	opts := DefaultOptions()
	opts.StagingDir = t.TempDir()
	res, err := p.Publish(ctx, ds, "org/ds", "tok", opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Commit.ID != "c1" || len(res.Shards) != 1 || res.Summary.Rows != 3 {
		t.Errorf("result = %+v", res)
	}

	tree := store.files["org/ds"]
	if _, ok := tree["data/train-00000-of-00002.parquet"]; ok {
		t.Error("stale shard not replaced")
	}
	if _, ok := tree["data/test-00000-of-00001.parquet"]; !ok {
		t.Error("other split was removed")
	}
	if _, ok := tree["data/train-00000-of-00001.parquet"]; !ok {
		t.Errorf("new shard missing: %v", tree)
	}
	if !strings.Contains(string(tree[CardPath]), "sampling_rate: 24000") {
		t.Errorf("card:\n%s", tree[CardPath])
	}

	c := store.commits[0]
	if c.Token != "tok" || !strings.Contains(c.Message, "3 rows") {
		t.Errorf("commit = %+v", c)
	}

	entries, err := os.ReadDir(opts.StagingDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging directory not cleaned up: %d entries", len(entries))
	}
}

func TestPublishStoreFailure(t *testing.T) {
	store := newMemStore()
	store.uploadErr = errors.New("connection reset")

	_, err := NewPublisher(store).Publish(context.Background(), testDataset(t, 1), "org/ds", "tok", DefaultOptions())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.RepoID != "org/ds" || te.Op != "upload" {
		t.Errorf("transport error = %+v", te)
	}
	if len(store.commits) != 0 {
		t.Error("commit recorded despite failure")
	}
}

func TestEnsureRepoAuthFailurePassesThrough(t *testing.T) {
	store := newMemStore()
	store.ensureErr = AuthError("org/ds", "401 Unauthorized")
	_, err := NewPublisher(store).EnsureRepo(context.Background(), "org/ds", Public, "bad")
	if !errors.Is(err, ErrAuthentication) || errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Op: "upload", RepoID: "org/ds", StatusCode: 500, Err: errors.New("boom")}
	if err.Error() != "upload org/ds: status 500: boom" {
		t.Errorf("Error = %s", err)
	}
}
