package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ljspush/b3"
	"ljspush/publish"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func stage(t *testing.T, files map[string]string) []publish.File {
	t.Helper()
	dir := t.TempDir()
	var out []publish.File
	for p, content := range files {
		local := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(local, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		out = append(out, publish.File{RepoPath: p, LocalPath: local, Size: int64(len(content))})
	}
	return out
}

func TestEnsureRepo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureRepo(ctx, publish.RepoRequest{RepoID: "org/ds", Visibility: publish.Private})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || first.Visibility != publish.Private {
		t.Errorf("first = %+v", first)
	}

	second, err := s.EnsureRepo(ctx, publish.RepoRequest{RepoID: "org/ds", Visibility: publish.Public})
	if err != nil {
		t.Fatalf("second EnsureRepo: %v", err)
	}
	if second.Created || second.Visibility != publish.Private {
		t.Errorf("second = %+v", second)
	}
}

func TestUploadUnknownRepo(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Upload(context.Background(), "org/none", publish.Commit{Message: "m"})
	if !errors.Is(err, publish.ErrTransport) || !errors.Is(err, ErrRepoNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUploadTree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.EnsureRepo(ctx, publish.RepoRequest{RepoID: "org/ds"}); err != nil {
		t.Fatal(err)
	}

	replace := []string{"data/train-*", "audio/*"}
	first, err := s.Upload(ctx, "org/ds", publish.Commit{
		Message: "first",
		Files: stage(t, map[string]string{
			"README.md":                         "v1",
			"data/train-00000-of-00002.parquet": "a",
			"data/train-00001-of-00002.parquet": "b",
			"data/test-00000-of-00001.parquet":  "t",
		}),
		Replace: replace,
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Upload(ctx, "org/ds", publish.Commit{
		Message: "second",
		Files: stage(t, map[string]string{
			"README.md":                         "v2",
			"data/train-00000-of-00001.parquet": "ab",
		}),
		Replace: replace,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("commit ids %q %q", first.ID, second.ID)
	}

	files, err := s.Files(ctx, "org/ds")
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		path, content, commit string
	}{
		{"README.md", "v2", second.ID},
		{"data/test-00000-of-00001.parquet", "t", first.ID},
		{"data/train-00000-of-00001.parquet", "ab", second.ID},
	}
	if len(files) != len(want) {
		t.Fatalf("files = %+v", files)
	}
	for i, w := range want {
		f := files[i]
		if f.Path != w.path || f.CommitID != w.commit || f.Size != int64(len(w.content)) {
			t.Errorf("files[%d] = %+v, want %s from %s", i, f, w.path, w.commit)
		}
		b, err := os.ReadFile(s.BlobPath(f.Blake3Hash))
		if err != nil {
			t.Fatalf("blob for %s: %v", f.Path, err)
		}
		if string(b) != w.content {
			t.Errorf("blob for %s = %q", f.Path, b)
		}
	}

	commits, err := s.Commits(ctx, "org/ds")
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 || commits[0].ID != first.ID || commits[1].Message != "second" {
		t.Errorf("commits = %+v", commits)
	}
}

func TestBlobsAreContentAddressed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.EnsureRepo(ctx, publish.RepoRequest{RepoID: "a"})
	s.EnsureRepo(ctx, publish.RepoRequest{RepoID: "b"})

	for _, repo := range []string{"a", "b"} {
		if _, err := s.Upload(ctx, repo, publish.Commit{Files: stage(t, map[string]string{"x.bin": "same"})}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, BlobDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("blobs = %d, want 1", len(entries))
	}
	h, _, err := b3.HashPath(filepath.Join(s.dir, BlobDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if h != entries[0].Name() {
		t.Errorf("blob name %s does not match hash %s", entries[0].Name(), h)
	}
}
