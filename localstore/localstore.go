// Package localstore implements publish.DatasetStore on a directory: a
// SQLite registry of repositories, commits and file trees, plus blobs
// addressed by their blake3 hash.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"ljspush/b3"
	"ljspush/publish"
)

const (
	DBName  = "registry.db"
	BlobDir = "blobs"
)

var ErrRepoNotFound = errors.New("repository does not exist")

type (
	Store struct {
		db    *sql.DB
		dir   string
		owned bool
		now   func() time.Time
	}

	FileEntry struct {
		Path       string
		Blake3Hash string
		Size       int64
		CommitID   string
	}

	CommitEntry struct {
		ID        string
		Message   string
		CreatedAt time.Time
	}
)

var _ publish.DatasetStore = (*Store)(nil)

// Open creates dir if needed and opens the registry inside it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, BlobDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	db, err := InitDB(filepath.Join(dir, DBName))
	if err != nil {
		return nil, err
	}
	s := New(db, dir)
	s.owned = true
	return s, nil
}

// New uses an already initialised db. Blobs go under dir/blobs.
func New(db *sql.DB, dir string) *Store {
	return &Store{db: db, dir: dir, now: time.Now}
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) BlobPath(hash string) string {
	return filepath.Join(s.dir, BlobDir, hash)
}

func (s *Store) EnsureRepo(ctx context.Context, req publish.RepoRequest) (publish.RepoInfo, error) {
	kind := req.Kind
	if kind == "" {
		kind = publish.KindDataset
	}
	info := publish.RepoInfo{RepoID: req.RepoID, URL: s.url(req.RepoID)}

	var vis string
	err := s.db.
		QueryRowContext(
			ctx,
			"insert into repos (id, kind, visibility, created_at) values ($1, $2, $3, $4) on conflict do nothing returning visibility",
			req.RepoID,
			kind,
			string(req.Visibility),
			s.now().UTC().Format(time.RFC3339Nano),
		).
		Scan(&vis)
	if err == nil {
		info.Created = true
		info.Visibility = publish.Visibility(vis)
		return info, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return publish.RepoInfo{}, &publish.TransportError{Op: "create repo", RepoID: req.RepoID, Err: err}
	}

	if err := s.db.QueryRowContext(ctx, "select visibility from repos where id = $1", req.RepoID).Scan(&vis); err != nil {
		return publish.RepoInfo{}, &publish.TransportError{Op: "create repo", RepoID: req.RepoID, Err: err}
	}
	info.Visibility = publish.Visibility(vis)
	return info, nil
}

// Upload stores every file as a blob and records the new tree in one
// transaction. Replaced paths the commit does not write are dropped from
// the tree; their blobs stay.
func (s *Store) Upload(ctx context.Context, repoID string, c publish.Commit) (publish.CommitInfo, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "select count(*) from repos where id = $1", repoID).Scan(&exists)
	if err != nil {
		return publish.CommitInfo{}, &publish.TransportError{Op: "upload", RepoID: repoID, Err: err}
	}
	if exists == 0 {
		return publish.CommitInfo{}, &publish.TransportError{Op: "upload", RepoID: repoID, Err: ErrRepoNotFound}
	}

	hashes := make([]string, len(c.Files))
	for i, f := range c.Files {
		h, err := s.storeBlob(f.LocalPath)
		if err != nil {
			return publish.CommitInfo{}, &publish.TransportError{Op: "upload " + f.RepoPath, RepoID: repoID, Err: err}
		}
		hashes[i] = h
	}

	id := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return publish.CommitInfo{}, fmt.Errorf("upload: begin trx: %w", err)
	}
	if err := s.commit(ctx, tx, repoID, id, c, hashes); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return publish.CommitInfo{}, fmt.Errorf("rollback commit: %w", rbErr)
		}
		return publish.CommitInfo{}, &publish.TransportError{Op: "commit", RepoID: repoID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return publish.CommitInfo{}, &publish.TransportError{Op: "commit", RepoID: repoID, Err: err}
	}

	return publish.CommitInfo{ID: id, URL: s.url(repoID) + "@" + id}, nil
}

func (s *Store) commit(ctx context.Context, tx *sql.Tx, repoID, id string, c publish.Commit, hashes []string) error {
	_, err := tx.ExecContext(ctx,
		"insert into commits (id, repo_id, message, created_at) values ($1, $2, $3, $4)",
		id, repoID, c.Message, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting commit: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "select path from files where repo_id = $1", repoID)
	if err != nil {
		return fmt.Errorf("listing tree: %w", err)
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("listing tree: %w", err)
		}
		if c.Replaced(p) && !c.Writes(p) {
			stale = append(stale, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing tree: %w", err)
	}

	for _, p := range stale {
		if _, err := tx.ExecContext(ctx, "delete from files where repo_id = $1 and path = $2", repoID, p); err != nil {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
	}

	for i, f := range c.Files {
		_, err := tx.ExecContext(ctx, `
			insert into files (repo_id, path, blake3_hash, size, commit_id)
			values ($1, $2, $3, $4, $5)
			on conflict (repo_id, path) do update set
				blake3_hash = excluded.blake3_hash,
				size = excluded.size,
				commit_id = excluded.commit_id
		`, repoID, f.RepoPath, hashes[i], f.Size, id)
		if err != nil {
			return fmt.Errorf("recording %s: %w", f.RepoPath, err)
		}
	}
	return nil
}

// storeBlob copies the file into the blob directory under its hash.
func (s *Store) storeBlob(local string) (string, error) {
	h, _, err := b3.HashPath(local)
	if err != nil {
		return "", err
	}
	dst := s.BlobPath(h)
	if _, err := os.Stat(dst); err == nil {
		return h, nil
	}

	in, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", local, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), h+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating blob: %w", err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("copying blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("moving blob into place: %w", err)
	}
	return h, nil
}

// Files lists the current tree of repoID ordered by path.
func (s *Store) Files(ctx context.Context, repoID string) ([]FileEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"select path, blake3_hash, size, commit_id from files where repo_id = $1 order by path",
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing files of %s: %w", repoID, err)
	}
	defer rows.Close()

	var res []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.Path, &f.Blake3Hash, &f.Size, &f.CommitID); err != nil {
			return nil, fmt.Errorf("listing files of %s: %w", repoID, err)
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// Commits lists the commits of repoID, oldest first.
func (s *Store) Commits(ctx context.Context, repoID string) ([]CommitEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"select id, message, created_at from commits where repo_id = $1 order by seq",
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing commits of %s: %w", repoID, err)
	}
	defer rows.Close()

	var res []CommitEntry
	for rows.Next() {
		var (
			c       CommitEntry
			created string
		)
		if err := rows.Scan(&c.ID, &c.Message, &created); err != nil {
			return nil, fmt.Errorf("listing commits of %s: %w", repoID, err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parsing commit time %q: %w", created, err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *Store) url(repoID string) string {
	return "file://" + filepath.ToSlash(s.dir) + "#" + repoID
}
