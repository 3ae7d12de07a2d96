// Package publish ensures a remote dataset repository exists and uploads
// an assembled dataset to it as parquet shards plus a dataset card.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ljspush/dataset"
)

const CardPath = "README.md"

type (
	Publisher struct {
		store DatasetStore
	}

	Options struct {
		Shards        dataset.ShardOptions
		CommitMessage string
		PrettyName    string
		// StagingDir is where shards are written before upload. Empty means os.TempDir.
		StagingDir string
	}

	Result struct {
		Commit   CommitInfo
		Shards   []dataset.Shard
		Blobs    int
		NumBytes int64
		Summary  dataset.Summary
	}
)

func NewPublisher(store DatasetStore) *Publisher {
	return &Publisher{store: store}
}

func DefaultOptions() Options {
	return Options{Shards: dataset.DefaultShardOptions()}
}

// EnsureRepo creates the dataset repository if it does not exist yet.
func (p *Publisher) EnsureRepo(ctx context.Context, repoID string, vis Visibility, token string) (RepoInfo, error) {
	if token == "" {
		return RepoInfo{}, AuthError(repoID, "no token")
	}
	if err := ValidateRepoID(repoID); err != nil {
		return RepoInfo{}, err
	}
	if vis == "" {
		vis = Public
	}

	info, err := p.store.EnsureRepo(ctx, RepoRequest{
		RepoID:     repoID,
		Kind:       KindDataset,
		Visibility: vis,
		Token:      token,
	})
	if err != nil {
		return RepoInfo{}, classify("create repo", repoID, err)
	}
	return info, nil
}

// Publish serializes ds and uploads it to repoID as one commit. Files
// from a previous publish of the same split are replaced. Nothing is retried.
func (p *Publisher) Publish(ctx context.Context, ds *dataset.Dataset, repoID string, token string, opts Options) (Result, error) {
	if token == "" {
		return Result{}, AuthError(repoID, "no token")
	}
	if err := ValidateRepoID(repoID); err != nil {
		return Result{}, err
	}
	if opts.Shards.Split == "" {
		opts.Shards.Split = dataset.DefaultSplit
	}

	staging, err := os.MkdirTemp(opts.StagingDir, "ljspush-*")
	if err != nil {
		return Result{}, fmt.Errorf("staging dataset: %w", err)
	}
	defer os.RemoveAll(staging)

	written, err := dataset.WriteShards(ctx, ds, staging, opts.Shards)
	if err != nil {
		return Result{}, fmt.Errorf("staging dataset: %w", err)
	}

	summary, err := dataset.Summarize(ds)
	if err != nil {
		return Result{}, fmt.Errorf("staging dataset: %w", err)
	}

	card, err := dataset.Card(ds, dataset.CardOptions{
		RepoID:     repoID,
		PrettyName: opts.PrettyName,
		Split:      opts.Shards.Split,
		NumBytes:   written.NumBytes,
		Summary:    summary,
	})
	if err != nil {
		return Result{}, fmt.Errorf("staging dataset: %w", err)
	}
	cardPath := filepath.Join(staging, CardPath)
	if err := os.WriteFile(cardPath, card, 0o644); err != nil {
		return Result{}, fmt.Errorf("staging dataset: %w", err)
	}

	commit := Commit{
		Message: opts.CommitMessage,
		Token:   token,
		Files:   []File{{RepoPath: CardPath, LocalPath: cardPath, Size: int64(len(card))}},
		Replace: []string{dataset.ShardPattern(opts.Shards.Split), dataset.AudioDir + "/*"},
	}
	if commit.Message == "" {
		commit.Message = fmt.Sprintf("Upload dataset (%d rows, fingerprint %.12s)", ds.Len(), ds.Fingerprint())
	}
	for _, s := range written.Shards {
		commit.Files = append(commit.Files, File{RepoPath: s.RepoPath, LocalPath: s.LocalPath, Size: s.Size})
	}
	for _, b := range written.Blobs {
		commit.Files = append(commit.Files, File{RepoPath: b.RepoPath, LocalPath: b.LocalPath, Size: b.Size})
	}

	info, err := p.store.Upload(ctx, repoID, commit)
	if err != nil {
		return Result{}, classify("upload", repoID, err)
	}

	return Result{
		Commit:   info,
		Shards:   written.Shards,
		Blobs:    len(written.Blobs),
		NumBytes: written.NumBytes,
		Summary:  summary,
	}, nil
}
