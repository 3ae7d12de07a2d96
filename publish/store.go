package publish

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"ljspush/corpus"
)

const KindDataset = "dataset"

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

func VisibilityOf(private bool) Visibility {
	if private {
		return Private
	}
	return Public
}

type (
	RepoRequest struct {
		RepoID     string
		Kind       string
		Visibility Visibility
		Token      string
	}

	RepoInfo struct {
		RepoID string
		URL    string
		// Created is false when the repository already existed.
		Created bool
		// Visibility is the stored visibility when the store knows it.
		Visibility Visibility
	}

	File struct {
		RepoPath  string
		LocalPath string
		Size      int64
	}

	Commit struct {
		Message string
		Token   string
		Files   []File
		// Replace lists path globs (path.Match syntax) whose existing files
		// are removed unless the commit writes them again.
		Replace []string
	}

	CommitInfo struct {
		ID  string
		URL string
	}

	// DatasetStore is a remote, versioned dataset registry.
	DatasetStore interface {
		// EnsureRepo creates the repository if absent and succeeds if it exists.
		EnsureRepo(ctx context.Context, req RepoRequest) (RepoInfo, error)
		// Upload writes all files of c as a single revision.
		Upload(ctx context.Context, repoID string, c Commit) (CommitInfo, error)
	}
)

var repoIDPattern = regexp.MustCompile(`^(?:[A-Za-z0-9][A-Za-z0-9._-]{0,95}/)?[A-Za-z0-9][A-Za-z0-9._-]{0,95}$`)

func ValidateRepoID(id string) error {
	if !repoIDPattern.MatchString(id) || strings.Contains(id, "..") || strings.Contains(id, "--") {
		return fmt.Errorf("%w: invalid repo id %q (want [namespace/]name)", corpus.ErrConfiguration, id)
	}
	return nil
}

// Replaced reports whether p matches one of the commit's Replace globs.
func (c Commit) Replaced(p string) bool {
	for _, pattern := range c.Replace {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// Writes reports whether the commit writes p.
func (c Commit) Writes(p string) bool {
	for _, f := range c.Files {
		if f.RepoPath == p {
			return true
		}
	}
	return false
}
