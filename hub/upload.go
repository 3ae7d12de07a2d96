package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"

	"ljspush/publish"
)

const (
	sampleSize = 512

	// preuploadChunk caps the files classified per preupload request.
	preuploadChunk = 256
)

type (
	preuploadFile struct {
		Path   string `json:"path"`
		Sample string `json:"sample"`
		Size   int64  `json:"size"`
	}

	preuploadResponse struct {
		Files []struct {
			Path       string `json:"path"`
			UploadMode string `json:"uploadMode"`
		} `json:"files"`
	}

	commitLine struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}

	commitHeader struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
	}

	commitFile struct {
		Content  string `json:"content"`
		Path     string `json:"path"`
		Encoding string `json:"encoding"`
	}

	commitLFSFile struct {
		Path string `json:"path"`
		Algo string `json:"algo"`
		Oid  string `json:"oid"`
		Size int64  `json:"size"`
	}

	commitDeletedFile struct {
		Path string `json:"path"`
	}

	commitResponse struct {
		CommitOid string `json:"commitOid"`
		CommitURL string `json:"commitUrl"`
	}

	treeEntry struct {
		Type string `json:"type"`
		Path string `json:"path"`
	}
)

// Upload pushes every file of c in one commit: LFS objects first, then the
// commit that references them, inlines regular files and deletes replaced ones.
func (s *Store) Upload(ctx context.Context, repoID string, c publish.Commit) (publish.CommitInfo, error) {
	modes, err := s.preupload(ctx, repoID, c)
	if err != nil {
		return publish.CommitInfo{}, err
	}

	lines := []commitLine{{Key: "header", Value: commitHeader{Summary: c.Message}}}
	var objects []lfsObject
	for _, f := range c.Files {
		if modes[f.RepoPath] == "lfs" {
			oid, size, err := sha256File(f.LocalPath)
			if err != nil {
				return publish.CommitInfo{}, fmt.Errorf("hashing %s: %w", f.RepoPath, err)
			}
			objects = append(objects, lfsObject{Oid: oid, Size: size, local: f.LocalPath})
			lines = append(lines, commitLine{Key: "lfsFile", Value: commitLFSFile{Path: f.RepoPath, Algo: "sha256", Oid: oid, Size: size}})
			continue
		}

		b, err := os.ReadFile(f.LocalPath)
		if err != nil {
			return publish.CommitInfo{}, fmt.Errorf("reading %s: %w", f.RepoPath, err)
		}
		lines = append(lines, commitLine{Key: "file", Value: commitFile{
			Content:  base64.StdEncoding.EncodeToString(b),
			Path:     f.RepoPath,
			Encoding: "base64",
		}})
	}

	if len(objects) > 0 {
		if err := s.uploadLFS(ctx, repoID, c.Token, objects); err != nil {
			return publish.CommitInfo{}, err
		}
	}

	stale, err := s.staleFiles(ctx, repoID, c)
	if err != nil {
		return publish.CommitInfo{}, err
	}
	for _, p := range stale {
		lines = append(lines, commitLine{Key: "deletedFile", Value: commitDeletedFile{Path: p}})
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return publish.CommitInfo{}, fmt.Errorf("encoding commit: %w", err)
		}
	}

	var out commitResponse
	if _, err := s.do(ctx, call{
		op:          "commit",
		repoID:      repoID,
		method:      http.MethodPost,
		url:         s.apiURL(repoID, "commit", s.revision),
		token:       c.Token,
		body:        &body,
		size:        int64(body.Len()),
		contentType: "application/x-ndjson",
	}, &out); err != nil {
		return publish.CommitInfo{}, err
	}

	return publish.CommitInfo{ID: out.CommitOid, URL: out.CommitURL}, nil
}

func (s *Store) preupload(ctx context.Context, repoID string, c publish.Commit) (map[string]string, error) {
	modes := make(map[string]string, len(c.Files))
	for start := 0; start < len(c.Files); start += preuploadChunk {
		end := min(start+preuploadChunk, len(c.Files))

		req := struct {
			Files []preuploadFile `json:"files"`
		}{}
		for _, f := range c.Files[start:end] {
			sample, err := readSample(f.LocalPath)
			if err != nil {
				return nil, fmt.Errorf("sampling %s: %w", f.RepoPath, err)
			}
			req.Files = append(req.Files, preuploadFile{Path: f.RepoPath, Sample: sample, Size: f.Size})
		}

		var out preuploadResponse
		if _, err := s.doJSON(ctx, call{
			op:     "preupload",
			repoID: repoID,
			method: http.MethodPost,
			url:    s.apiURL(repoID, "preupload", s.revision),
			token:  c.Token,
		}, req, &out); err != nil {
			return nil, err
		}
		for _, f := range out.Files {
			modes[f.Path] = f.UploadMode
		}
	}
	return modes, nil
}

// staleFiles lists existing files matched by c.Replace that c does not rewrite.
func (s *Store) staleFiles(ctx context.Context, repoID string, c publish.Commit) ([]string, error) {
	dirs := map[string]bool{}
	for _, p := range c.Replace {
		dirs[path.Dir(p)] = true
	}

	var stale []string
	for dir := range dirs {
		next := s.apiURL(repoID, "tree", s.revision) + "/" + dir + "?recursive=true"
		for next != "" {
			var (
				entries []treeEntry
				header  http.Header
			)
			status, err := s.do(ctx, call{
				op:         "list files",
				repoID:     repoID,
				method:     http.MethodGet,
				url:        next,
				token:      c.Token,
				respHeader: &header,
			}, &entries)
			if status == http.StatusNotFound {
				break
			}
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.Type == "file" && c.Replaced(e.Path) && !c.Writes(e.Path) {
					stale = append(stale, e.Path)
				}
			}
			if next, err = nextPage(next, header); err != nil {
				return nil, &publish.TransportError{Op: "list files", RepoID: repoID, Err: err}
			}
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// nextPage returns the absolute URL of the Link rel="next" target, or ""
// on the last page.
func nextPage(current string, h http.Header) (string, error) {
	for _, v := range h.Values("Link") {
		for _, link := range strings.Split(v, ",") {
			target, params, ok := strings.Cut(strings.TrimSpace(link), ";")
			if !ok || !strings.Contains(params, `rel="next"`) {
				continue
			}
			ref, err := url.Parse(strings.Trim(strings.TrimSpace(target), "<>"))
			if err != nil {
				return "", fmt.Errorf("next page link: %w", err)
			}
			base, err := url.Parse(current)
			if err != nil {
				return "", err
			}
			return base.ResolveReference(ref).String(), nil
		}
	}
	return "", nil
}

func readSample(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sampleSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf[:n]), nil
}

func sha256File(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
