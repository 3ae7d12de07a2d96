// Package hub implements publish.DatasetStore on top of the Hugging Face
// Hub HTTP API: repository creation, preupload classification, LFS
// transfers and NDJSON commits.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ljspush/publish"
)

const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"
	DefaultTimeout  = 30 * time.Minute

	userAgent = "ljspush/1"
)

type Store struct {
	endpoint string
	revision string
	client   *http.Client
}

type Option func(*Store)

func WithEndpoint(endpoint string) Option {
	return func(s *Store) {
		if endpoint != "" {
			s.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

func WithRevision(rev string) Option {
	return func(s *Store) {
		if rev != "" {
			s.revision = rev
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		s.client = c
	}
}

func New(opts ...Option) *Store {
	s := &Store{endpoint: DefaultEndpoint, revision: DefaultRevision}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: DefaultTimeout}
	}
	return s
}

var _ publish.DatasetStore = (*Store)(nil)

type createRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Type         string `json:"type"`
	Private      bool   `json:"private"`
}

// EnsureRepo creates the repository. A 409 Conflict means it already
// exists and is reported as success.
func (s *Store) EnsureRepo(ctx context.Context, req publish.RepoRequest) (publish.RepoInfo, error) {
	org, name := splitRepoID(req.RepoID)
	kind := req.Kind
	if kind == "" {
		kind = publish.KindDataset
	}

	var out struct {
		URL string `json:"url"`
	}
	status, err := s.doJSON(ctx, call{
		op:     "create repo",
		repoID: req.RepoID,
		method: http.MethodPost,
		url:    s.endpoint + "/api/repos/create",
		token:  req.Token,
	}, createRequest{Name: name, Organization: org, Type: kind, Private: req.Visibility == publish.Private}, &out)

	switch {
	case err == nil:
		if out.URL == "" {
			out.URL = s.repoURL(req.RepoID)
		}
		return publish.RepoInfo{RepoID: req.RepoID, URL: out.URL, Created: true, Visibility: req.Visibility}, nil
	case status == http.StatusConflict:
		return publish.RepoInfo{RepoID: req.RepoID, URL: s.repoURL(req.RepoID)}, nil
	default:
		return publish.RepoInfo{}, err
	}
}

type call struct {
	op          string
	repoID      string
	method      string
	url         string
	token       string
	body        io.Reader
	size        int64
	contentType string
	accept      string
	header      map[string]string
	respHeader  *http.Header
}

func (s *Store) doJSON(ctx context.Context, c call, body any, out any) (int, error) {
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: marshal request body: %w", c.op, err)
		}
		c.body = bytes.NewReader(b)
		c.size = int64(len(b))
		if c.contentType == "" {
			c.contentType = "application/json"
		}
	}
	return s.do(ctx, c, out)
}

// do sends one request. Non-2xx responses become publish errors; 401 and
// 403 are authentication failures, everything else a TransportError.
func (s *Store) do(ctx context.Context, c call, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, c.body)
	if err != nil {
		return 0, &publish.TransportError{Op: c.op, RepoID: c.repoID, Err: err}
	}
	if c.body != nil && c.size > 0 {
		req.ContentLength = c.size
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	if c.accept != "" {
		req.Header.Set("Accept", c.accept)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, &publish.TransportError{Op: c.op, RepoID: c.repoID, Err: err}
	}
	defer resp.Body.Close()
	if c.respHeader != nil {
		*c.respHeader = resp.Header
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.StatusCode, publish.AuthError(c.repoID, fmt.Sprintf("%s: %d %s", c.op, resp.StatusCode, msg))
		}
		return resp.StatusCode, &publish.TransportError{Op: c.op, RepoID: c.repoID, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &publish.TransportError{Op: c.op, RepoID: c.repoID, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return "empty response"
}

func splitRepoID(id string) (org, name string) {
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

func (s *Store) repoURL(repoID string) string {
	return s.endpoint + "/datasets/" + repoID
}

func (s *Store) apiURL(repoID string, parts ...string) string {
	u := s.endpoint + "/api/datasets/" + repoID
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}
