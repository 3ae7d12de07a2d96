// Package s3store implements publish.DatasetStore on an S3-compatible
// bucket. Each repository lives under <prefix>/<repo>/ with a marker
// object and one JSON manifest per commit.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"ljspush/publish"
)

const (
	metaDir    = ".ljspush"
	markerName = "repo.json"
	commitsDir = "commits"
)

// S3Client is the subset of the S3 API the store uses. *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type (
	Store struct {
		client S3Client
		bucket string
		prefix string
		now    func() time.Time
	}

	marker struct {
		RepoID     string             `json:"repo_id"`
		Kind       string             `json:"kind"`
		Visibility publish.Visibility `json:"visibility"`
		CreatedAt  time.Time          `json:"created_at"`
	}

	Manifest struct {
		ID        string         `json:"id"`
		Message   string         `json:"message"`
		CreatedAt time.Time      `json:"created_at"`
		Files     []ManifestFile `json:"files"`
		Deleted   []string       `json:"deleted,omitempty"`
	}

	ManifestFile struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
)

var _ publish.DatasetStore = (*Store)(nil)

func New(client S3Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// NewClient builds an S3 client from the default AWS credential chain.
// A non-empty endpoint selects path-style addressing for MinIO and similar
// services.
func NewClient(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(cfg, opts...), nil
}

func (s *Store) key(repoID string, parts ...string) string {
	elems := []string{repoID}
	if s.prefix != "" {
		elems = append([]string{s.prefix}, elems...)
	}
	return path.Join(append(elems, parts...)...)
}

// EnsureRepo writes the repository marker with If-None-Match so concurrent
// callers cannot both create it. An existing marker means success.
func (s *Store) EnsureRepo(ctx context.Context, req publish.RepoRequest) (publish.RepoInfo, error) {
	kind := req.Kind
	if kind == "" {
		kind = publish.KindDataset
	}
	body, err := json.Marshal(marker{RepoID: req.RepoID, Kind: kind, Visibility: req.Visibility, CreatedAt: s.now().UTC()})
	if err != nil {
		return publish.RepoInfo{}, fmt.Errorf("encoding repo marker: %w", err)
	}

	key := s.key(req.RepoID, metaDir, markerName)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err == nil {
		return publish.RepoInfo{RepoID: req.RepoID, URL: s.url(req.RepoID), Created: true, Visibility: req.Visibility}, nil
	}
	if !isPreconditionFailed(err) {
		return publish.RepoInfo{}, s.wrap("create repo", req.RepoID, err)
	}

	m, err := s.readMarker(ctx, req.RepoID)
	if err != nil {
		return publish.RepoInfo{}, err
	}
	return publish.RepoInfo{RepoID: req.RepoID, URL: s.url(req.RepoID), Visibility: m.Visibility}, nil
}

func (s *Store) readMarker(ctx context.Context, repoID string) (marker, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(repoID, metaDir, markerName)),
	})
	if err != nil {
		if isNotFound(err) {
			return marker{}, &publish.TransportError{Op: "read repo", RepoID: repoID, StatusCode: 404, Err: errors.New("repository does not exist")}
		}
		return marker{}, s.wrap("read repo", repoID, err)
	}
	defer out.Body.Close()

	var m marker
	if err := json.NewDecoder(out.Body).Decode(&m); err != nil {
		return marker{}, &publish.TransportError{Op: "read repo", RepoID: repoID, Err: fmt.Errorf("decoding marker: %w", err)}
	}
	return m, nil
}

// Upload puts every file, removes replaced objects the commit does not
// rewrite and records a manifest under .ljspush/commits.
func (s *Store) Upload(ctx context.Context, repoID string, c publish.Commit) (publish.CommitInfo, error) {
	if _, err := s.readMarker(ctx, repoID); err != nil {
		return publish.CommitInfo{}, err
	}

	m := Manifest{ID: uuid.NewString(), Message: c.Message, CreatedAt: s.now().UTC()}
	for _, f := range c.Files {
		if err := s.putFile(ctx, repoID, f); err != nil {
			return publish.CommitInfo{}, err
		}
		m.Files = append(m.Files, ManifestFile{Path: f.RepoPath, Size: f.Size})
	}

	stale, err := s.staleKeys(ctx, repoID, c)
	if err != nil {
		return publish.CommitInfo{}, err
	}
	for _, p := range stale {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(repoID, p)),
		}); err != nil {
			return publish.CommitInfo{}, s.wrap("delete "+p, repoID, err)
		}
		m.Deleted = append(m.Deleted, p)
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return publish.CommitInfo{}, fmt.Errorf("encoding manifest: %w", err)
	}
	key := s.key(repoID, metaDir, commitsDir, m.ID+".json")
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return publish.CommitInfo{}, s.wrap("commit", repoID, err)
	}

	return publish.CommitInfo{ID: m.ID, URL: "s3://" + s.bucket + "/" + key}, nil
}

func (s *Store) putFile(ctx context.Context, repoID string, f publish.File) error {
	r, err := os.Open(f.LocalPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.RepoPath, err)
	}
	defer r.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(repoID, f.RepoPath)),
		Body:          r,
		ContentLength: aws.Int64(f.Size),
	})
	if err != nil {
		return s.wrap("upload "+f.RepoPath, repoID, err)
	}
	return nil
}

func (s *Store) staleKeys(ctx context.Context, repoID string, c publish.Commit) ([]string, error) {
	if len(c.Replace) == 0 {
		return nil, nil
	}
	root := s.key(repoID) + "/"

	var stale []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(root),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("list files", repoID, err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), root)
			if strings.HasPrefix(rel, metaDir+"/") {
				continue
			}
			if c.Replaced(rel) && !c.Writes(rel) {
				stale = append(stale, rel)
			}
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// Commits returns the manifests recorded for repoID, oldest first.
func (s *Store) Commits(ctx context.Context, repoID string) ([]Manifest, error) {
	var out []Manifest
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(repoID, metaDir, commitsDir) + "/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("list commits", repoID, err)
		}
		for _, obj := range page.Contents {
			m, err := s.readManifest(ctx, repoID, aws.ToString(obj.Key))
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) readManifest(ctx context.Context, repoID, key string) (Manifest, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Manifest{}, s.wrap("read commit", repoID, err)
	}
	defer obj.Body.Close()

	b, err := io.ReadAll(obj.Body)
	if err != nil {
		return Manifest{}, s.wrap("read commit", repoID, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	return m, nil
}

func (s *Store) url(repoID string) string {
	return "s3://" + s.bucket + "/" + s.key(repoID)
}

// wrap maps credential failures to ErrAuthentication and everything else
// to a TransportError carrying the HTTP status when there is one.
func (s *Store) wrap(op, repoID string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return publish.AuthError(repoID, fmt.Sprintf("%s: %s", op, apiErr.ErrorMessage()))
		}
	}
	te := &publish.TransportError{Op: op, RepoID: repoID, Err: err}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		te.StatusCode = status.HTTPStatusCode()
	}
	return te
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
