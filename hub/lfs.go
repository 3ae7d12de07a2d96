package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"ljspush/publish"
)

const (
	lfsMediaType = "application/vnd.git-lfs+json"

	// lfsBatchChunk caps the objects negotiated per batch request.
	lfsBatchChunk = 256
)

type (
	lfsObject struct {
		Oid   string `json:"oid"`
		Size  int64  `json:"size"`
		local string
	}

	lfsBatchRequest struct {
		Operation string      `json:"operation"`
		Transfers []string    `json:"transfers"`
		Objects   []lfsObject `json:"objects"`
		HashAlgo  string      `json:"hash_algo"`
		Ref       lfsRef      `json:"ref"`
	}

	lfsRef struct {
		Name string `json:"name"`
	}

	lfsAction struct {
		Href   string            `json:"href"`
		Header map[string]string `json:"header"`
	}

	lfsBatchResponse struct {
		Objects []struct {
			Oid     string `json:"oid"`
			Size    int64  `json:"size"`
			Actions *struct {
				Upload *lfsAction `json:"upload"`
				Verify *lfsAction `json:"verify"`
			} `json:"actions"`
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"objects"`
	}
)

// uploadLFS negotiates basic-transfer batches and uploads the objects the
// server does not have yet.
func (s *Store) uploadLFS(ctx context.Context, repoID, token string, objects []lfsObject) error {
	for start := 0; start < len(objects); start += lfsBatchChunk {
		end := min(start+lfsBatchChunk, len(objects))
		if err := s.uploadLFSBatch(ctx, repoID, token, objects[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) uploadLFSBatch(ctx context.Context, repoID, token string, objects []lfsObject) error {
	var out lfsBatchResponse
	if _, err := s.doJSON(ctx, call{
		op:          "lfs batch",
		repoID:      repoID,
		method:      http.MethodPost,
		url:         s.endpoint + "/datasets/" + repoID + ".git/info/lfs/objects/batch",
		token:       token,
		contentType: lfsMediaType,
		accept:      lfsMediaType,
	}, lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic"},
		Objects:   objects,
		HashAlgo:  "sha256",
		Ref:       lfsRef{Name: "refs/heads/" + s.revision},
	}, &out); err != nil {
		return err
	}

	local := make(map[string]string, len(objects))
	for _, o := range objects {
		local[o.Oid] = o.local
	}

	for _, o := range out.Objects {
		if o.Error != nil {
			return &publish.TransportError{Op: "lfs batch", RepoID: repoID, StatusCode: o.Error.Code, Err: errors.New(o.Error.Message)}
		}
		if o.Actions == nil || o.Actions.Upload == nil {
			continue
		}
		if err := s.putObject(ctx, repoID, local[o.Oid], o.Size, o.Actions.Upload); err != nil {
			return err
		}
		if v := o.Actions.Verify; v != nil {
			if _, err := s.doJSON(ctx, call{
				op:          "lfs verify",
				repoID:      repoID,
				method:      http.MethodPost,
				url:         v.Href,
				token:       token,
				contentType: lfsMediaType,
				accept:      lfsMediaType,
				header:      v.Header,
			}, lfsObject{Oid: o.Oid, Size: o.Size}, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) putObject(ctx context.Context, repoID, local string, size int64, a *lfsAction) error {
	if local == "" {
		return &publish.TransportError{Op: "lfs upload", RepoID: repoID, Err: errors.New("server requested an unknown object")}
	}
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("opening %s: %w", local, err)
	}
	defer f.Close()

	_, err = s.do(ctx, call{
		op:          "lfs upload",
		repoID:      repoID,
		method:      http.MethodPut,
		url:         a.Href,
		body:        f,
		size:        size,
		contentType: "application/octet-stream",
		header:      a.Header,
	}, nil)
	return err
}
