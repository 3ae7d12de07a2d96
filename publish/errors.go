package publish

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when no credential is available or the
	// remote store rejects it.
	ErrAuthentication = errors.New("authentication error")
	// ErrTransport is returned when repository creation or upload fails.
	ErrTransport = errors.New("transport error")
)

// TransportError carries the failing operation and repository. It matches
// ErrTransport with errors.Is.
type TransportError struct {
	Op         string
	RepoID     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.RepoID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RepoID, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

func AuthError(repoID, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrAuthentication, repoID, reason)
}

// classify wraps errors that a store returned without classification.
func classify(op, repoID string, err error) error {
	if err == nil || errors.Is(err, ErrTransport) || errors.Is(err, ErrAuthentication) {
		return err
	}
	return &TransportError{Op: op, RepoID: repoID, Err: err}
}
