package docsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
)

var (
	// ErrNotFound is returned by Connection implementations when a remote
	// resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSnapshotNotFound is returned by SnapshotStore.ReadSnapshot when no
	// record exists for a document.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrTransferActive is returned when a transfer is scheduled for a file
	// item that already has one in flight.
	ErrTransferActive = errors.New("transfer already active for document")

	// ErrAccountPaused is returned by sync requests on an account whose
	// automatic schedule was paused by an authentication failure or an
	// unwritable snapshot store.
	ErrAccountPaused = errors.New("account paused")

	// ErrStoreUnwritable marks a failed snapshot store write. It pauses the
	// owning account until an explicit sync succeeds.
	ErrStoreUnwritable = errors.New("snapshot store unwritable")

	// ErrNoCredentials is returned by CredentialStore implementations when no
	// credentials are stored for an account.
	ErrNoCredentials = errors.New("no credentials for account")
)

// ErrorKind classifies failures for retry and propagation decisions.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindAuth
	KindConflict
	KindLocalIO
	KindCorrupt
	KindPermanent
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindLocalIO:
		return "local-io"
	case KindCorrupt:
		return "corrupt"
	case KindPermanent:
		return "permanent"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether failures of this kind are retried automatically.
// Local I/O errors are retried too; they are often transient (disk full,
// file held open) and the item stalls once the attempt budget is spent.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindLocalIO
}

// SyncError attaches a classification and the operation/path it concerns to
// an underlying error.
type SyncError struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewSyncError wraps err with an explicit kind.
func NewSyncError(kind ErrorKind, op, path string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Path: path, Err: err}
}

// StatusError reports a non-success status code from a remote request.
type StatusError struct {
	Op         string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d %s", e.Op, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is makes a 404 match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Kind maps the status code onto the error taxonomy.
func (e *StatusError) Kind() ErrorKind {
	switch code := e.StatusCode; {
	case code == http.StatusUnauthorized:
		return KindAuth
	case code == http.StatusForbidden,
		code == http.StatusMethodNotAllowed,
		code == http.StatusNotImplemented,
		code == http.StatusInsufficientStorage:
		return KindPermanent
	case code == http.StatusConflict, code == http.StatusPreconditionFailed:
		return KindConflict
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code == http.StatusNotFound,
		code >= 500:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}

// CorruptSnapshotError is returned by SnapshotStore implementations when a
// single record cannot be decoded.
type CorruptSnapshotError struct {
	ID  DocumentID
	Err error
}

func (e *CorruptSnapshotError) Error() string {
	return fmt.Sprintf("corrupt snapshot record %s: %v", e.ID, e.Err)
}

func (e *CorruptSnapshotError) Unwrap() error { return e.Err }

// Classify returns the ErrorKind of err.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ce *CorruptSnapshotError
	if errors.As(err, &ce) {
		return KindCorrupt
	}
	var st *StatusError
	if errors.As(err, &st) {
		return st.Kind()
	}
	if errors.Is(err, ErrNoCredentials) {
		return KindAuth
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	var pe *fs.PathError
	if errors.As(err, &pe) || errors.Is(err, fs.ErrPermission) {
		return KindLocalIO
	}
	return KindTransient
}
