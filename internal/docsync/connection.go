package docsync

import (
	"context"
	"io"
)

// Connection is the remote store capability. Paths are slash-separated and
// relative to the account's base URL. Implementations must be safe for
// concurrent use; transfers of one account share a single Connection.
type Connection interface {
	// ListDirectory returns the immediate children of a remote directory.
	ListDirectory(ctx context.Context, path string) ([]RemoteEntry, error)

	// Stat returns the entry for a single resource, or an error matching
	// ErrNotFound.
	Stat(ctx context.Context, path string) (*RemoteEntry, error)

	// GetContents opens the content of a remote file. The caller closes it.
	GetContents(ctx context.Context, path string) (io.ReadCloser, error)

	// PutContents stores size bytes read from r at path and returns the new
	// version token. The parent directory must exist.
	PutContents(ctx context.Context, path string, r io.Reader, size int64) (string, error)

	// Move renames a file or directory, replacing any existing destination.
	Move(ctx context.Context, from, to string) error

	// Delete removes a file or a directory tree.
	Delete(ctx context.Context, path string) error

	// MakeDirectory creates one directory. Creating a directory that already
	// exists is not an error.
	MakeDirectory(ctx context.Context, path string) error
}

// DocumentKey is the opaque encryption-at-rest capability applied to
// document content stored on the remote.
type DocumentKey interface {
	// Seal encrypts src into dst.
	Seal(dst io.Writer, src io.Reader) error

	// Open decrypts src into dst.
	Open(dst io.Writer, src io.Reader) error
}
