package remote

import (
	"context"
	"fmt"
	"io"

	"docsync-go/internal/docsync"
)

// KeyedConnection encrypts content on its way to the wrapped connection and
// decrypts it on the way back. Names, directories and version tokens pass
// through unchanged. Reported sizes are those of the stored ciphertext.
type KeyedConnection struct {
	docsync.Connection
	key docsync.DocumentKey
}

// NewKeyedConnection wraps conn so content is sealed with key at rest.
func NewKeyedConnection(conn docsync.Connection, key docsync.DocumentKey) *KeyedConnection {
	return &KeyedConnection{Connection: conn, key: key}
}

// GetContents returns a reader of the decrypted content.
func (k *KeyedConnection) GetContents(ctx context.Context, p string) (io.ReadCloser, error) {
	rc, err := k.Connection.GetContents(ctx, p)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	go func() {
		defer rc.Close()
		if err := k.key.Open(pw, rc); err != nil {
			pw.CloseWithError(docsync.NewSyncError(docsync.KindCorrupt, "decrypt", p, err))
			return
		}
		pw.Close()
	}()
	return pr, nil
}

// PutContents encrypts r while streaming it to the wrapped connection. The
// ciphertext length is not known up front, so the size is passed as -1.
func (k *KeyedConnection) PutContents(ctx context.Context, p string, r io.Reader, size int64) (string, error) {
	pr, pw := io.Pipe()
	go func() {
		if err := k.key.Seal(pw, r); err != nil {
			pw.CloseWithError(fmt.Errorf("encrypting %s: %w", p, err))
			return
		}
		pw.Close()
	}()
	token, err := k.Connection.PutContents(ctx, p, pr, -1)
	// Unblocks the sealing goroutine if the upload stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	return token, err
}

var _ docsync.Connection = (*KeyedConnection)(nil)
