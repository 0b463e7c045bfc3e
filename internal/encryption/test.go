package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"docsync-go/internal/docsync"
)

// testHeader is prepended to sealed content by TestKey so ciphertext differs
// from plaintext while staying deterministic and reversible.
var testHeader = []byte("DSENC\x00\x00\x00")

// TestKey is a deterministic document key for tests. It prepends a fixed
// 8-byte header when sealing and strips it when opening.
type TestKey struct{}

var _ docsync.DocumentKey = TestKey{}

// NewTestKey creates a TestKey.
func NewTestKey() TestKey { return TestKey{} }

func (TestKey) Seal(dst io.Writer, src io.Reader) error {
	if _, err := dst.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (TestKey) Open(dst io.Writer, src io.Reader) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("invalid test encryption header")
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
