package docsync

import (
	"context"
	"io"
)

// FilesystemManager is the local filesystem capability. root is the local
// folder of a container; rel and entry paths are slash-separated, rel
// relative to root and entry relative to the document (empty for flat
// documents).
type FilesystemManager interface {
	// ScanDocuments walks root and returns every document with its manifest,
	// skipping paths matched by ignore. A nil ignore applies
	// IgnoreRules(root). Files inside a package directory are grouped into
	// one document. A missing root is an error.
	ScanDocuments(ctx context.Context, root string, ignore IgnoreRules, cache *HashCache) ([]*LocalDocument, error)

	// ScanDocument rescans a single document. It returns an error matching
	// fs.ErrNotExist when the document is gone.
	ScanDocument(root, rel string, cache *HashCache) (*LocalDocument, error)

	// Open opens one constituent file of a document for reading.
	Open(root, rel, entry string) (io.ReadCloser, error)

	// Stage starts writing a new version of a document. Nothing is visible at
	// rel until Commit atomically replaces it.
	Stage(root, rel string, isPackage bool) (StagedDocument, error)

	// Move renames a document, creating parent directories as needed. It
	// fails if the destination exists.
	Move(root, from, to string) error

	// Remove deletes a document. Removing a missing document is not an error.
	Remove(root, rel string) error

	// Exists reports whether anything is present at rel.
	Exists(root, rel string) bool

	// IsPackageName reports whether a directory with this base name is a
	// package document.
	IsPackageName(name string) bool

	// IgnoreRules returns the rules in effect for root: the configured
	// patterns plus the ignore file stored in root. One pass filters both
	// sides of a container with the same rules.
	IgnoreRules(root string) (IgnoreRules, error)

	// Watch delivers a signal whenever something under root may have
	// changed. Notifications are best effort and coalesced. The channel is
	// closed when ctx is done.
	Watch(ctx context.Context, root string) (<-chan struct{}, error)
}

// IgnoreRules decides which relative paths take no part in sync.
type IgnoreRules interface {
	Match(rel string) bool
}

// StagedDocument is a document version being written to a local temporary
// location.
type StagedDocument interface {
	// WriteFile writes one constituent file and returns its manifest entry.
	WriteFile(entry string, r io.Reader) (ManifestEntry, error)

	// Commit atomically replaces the document at its final path.
	Commit() error

	// Abort discards the staged content. It is safe to call after Commit.
	Abort() error
}
