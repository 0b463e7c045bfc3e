package docsync

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// DocumentID identifies a logical document across renames and moves.
// It is assigned when a document is first seen and persisted in its snapshot.
type DocumentID string

// ManifestEntry is one constituent file of a document.
// Path is relative to the document root; it is empty for flat documents.
type ManifestEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Manifest is the set of entries defining one version of a document,
// sorted by Path.
type Manifest []ManifestEntry

// NewManifest copies entries into a Manifest sorted by path.
func NewManifest(entries []ManifestEntry) Manifest {
	m := make(Manifest, len(entries))
	copy(m, entries)
	sort.Slice(m, func(i, j int) bool { return m[i].Path < m[j].Path })
	return m
}

// Equal reports whether both manifests list the same relative paths with the
// same content hashes.
func (m Manifest) Equal(o Manifest) bool {
	if len(m) != len(o) {
		return false
	}
	for i := range m {
		if m[i].Path != o[i].Path || m[i].Hash != o[i].Hash {
			return false
		}
	}
	return true
}

// Digest returns a single hash identifying the manifest's content.
// Two manifests have the same digest iff they are Equal.
func (m Manifest) Digest() string {
	if len(m) == 0 {
		return ""
	}
	h := sha256.New()
	for _, e := range m {
		io.WriteString(h, e.Path)
		h.Write([]byte{0})
		io.WriteString(h, e.Hash)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Size returns the total size of all entries.
func (m Manifest) Size() int64 {
	var total int64
	for _, e := range m {
		total += e.Size
	}
	return total
}

// Snapshot is the recorded, last-synced state of one document.
type Snapshot struct {
	DocumentID   DocumentID `json:"document_id"`
	Container    string     `json:"container"`
	Path         string     `json:"path"`
	IsPackage    bool       `json:"is_package"`
	VersionToken string     `json:"version_token"`
	ModifiedAt   time.Time  `json:"modified_at"`
	Size         int64      `json:"size"`
	Manifest     Manifest   `json:"manifest"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Manifest = NewManifest(s.Manifest)
	return &c
}

// LocalDocument is one document as found by a local scan.
type LocalDocument struct {
	Path       string
	IsPackage  bool
	ModifiedAt time.Time
	Size       int64
	Manifest   Manifest
}

// Snapshot builds a snapshot recording this local document as synced at the
// given remote version.
func (d *LocalDocument) Snapshot(id DocumentID, container, token string) *Snapshot {
	return &Snapshot{
		DocumentID:   id,
		Container:    container,
		Path:         d.Path,
		IsPackage:    d.IsPackage,
		VersionToken: token,
		ModifiedAt:   d.ModifiedAt,
		Size:         d.Size,
		Manifest:     NewManifest(d.Manifest),
	}
}

// RemoteEntry is one item of a remote directory listing.
type RemoteEntry struct {
	Name         string
	VersionToken string
	Size         int64
	IsDirectory  bool
	ModifiedAt   time.Time
}

// RemoteFile is one file inside a remote package document.
type RemoteFile struct {
	Path         string
	VersionToken string
	Size         int64
}

// RemoteVersion is the current remote state of one document as assembled
// from directory listings.
type RemoteVersion struct {
	Path         string
	IsPackage    bool
	VersionToken string
	Size         int64
	ModifiedAt   time.Time
	Files        []RemoteFile
}

// PackageToken derives a version token for a package document from the
// version tokens of its files.
func PackageToken(files []RemoteFile) string {
	sorted := make([]RemoteFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, f := range sorted {
		io.WriteString(h, f.Path)
		h.Write([]byte{0})
		io.WriteString(h, f.VersionToken)
		h.Write([]byte{'\n'})
	}
	return "pkg-" + hex.EncodeToString(h.Sum(nil))
}

// JoinRemote joins remote path elements into a slash-separated path relative
// to the account base. Empty elements are dropped.
func JoinRemote(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}
