package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"docsync-go/internal/docsync"
)

// DefaultPackageExtensions are directory extensions treated as package
// documents when none are configured.
var DefaultPackageExtensions = []string{".bundle", ".pkg", ".rtfd", ".oo3", ".graffle", ".sparsebundle"}

// Manager implements docsync.FilesystemManager on an afero filesystem.
type Manager struct {
	fs          afero.Fs
	ignore      *IgnoreMatcher
	packageExts map[string]struct{}
}

// NewManager creates a manager over fsys. Ignore patterns follow
// IgnoreMatcher rules; packageExts lists directory extensions (with the dot)
// that make a directory one document.
func NewManager(fsys afero.Fs, ignore []string, packageExts []string) *Manager {
	if packageExts == nil {
		packageExts = DefaultPackageExtensions
	}
	exts := make(map[string]struct{}, len(packageExts))
	for _, e := range packageExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Manager{
		fs:          fsys,
		ignore:      NewIgnoreMatcher(append(append([]string{}, defaultIgnorePatterns...), ignore...)),
		packageExts: exts,
	}
}

// NewOSManager creates a manager over the real filesystem.
func NewOSManager(ignore []string, packageExts []string) *Manager {
	return NewManager(afero.NewOsFs(), ignore, packageExts)
}

// Fs returns the underlying filesystem.
func (m *Manager) Fs() afero.Fs { return m.fs }

// IsPackageName reports whether a directory with this name is a package.
func (m *Manager) IsPackageName(name string) bool {
	_, ok := m.packageExts[strings.ToLower(path.Ext(name))]
	return ok
}

// Ignored reports whether rel is excluded by the configured patterns alone.
// Watch uses it to drop notifications.
func (m *Manager) Ignored(rel string) bool {
	return m.ignore.Match(rel)
}

// IgnoreRules combines the configured patterns with root's ignore file.
func (m *Manager) IgnoreRules(root string) (docsync.IgnoreRules, error) {
	extra, err := ParseIgnoreFile(m.fs, filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return m.ignore.With(extra), nil
}

func join(root, rel string, more ...string) string {
	parts := append([]string{root, filepath.FromSlash(rel)}, more...)
	for i := 2; i < len(parts); i++ {
		parts[i] = filepath.FromSlash(parts[i])
	}
	return filepath.Join(parts...)
}

func toRel(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", p, root)
	}
	return filepath.ToSlash(rel), nil
}

// ScanDocuments walks root and returns every document with its manifest.
func (m *Manager) ScanDocuments(ctx context.Context, root string, ignore docsync.IgnoreRules, cache *docsync.HashCache) ([]*docsync.LocalDocument, error) {
	info, err := m.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat container folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("container folder is not a directory: %s", root)
	}

	if ignore == nil {
		if ignore, err = m.IgnoreRules(root); err != nil {
			return nil, err
		}
	}

	var docs []*docsync.LocalDocument
	err = afero.Walk(m.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			// Files removed while walking are picked up by the next scan.
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := toRel(root, p)
		if err != nil {
			return err
		}
		if ignore.Match(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if !m.IsPackageName(info.Name()) {
				return nil
			}
			doc, err := m.scanPackage(root, rel, cache)
			if err != nil {
				if errors.Is(err, iofs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			docs = append(docs, doc)
			return filepath.SkipDir
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		doc, err := m.scanFile(p, rel, info, cache)
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return docs, nil
}

// ScanDocument rescans the single document at rel.
func (m *Manager) ScanDocument(root, rel string, cache *docsync.HashCache) (*docsync.LocalDocument, error) {
	p := join(root, rel)
	info, err := m.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		if !m.IsPackageName(info.Name()) {
			return nil, fmt.Errorf("%s is a plain directory, not a document", rel)
		}
		return m.scanPackage(root, rel, cache)
	}
	return m.scanFile(p, rel, info, cache)
}

func (m *Manager) scanFile(p, rel string, info os.FileInfo, cache *docsync.HashCache) (*docsync.LocalDocument, error) {
	hash, err := m.hashFile(p, info, cache)
	if err != nil {
		return nil, err
	}
	return &docsync.LocalDocument{
		Path:       rel,
		ModifiedAt: info.ModTime(),
		Size:       info.Size(),
		Manifest:   docsync.Manifest{{Path: "", Hash: hash, Size: info.Size()}},
	}, nil
}

func (m *Manager) scanPackage(root, rel string, cache *docsync.HashCache) (*docsync.LocalDocument, error) {
	dir := join(root, rel)
	doc := &docsync.LocalDocument{Path: rel, IsPackage: true}
	var entries []docsync.ManifestEntry
	err := afero.Walk(m.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		entry, err := toRel(dir, p)
		if err != nil {
			return err
		}
		if strings.HasPrefix(path.Base(entry), stagePrefix) {
			return nil
		}
		hash, err := m.hashFile(p, info, cache)
		if err != nil {
			return err
		}
		entries = append(entries, docsync.ManifestEntry{Path: entry, Hash: hash, Size: info.Size()})
		doc.Size += info.Size()
		if info.ModTime().After(doc.ModifiedAt) {
			doc.ModifiedAt = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	doc.Manifest = docsync.NewManifest(entries)
	return doc, nil
}

func (m *Manager) hashFile(p string, info os.FileInfo, cache *docsync.HashCache) (string, error) {
	if h, ok := cache.Lookup(p, info.Size(), info.ModTime()); ok {
		return h, nil
	}
	f, err := m.fs.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, _, err := docsync.ContentHash(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", p, err)
	}
	cache.Store(p, info.Size(), info.ModTime(), h)
	return h, nil
}

// Open opens one constituent file of a document.
func (m *Manager) Open(root, rel, entry string) (io.ReadCloser, error) {
	return m.fs.Open(join(root, rel, entry))
}

// Move renames a document. The destination must not exist.
func (m *Manager) Move(root, from, to string) error {
	src, dst := join(root, from), join(root, to)
	if ok, _ := afero.Exists(m.fs, dst); ok {
		return &os.PathError{Op: "move", Path: dst, Err: iofs.ErrExist}
	}
	if err := m.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := m.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to %s: %w", from, to, err)
	}
	return nil
}

// Remove deletes a document and everything below it.
func (m *Manager) Remove(root, rel string) error {
	if err := m.fs.RemoveAll(join(root, rel)); err != nil {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether anything is present at rel.
func (m *Manager) Exists(root, rel string) bool {
	ok, err := afero.Exists(m.fs, join(root, rel))
	return err == nil && ok
}

var _ docsync.FilesystemManager = (*Manager)(nil)
