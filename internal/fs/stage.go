package fs

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"docsync-go/internal/docsync"
)

// stagePrefix names temporary files and directories created next to the
// documents they replace. Scans never report them.
const stagePrefix = ".docsync-stage-"

type stagedDocument struct {
	fs        afero.Fs
	target    string
	tmp       string
	isPackage bool
	done      bool
}

// Stage starts writing a new version of the document at rel. Content goes to
// a temporary sibling of the target, so Commit is a rename within one
// directory.
func (m *Manager) Stage(root, rel string, isPackage bool) (docsync.StagedDocument, error) {
	target := join(root, rel)
	dir := filepath.Dir(target)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}

	s := &stagedDocument{fs: m.fs, target: target, isPackage: isPackage}
	if isPackage {
		tmp, err := afero.TempDir(m.fs, dir, stagePrefix)
		if err != nil {
			return nil, fmt.Errorf("creating staging directory: %w", err)
		}
		s.tmp = tmp
		return s, nil
	}

	f, err := afero.TempFile(m.fs, dir, stagePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}
	s.tmp = f.Name()
	if err := f.Close(); err != nil {
		m.fs.Remove(s.tmp)
		return nil, fmt.Errorf("closing staging file: %w", err)
	}
	return s, nil
}

// WriteFile writes one constituent file and returns its manifest entry.
func (s *stagedDocument) WriteFile(entry string, r io.Reader) (docsync.ManifestEntry, error) {
	if s.done {
		return docsync.ManifestEntry{}, errors.New("staged document already finished")
	}
	p := s.tmp
	if s.isPackage {
		if entry == "" {
			return docsync.ManifestEntry{}, errors.New("package entries need a path")
		}
		p = filepath.Join(s.tmp, filepath.FromSlash(entry))
		if err := s.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return docsync.ManifestEntry{}, err
		}
	} else if entry != "" {
		return docsync.ManifestEntry{}, fmt.Errorf("flat document has no entry %q", entry)
	}

	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return docsync.ManifestEntry{}, err
	}
	h := docsync.NewContentHash()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		f.Close()
		return docsync.ManifestEntry{}, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return docsync.ManifestEntry{}, err
	}
	if err := f.Close(); err != nil {
		return docsync.ManifestEntry{}, err
	}
	return docsync.ManifestEntry{Path: entry, Hash: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// Commit replaces the target. Flat documents are replaced by a single
// rename. A package replacing an existing directory is swapped through a
// second temporary name, since directories cannot be renamed over.
func (s *stagedDocument) Commit() error {
	if s.done {
		return errors.New("staged document already finished")
	}
	s.done = true

	existing, err := s.fs.Stat(s.target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		existing = nil
	case err != nil:
		s.fs.RemoveAll(s.tmp)
		return err
	}

	if existing == nil || (!existing.IsDir() && !s.isPackage) {
		if err := s.fs.Rename(s.tmp, s.target); err != nil {
			s.fs.RemoveAll(s.tmp)
			return fmt.Errorf("replacing %s: %w", s.target, err)
		}
		return nil
	}

	old := s.tmp + "-old"
	if err := s.fs.Rename(s.target, old); err != nil {
		s.fs.RemoveAll(s.tmp)
		return fmt.Errorf("moving old version aside: %w", err)
	}
	if err := s.fs.Rename(s.tmp, s.target); err != nil {
		s.fs.Rename(old, s.target)
		s.fs.RemoveAll(s.tmp)
		return fmt.Errorf("replacing %s: %w", s.target, err)
	}
	return s.fs.RemoveAll(old)
}

// Abort discards the staged content.
func (s *stagedDocument) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.fs.RemoveAll(s.tmp)
}
