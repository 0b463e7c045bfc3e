package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"docsync-go/internal/docsync"
)

const (
	recordExt     = ".json"
	recordVersion = 1
	tempPrefix    = ".tmp-"
)

// record is the on-disk form of one snapshot.
type record struct {
	Version  int               `json:"version"`
	Snapshot *docsync.Snapshot `json:"snapshot"`
}

// FileStore is a docsync.SnapshotStore keeping one JSON record file per
// document in a directory:
//
//	<dir>/
//	  <documentID>.json
type FileStore struct {
	fs  afero.Fs
	dir string
}

var _ docsync.SnapshotStore = (*FileStore)(nil)

// NewFileStore creates a record store in dir on fsys, creating the directory
// if needed.
func NewFileStore(fsys afero.Fs, dir string) (*FileStore, error) {
	if err := fsys.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{fs: fsys, dir: dir}, nil
}

// Dir returns the record directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) recordPath(id docsync.DocumentID) (string, error) {
	name := string(id)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid document id %q", name)
	}
	return filepath.Join(s.dir, name+recordExt), nil
}

// ReadSnapshot loads the record for id.
func (s *FileStore) ReadSnapshot(id docsync.DocumentID) (*docsync.Snapshot, error) {
	p, err := s.recordPath(id)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, docsync.ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", id, err)
	}
	return decodeRecord(id, data)
}

// WriteSnapshot replaces the record for snap.DocumentID using an atomic
// write (temp file + rename).
func (s *FileStore) WriteSnapshot(snap *docsync.Snapshot) error {
	if snap == nil {
		return errors.New("writing snapshot: nil snapshot")
	}
	destPath, err := s.recordPath(snap.DocumentID)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	data, err := json.Marshal(record{Version: recordVersion, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", snap.DocumentID, err)
	}

	tmpFile, err := afero.TempFile(s.fs, s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write snapshot %s: %w", snap.DocumentID, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync snapshot %s: %w", snap.DocumentID, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// EnumerateSnapshots yields every record in document id order. Undecodable
// records are yielded as *docsync.CorruptSnapshotError.
func (s *FileStore) EnumerateSnapshots() iter.Seq2[*docsync.Snapshot, error] {
	return func(yield func(*docsync.Snapshot, error) bool) {
		entries, err := afero.ReadDir(s.fs, s.dir)
		if err != nil {
			yield(nil, fmt.Errorf("listing snapshots: %w", err))
			return
		}
		var ids []docsync.DocumentID
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, tempPrefix) || filepath.Ext(name) != recordExt {
				continue
			}
			ids = append(ids, docsync.DocumentID(strings.TrimSuffix(name, recordExt)))
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			snap, err := s.ReadSnapshot(id)
			if errors.Is(err, docsync.ErrSnapshotNotFound) {
				// deleted since the listing
				continue
			}
			if !yield(snap, err) {
				return
			}
		}
	}
}

// DeleteSnapshot removes the record for id.
func (s *FileStore) DeleteSnapshot(id docsync.DocumentID) error {
	p, err := s.recordPath(id)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return nil
}

// Close is a no-op; the store holds no open files.
func (s *FileStore) Close() error {
	return nil
}

func decodeRecord(id docsync.DocumentID, data []byte) (*docsync.Snapshot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &docsync.CorruptSnapshotError{ID: id, Err: err}
	}
	if rec.Version != recordVersion {
		return nil, &docsync.CorruptSnapshotError{ID: id, Err: fmt.Errorf("unsupported record version %d", rec.Version)}
	}
	if rec.Snapshot == nil || rec.Snapshot.DocumentID != id {
		return nil, &docsync.CorruptSnapshotError{ID: id, Err: errors.New("record does not match its file name")}
	}
	rec.Snapshot.Manifest = docsync.NewManifest(rec.Snapshot.Manifest)
	return rec.Snapshot, nil
}
