package snapshot

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"docsync-go/internal/docsync"
)

// MemoryStore is an in-memory docsync.SnapshotStore, useful for testing.
// Records are kept as copies so callers cannot mutate stored state.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[docsync.DocumentID]*docsync.Snapshot
	corrupt  map[docsync.DocumentID]struct{}
	writeErr error
	writes   int
	closed   bool
}

var _ docsync.SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[docsync.DocumentID]*docsync.Snapshot),
		corrupt: make(map[docsync.DocumentID]struct{}),
	}
}

// ReadSnapshot returns a copy of the record for id.
func (m *MemoryStore) ReadSnapshot(id docsync.DocumentID) (*docsync.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.corrupt[id]; ok {
		return nil, &docsync.CorruptSnapshotError{ID: id, Err: errors.New("record unreadable")}
	}
	snap, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, docsync.ErrSnapshotNotFound)
	}
	return snap.Clone(), nil
}

// WriteSnapshot stores a copy of snap.
func (m *MemoryStore) WriteSnapshot(snap *docsync.Snapshot) error {
	if snap == nil || snap.DocumentID == "" {
		return errors.New("writing snapshot: document id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return fmt.Errorf("writing snapshot %s: %w", snap.DocumentID, m.writeErr)
	}
	m.records[snap.DocumentID] = snap.Clone()
	delete(m.corrupt, snap.DocumentID)
	m.writes++
	return nil
}

// EnumerateSnapshots yields corrupt records first, then copies of every
// record in document id order.
func (m *MemoryStore) EnumerateSnapshots() iter.Seq2[*docsync.Snapshot, error] {
	return func(yield func(*docsync.Snapshot, error) bool) {
		m.mu.RLock()
		var corrupt []docsync.DocumentID
		for id := range m.corrupt {
			corrupt = append(corrupt, id)
		}
		snaps := make([]*docsync.Snapshot, 0, len(m.records))
		for _, s := range m.records {
			snaps = append(snaps, s.Clone())
		}
		m.mu.RUnlock()

		sort.Slice(corrupt, func(i, j int) bool { return corrupt[i] < corrupt[j] })
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].DocumentID < snaps[j].DocumentID })

		for _, id := range corrupt {
			if !yield(nil, &docsync.CorruptSnapshotError{ID: id, Err: errors.New("record unreadable")}) {
				return
			}
		}
		for _, s := range snaps {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// DeleteSnapshot removes the record for id.
func (m *MemoryStore) DeleteSnapshot(id docsync.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	delete(m.corrupt, id)
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MemoryStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// MarkCorrupt makes the record for id unreadable until it is rewritten or
// deleted.
func (m *MemoryStore) MarkCorrupt(id docsync.DocumentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	m.corrupt[id] = struct{}{}
}

// FailWrites makes every following WriteSnapshot return err. A nil err
// restores normal behavior.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Len returns the number of readable records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Writes returns the number of successful writes.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
