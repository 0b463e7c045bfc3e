package snapshot

import (
	"errors"
	"testing"

	"docsync-go/internal/docsync"
)

func TestMemoryStore(t *testing.T) {
	t.Run("stores copies", func(t *testing.T) {
		m := NewMemoryStore()
		snap := testSnapshot("doc-1", "a.txt")
		if err := m.WriteSnapshot(snap); err != nil {
			t.Fatalf("WriteSnapshot() error = %v", err)
		}
		snap.Path = "changed.txt"
		snap.Manifest[0].Hash = "changed"

		got, err := m.ReadSnapshot("doc-1")
		if err != nil {
			t.Fatalf("ReadSnapshot() error = %v", err)
		}
		if got.Path != "a.txt" || got.Manifest[0].Hash == "changed" {
			t.Errorf("stored record was mutated: %+v", got)
		}
	})

	t.Run("missing and deleted", func(t *testing.T) {
		m := NewMemoryStore()
		if _, err := m.ReadSnapshot("doc-1"); !errors.Is(err, docsync.ErrSnapshotNotFound) {
			t.Errorf("ReadSnapshot() error = %v", err)
		}
		m.WriteSnapshot(testSnapshot("doc-1", "a.txt"))
		if err := m.DeleteSnapshot("doc-1"); err != nil {
			t.Fatalf("DeleteSnapshot() error = %v", err)
		}
		if m.Len() != 0 {
			t.Errorf("Len() = %d after delete", m.Len())
		}
	})

	t.Run("corrupt records", func(t *testing.T) {
		m := NewMemoryStore()
		m.WriteSnapshot(testSnapshot("doc-1", "a.txt"))
		m.WriteSnapshot(testSnapshot("doc-2", "b.txt"))
		m.MarkCorrupt("doc-2")

		var ce *docsync.CorruptSnapshotError
		if _, err := m.ReadSnapshot("doc-2"); !errors.As(err, &ce) {
			t.Errorf("ReadSnapshot() error = %v, want CorruptSnapshotError", err)
		}

		var good, bad int
		for snap, err := range m.EnumerateSnapshots() {
			if err != nil {
				bad++
				continue
			}
			if snap.DocumentID != "doc-1" {
				t.Errorf("unexpected snapshot %s", snap.DocumentID)
			}
			good++
		}
		if good != 1 || bad != 1 {
			t.Errorf("enumerated %d good and %d corrupt, want 1 and 1", good, bad)
		}

		m.WriteSnapshot(testSnapshot("doc-2", "b.txt"))
		if _, err := m.ReadSnapshot("doc-2"); err != nil {
			t.Errorf("rewritten record unreadable: %v", err)
		}
	})

	t.Run("write failures", func(t *testing.T) {
		m := NewMemoryStore()
		boom := errors.New("disk full")
		m.FailWrites(boom)
		if err := m.WriteSnapshot(testSnapshot("doc-1", "a.txt")); !errors.Is(err, boom) {
			t.Errorf("WriteSnapshot() error = %v, want %v", err, boom)
		}
		m.FailWrites(nil)
		if err := m.WriteSnapshot(testSnapshot("doc-1", "a.txt")); err != nil {
			t.Errorf("WriteSnapshot() error = %v", err)
		}
		if m.Writes() != 1 {
			t.Errorf("Writes() = %d, want 1", m.Writes())
		}
	})
}
