package remote_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"docsync-go/internal/docsync"
	"docsync-go/internal/remote"
)

func TestMemoryConnection_Tokens(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryConnection(nil)

	if err := m.MakeDirectory(ctx, "docs"); err != nil {
		t.Fatalf("MakeDirectory() error = %v", err)
	}
	t1, err := m.PutContents(ctx, "docs/a.txt", strings.NewReader("one"), 3)
	if err != nil {
		t.Fatalf("PutContents() error = %v", err)
	}
	t2, err := m.PutContents(ctx, "docs/a.txt", strings.NewReader("one"), 3)
	if err != nil {
		t.Fatalf("PutContents() error = %v", err)
	}
	if t1 == t2 {
		t.Errorf("rewriting identical content kept token %s", t1)
	}

	if err := m.Move(ctx, "docs/a.txt", "docs/b.txt"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	e, err := m.Stat(ctx, "docs/b.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if e.VersionToken != t2 {
		t.Errorf("Move() changed token %s -> %s", t2, e.VersionToken)
	}
	if m.Exists("docs/a.txt") {
		t.Error("source still exists after Move()")
	}
}

func TestMemoryConnection_Errors(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryConnection(nil)
	m.WriteFile("docs/a.txt", []byte("a"))

	tests := []struct {
		name string
		run  func() error
		kind docsync.ErrorKind
	}{
		{"stat missing", func() error { _, err := m.Stat(ctx, "nope"); return err }, docsync.KindTransient},
		{"put without parent", func() error {
			_, err := m.PutContents(ctx, "x/y.txt", strings.NewReader("y"), 1)
			return err
		}, docsync.KindConflict},
		{"mkdir without parent", func() error { return m.MakeDirectory(ctx, "x/y") }, docsync.KindConflict},
		{"list a file", func() error { _, err := m.ListDirectory(ctx, "docs/a.txt"); return err }, docsync.KindConflict},
		{"move into itself", func() error { return m.Move(ctx, "docs", "docs/sub") }, docsync.KindConflict},
		{"delete root", func() error { return m.Delete(ctx, "") }, docsync.KindPermanent},
		{"get a directory", func() error { _, err := m.GetContents(ctx, "docs"); return err }, docsync.KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatal("expected error")
			}
			if got := docsync.Classify(err); got != tt.kind {
				t.Errorf("Classify() = %s, want %s (err %v)", got, tt.kind, err)
			}
		})
	}

	if err := m.Delete(ctx, "nope"); !errors.Is(err, docsync.ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := m.PutContents(ctx, "docs/b.txt", strings.NewReader("abc"), 5); err == nil {
		t.Error("PutContents() with wrong size should fail")
	}
}

func TestMemoryConnection_MoveDirectory(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryConnection(nil)
	tok := m.WriteFile("a.pkg/index.xml", []byte("x"))
	m.WriteFile("a.pkg/img/1.png", []byte("1"))
	m.WriteFile("b.pkg/old.xml", []byte("old"))

	if err := m.Move(ctx, "a.pkg", "b.pkg"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	want := []string{"b.pkg/img/1.png", "b.pkg/index.xml"}
	if got := m.Files(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Files() = %v, want %v", got, want)
	}
	e, err := m.Stat(ctx, "b.pkg/index.xml")
	if err != nil || e.VersionToken != tok {
		t.Errorf("Stat() = %+v, %v; want token %s", e, err, tok)
	}

	entries, err := m.ListDirectory(ctx, "b.pkg")
	if err != nil {
		t.Fatalf("ListDirectory() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "img" || !entries[0].IsDirectory || entries[1].Name != "index.xml" {
		t.Errorf("ListDirectory() = %+v", entries)
	}
}

func TestMemoryConnection_Hook(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryConnection(nil)
	fail := errors.New("injected")
	m.SetHook(func(_ context.Context, op remote.Op, p string) error {
		if op == remote.OpPut && strings.HasSuffix(p, ".bad") {
			return fail
		}
		return nil
	})

	if _, err := m.PutContents(ctx, "x.bad", strings.NewReader(""), 0); !errors.Is(err, fail) {
		t.Errorf("PutContents() error = %v, want injected", err)
	}
	if m.Exists("x.bad") {
		t.Error("failed put changed the tree")
	}
	if _, err := m.PutContents(ctx, "x.good", strings.NewReader(""), 0); err != nil {
		t.Errorf("PutContents() error = %v", err)
	}
	if got := m.Calls(remote.OpPut); got != 2 {
		t.Errorf("Calls(put) = %d, want 2", got)
	}

	m.SetHook(nil)
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Stat(cctx, "x.good"); !errors.Is(err, context.Canceled) {
		t.Errorf("Stat() with cancelled context error = %v", err)
	}
}

func TestMemoryConnection_MaxConcurrent(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemoryConnection(nil)
	m.WriteFile("docs/keep", nil)

	const writers = 3
	var started sync.WaitGroup
	started.Add(writers)
	release := make(chan struct{})
	m.SetHook(func(_ context.Context, op remote.Op, _ string) error {
		if op == remote.OpPut {
			started.Done()
			<-release
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "docs/" + string(rune('a'+i))
			if _, err := m.PutContents(ctx, name, strings.NewReader("x"), 1); err != nil {
				t.Errorf("PutContents(%s) error = %v", name, err)
			}
		}()
	}
	started.Wait()
	close(release)
	wg.Wait()

	// Tracking starts after the hook returns, so overlap below "docs" is
	// likely but not certain.
	if got := m.MaxConcurrent("docs/a"); got != 1 {
		t.Errorf("MaxConcurrent(docs/a) = %d, want 1", got)
	}
	if got := m.MaxConcurrent("docs"); got < 1 || got > writers {
		t.Errorf("MaxConcurrent(docs) = %d, want 1..%d", got, writers)
	}
}
