package fs_test

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"docsync-go/internal/docsync"
	"docsync-go/internal/fs"
)

const root = "/docs"

func newManager(t *testing.T, files map[string]string) (*fs.Manager, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	if err := mem.MkdirAll(root, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := mem.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := afero.WriteFile(mem, p, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	return fs.NewManager(mem, []string{"*.log"}, []string{".pages"}), mem
}

func byPath(docs []*docsync.LocalDocument) map[string]*docsync.LocalDocument {
	out := make(map[string]*docsync.LocalDocument, len(docs))
	for _, d := range docs {
		out[d.Path] = d
	}
	return out
}

func TestManager_ScanDocuments(t *testing.T) {
	m, _ := newManager(t, map[string]string{
		"foo.txt":                "hello",
		"sub/bar.txt":            "world",
		"debug.log":              "ignored by config",
		".DS_Store":              "ignored by default",
		"report.pages/index.xml": "<doc/>",
		"report.pages/img/a.png": "png",
		"drafts/skip.txt":        "ignored by file",
		".docsyncignore":         "drafts\n",
	})

	docs, err := m.ScanDocuments(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("ScanDocuments() error = %v", err)
	}
	got := byPath(docs)
	if len(got) != 3 {
		t.Fatalf("expected 3 documents, got %d: %v", len(got), got)
	}

	foo := got["foo.txt"]
	if foo == nil {
		t.Fatal("foo.txt not found")
	}
	if foo.IsPackage || foo.Size != 5 {
		t.Errorf("foo.txt = %+v", foo)
	}
	if len(foo.Manifest) != 1 || foo.Manifest[0].Hash != docsync.HashBytes([]byte("hello")) {
		t.Errorf("foo.txt manifest = %+v", foo.Manifest)
	}

	if got["sub/bar.txt"] == nil {
		t.Error("sub/bar.txt not found")
	}

	pkg := got["report.pages"]
	if pkg == nil {
		t.Fatal("report.pages not found")
	}
	if !pkg.IsPackage {
		t.Error("report.pages should be a package")
	}
	if len(pkg.Manifest) != 2 || pkg.Manifest[0].Path != "img/a.png" || pkg.Manifest[1].Path != "index.xml" {
		t.Errorf("package manifest = %+v", pkg.Manifest)
	}
	if pkg.Size != int64(len("<doc/>")+len("png")) {
		t.Errorf("package size = %d", pkg.Size)
	}
}

func TestManager_IgnoreRules(t *testing.T) {
	m, _ := newManager(t, map[string]string{
		"foo.txt":        "hello",
		"drafts/a.txt":   "draft",
		"debug.log":      "log",
		".docsyncignore": "drafts\n",
	})

	rules, err := m.IgnoreRules(root)
	if err != nil {
		t.Fatalf("IgnoreRules() error = %v", err)
	}
	tests := []struct {
		rel  string
		want bool
	}{
		{"drafts/a.txt", true},
		{"debug.log", true},
		{".docsyncignore", true},
		{"foo.txt", false},
	}
	for _, tt := range tests {
		if got := rules.Match(tt.rel); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
	if m.Ignored("drafts/a.txt") {
		t.Error("Ignored() applied the container's ignore file")
	}

	// Rules passed in replace the ones read from root.
	docs, err := m.ScanDocuments(context.Background(), root, fs.NewIgnoreMatcher([]string{"foo.txt"}), nil)
	if err != nil {
		t.Fatalf("ScanDocuments() error = %v", err)
	}
	got := byPath(docs)
	if got["foo.txt"] != nil || got["drafts/a.txt"] == nil {
		t.Errorf("ScanDocuments() with explicit rules = %v", got)
	}

	rules, err = m.IgnoreRules("/elsewhere")
	if err != nil {
		t.Fatalf("IgnoreRules() without an ignore file error = %v", err)
	}
	if rules.Match("drafts/a.txt") || !rules.Match("debug.log") {
		t.Error("rules for a folder without an ignore file should be the configured patterns")
	}
}

func TestManager_ScanDocuments_MissingRoot(t *testing.T) {
	t.Parallel()
	m := fs.NewManager(afero.NewMemMapFs(), nil, nil)
	if _, err := m.ScanDocuments(context.Background(), "/nope", nil, nil); err == nil {
		t.Fatal("expected error for missing container folder")
	}
}

func TestManager_ScanDocuments_UsesCache(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, map[string]string{"foo.txt": "hello"})
	cache, err := docsync.NewHashCache(16)
	if err != nil {
		t.Fatalf("NewHashCache() error = %v", err)
	}
	if _, err := m.ScanDocuments(context.Background(), root, nil, cache); err != nil {
		t.Fatalf("ScanDocuments() error = %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 cached hash, got %d", cache.Len())
	}
}

func TestManager_ScanDocument(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, map[string]string{"foo.txt": "hello"})

	doc, err := m.ScanDocument(root, "foo.txt", nil)
	if err != nil {
		t.Fatalf("ScanDocument() error = %v", err)
	}
	if doc.Manifest.Digest() == "" {
		t.Error("expected a manifest digest")
	}

	if _, err := m.ScanDocument(root, "gone.txt", nil); !errors.Is(err, iofs.ErrNotExist) {
		t.Errorf("ScanDocument(missing) error = %v, want ErrNotExist", err)
	}
}

func TestManager_Stage(t *testing.T) {
	t.Run("flat document replaces target on commit", func(t *testing.T) {
		t.Parallel()
		m, mem := newManager(t, map[string]string{"foo.txt": "old"})

		st, err := m.Stage(root, "foo.txt", false)
		if err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		entry, err := st.WriteFile("", strings.NewReader("new content"))
		if err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if entry.Hash != docsync.HashBytes([]byte("new content")) || entry.Size != 11 {
			t.Errorf("entry = %+v", entry)
		}

		data, _ := afero.ReadFile(mem, "/docs/foo.txt")
		if string(data) != "old" {
			t.Errorf("target changed before commit: %q", data)
		}
		if err := st.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		data, _ = afero.ReadFile(mem, "/docs/foo.txt")
		if string(data) != "new content" {
			t.Errorf("target = %q after commit", data)
		}
		if err := st.Abort(); err != nil {
			t.Errorf("Abort() after Commit() error = %v", err)
		}
		assertNoStaging(t, mem)
	})

	t.Run("abort leaves target untouched", func(t *testing.T) {
		t.Parallel()
		m, mem := newManager(t, map[string]string{"foo.txt": "old"})

		st, err := m.Stage(root, "foo.txt", false)
		if err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		if _, err := st.WriteFile("", strings.NewReader("partial")); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if err := st.Abort(); err != nil {
			t.Fatalf("Abort() error = %v", err)
		}
		data, _ := afero.ReadFile(mem, "/docs/foo.txt")
		if string(data) != "old" {
			t.Errorf("target = %q after abort", data)
		}
		assertNoStaging(t, mem)
	})

	t.Run("package replaces existing directory", func(t *testing.T) {
		t.Parallel()
		m, mem := newManager(t, map[string]string{
			"a.pages/index.xml": "v1",
			"a.pages/stale.png": "gone after replace",
		})

		st, err := m.Stage(root, "a.pages", true)
		if err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		if _, err := st.WriteFile("index.xml", strings.NewReader("v2")); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if _, err := st.WriteFile("data/blob.bin", strings.NewReader("blob")); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if err := st.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}

		doc, err := m.ScanDocument(root, "a.pages", nil)
		if err != nil {
			t.Fatalf("ScanDocument() error = %v", err)
		}
		if len(doc.Manifest) != 2 || doc.Manifest[0].Path != "data/blob.bin" || doc.Manifest[1].Path != "index.xml" {
			t.Errorf("manifest after replace = %+v", doc.Manifest)
		}
		assertNoStaging(t, mem)
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		t.Parallel()
		m, mem := newManager(t, nil)
		st, err := m.Stage(root, "deep/er/new.txt", false)
		if err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		if _, err := st.WriteFile("", strings.NewReader("x")); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if err := st.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if ok, _ := afero.Exists(mem, "/docs/deep/er/new.txt"); !ok {
			t.Error("expected committed file")
		}
	})
}

func assertNoStaging(t *testing.T, mem afero.Fs) {
	t.Helper()
	_ = afero.Walk(mem, root, func(p string, _ iofs.FileInfo, err error) error {
		if err == nil && strings.HasPrefix(filepath.Base(p), ".docsync-stage-") {
			t.Errorf("staging leftover: %s", p)
		}
		return nil
	})
}

func TestManager_Move(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	if err := m.Move(root, "a.txt", "b.txt"); !errors.Is(err, iofs.ErrExist) {
		t.Errorf("Move() onto existing error = %v, want ErrExist", err)
	}
	if err := m.Move(root, "a.txt", "moved/a.txt"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if m.Exists(root, "a.txt") || !m.Exists(root, "moved/a.txt") {
		t.Error("document was not moved")
	}
}

func TestManager_RemoveAndOpen(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, map[string]string{"x.pages/index.xml": "content"})

	r, err := m.Open(root, "x.pages", "index.xml")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "content" {
		t.Errorf("Open() read %q", data)
	}

	if err := m.Remove(root, "x.pages"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if m.Exists(root, "x.pages") {
		t.Error("package still exists after Remove()")
	}
	if err := m.Remove(root, "x.pages"); err != nil {
		t.Errorf("Remove() of missing document error = %v", err)
	}
}

func TestManager_IsPackageName(t *testing.T) {
	t.Parallel()
	m := fs.NewManager(afero.NewMemMapFs(), nil, []string{"pages", ".Key"})
	tests := map[string]bool{
		"a.pages":   true,
		"b.key":     true,
		"c.txt":     false,
		"pages":     false,
		"dir.PAGES": true,
	}
	for name, want := range tests {
		if got := m.IsPackageName(name); got != want {
			t.Errorf("IsPackageName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestManager_Watch(t *testing.T) {
	t.Run("rejects in-memory filesystem", func(t *testing.T) {
		t.Parallel()
		m := fs.NewManager(afero.NewMemMapFs(), nil, nil)
		if _, err := m.Watch(context.Background(), "/"); !errors.Is(err, fs.ErrWatchUnsupported) {
			t.Errorf("Watch() error = %v, want ErrWatchUnsupported", err)
		}
	})

	t.Run("channel closes with context", func(t *testing.T) {
		t.Parallel()
		m := fs.NewOSManager(nil, nil)
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := m.Watch(ctx, t.TempDir())
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
		cancel()
		for range ch {
		}
	})
}
