package fs

import (
	"testing"

	"github.com/spf13/afero"
)

func TestNewIgnoreMatcher(t *testing.T) {
	m := NewIgnoreMatcher([]string{"", "  ", "# drafts", "*.bak", "/archive/", "/", "exports/*.pdf"})
	if len(m.patterns) != 3 {
		t.Fatalf("got %d patterns, want 3: %+v", len(m.patterns), m.patterns)
	}
	want := []ignorePattern{
		{pattern: "*.bak"},
		{pattern: "archive"},
		{pattern: "exports/*.pdf", matchPath: true},
	}
	for i, p := range want {
		if m.patterns[i] != p {
			t.Errorf("pattern %d = %+v, want %+v", i, m.patterns[i], p)
		}
	}
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		rel      string
		want     bool
	}{
		{"backup file in root", []string{"*.bak"}, "notes.bak", true},
		{"backup file in folder", []string{"*.bak"}, "2024/q1/notes.bak", true},
		{"other extension", []string{"*.bak"}, "notes.txt", false},
		{"directory name hides its contents", []string{"archive"}, "archive/old/plan.txt", true},
		{"directory name inside a folder", []string{"archive"}, "work/archive/plan.txt", true},
		{"name is not a substring match", []string{"archive"}, "archived.txt", false},
		{"path pattern", []string{"exports/*.pdf"}, "exports/report.pdf", true},
		{"path pattern is anchored", []string{"exports/*.pdf"}, "old/exports/report.pdf", false},
		{"path pattern prefix hides a subtree", []string{"work/private"}, "work/private/salary.xlsx", true},
		{"file inside a package document", []string{"*.png"}, "report.pages/img/a.png", true},
		{"single character wildcard", []string{"draft?.txt"}, "draft1.txt", true},
		{"single character wildcard needs one", []string{"draft?.txt"}, "draft12.txt", false},
		{"character class", []string{"*.[ch]"}, "src/main.c", true},
		{"no patterns", nil, "notes.txt", false},
		{"empty path", []string{"*.bak"}, "", false},
		{"malformed pattern never matches", []string{"[unclosed"}, "[unclosed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewIgnoreMatcher(tt.patterns).Match(tt.rel); got != tt.want {
				t.Errorf("Match(%q) with %q = %v, want %v", tt.rel, tt.patterns, got, tt.want)
			}
		})
	}

	var none *IgnoreMatcher
	if none.Match("notes.txt") {
		t.Error("nil matcher should match nothing")
	}
}

func TestIgnoreMatcher_Defaults(t *testing.T) {
	m := NewManager(afero.NewMemMapFs(), []string{"*.bak"}, nil)
	for _, rel := range []string{IgnoreFileName, ".docsync-tmp", "work/.DS_Store", "~$budget.xlsx", "notes.bak"} {
		if !m.Ignored(rel) {
			t.Errorf("Ignored(%q) = false, want true", rel)
		}
	}
	if m.Ignored("notes.txt") {
		t.Error("Ignored(notes.txt) = true")
	}
}

func TestIgnoreMatcher_With(t *testing.T) {
	base := NewIgnoreMatcher([]string{"*.bak"})
	m := base.With([]string{"drafts"})
	if !m.Match("a.bak") || !m.Match("drafts/a.txt") {
		t.Error("combined matcher should apply both pattern sets")
	}
	if base.Match("drafts/a.txt") {
		t.Error("With must not modify the receiver")
	}
}

func TestParseIgnoreFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	content := "# container rules\n*.bak\n\narchive\nexports/*.pdf\n"
	if err := afero.WriteFile(fsys, "/docs/"+IgnoreFileName, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	lines, err := ParseIgnoreFile(fsys, "/docs/"+IgnoreFileName)
	if err != nil {
		t.Fatalf("ParseIgnoreFile() error = %v", err)
	}
	if len(lines) != 5 {
		t.Fatalf("got %d raw lines, want 5", len(lines))
	}
	if m := NewIgnoreMatcher(lines); len(m.patterns) != 3 {
		t.Errorf("got %d patterns, want 3", len(m.patterns))
	}

	lines, err = ParseIgnoreFile(fsys, "/missing/"+IgnoreFileName)
	if err != nil || lines != nil {
		t.Errorf("ParseIgnoreFile(missing) = %v, %v; want nil, nil", lines, err)
	}
}
