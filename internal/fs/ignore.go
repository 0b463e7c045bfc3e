package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is the per-container ignore file. It is never synced.
const IgnoreFileName = ".docsyncignore"

// defaultIgnorePatterns are always applied: the engine's own temporary
// files, the ignore file and OS litter.
var defaultIgnorePatterns = []string{".docsync-*", IgnoreFileName, ".DS_Store", "Thumbs.db", "desktop.ini", "~$*"}

type ignorePattern struct {
	pattern   string
	matchPath bool // match against the relative path instead of the basename
}

// IgnoreMatcher checks document paths against ignore patterns.
// Patterns without '/' match any path element, so "build" also excludes
// everything below a build directory. Patterns with '/' match the full
// relative path, or any prefix of it.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.Trim(raw, "/")
		if raw == "" {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// With returns a matcher holding m's patterns plus extra.
func (m *IgnoreMatcher) With(extra []string) *IgnoreMatcher {
	more := NewIgnoreMatcher(extra)
	return &IgnoreMatcher{patterns: append(append([]ignorePattern{}, m.patterns...), more.patterns...)}
}

// Match reports whether the slash-separated relative path is ignored.
func (m *IgnoreMatcher) Match(rel string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	elems := strings.Split(rel, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			for i := range elems {
				// Bad patterns never match.
				if ok, _ := path.Match(p.pattern, strings.Join(elems[:i+1], "/")); ok {
					return true
				}
			}
			continue
		}
		for _, e := range elems {
			if ok, _ := path.Match(p.pattern, e); ok {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// A missing file yields no patterns and no error.
func ParseIgnoreFile(fsys afero.Fs, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
