package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// ErrWatchUnsupported is returned by Watch for filesystems other than the
// real one.
var ErrWatchUnsupported = errors.New("watching is only supported on the OS filesystem")

// Watch reports changes below root. Bursts of events are combined into a
// single pending notification. The channel is closed when ctx is done.
func (m *Manager) Watch(ctx context.Context, root string) (<-chan struct{}, error) {
	if _, ok := m.fs.(*afero.OsFs); !ok {
		return nil, ErrWatchUnsupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// fsnotify is not recursive, so every directory is added.
	err = afero.Walk(m.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if p != root {
			if rel, err := toRel(root, p); err == nil && m.Ignored(rel) {
				return filepath.SkipDir
			}
		}
		return watcher.Add(p)
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	combined := make(chan struct{}, 1)
	go func() {
		defer close(combined)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				rel, err := toRel(root, ev.Name)
				if err != nil || m.Ignored(rel) {
					continue
				}
				if ev.Has(fsnotify.Create) {
					if info, err := m.fs.Stat(ev.Name); err == nil && info.IsDir() {
						// Errors here only mean the directory went away again.
						_ = watcher.Add(ev.Name)
					}
				}
				select {
				case combined <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Dropped events, so ask for a full rescan.
				select {
				case combined <- struct{}{}:
				default:
				}
			}
		}
	}()
	return combined, nil
}
