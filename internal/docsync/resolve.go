package docsync

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Resolution is an explicit decision for a conflicted document.
type Resolution int

const (
	// KeepLocal overwrites the remote with the local version.
	KeepLocal Resolution = iota
	// KeepRemote overwrites the local copy with the remote version.
	KeepRemote
	// KeepBoth moves the local copy aside as a new document and downloads
	// the remote version to the original path.
	KeepBoth
)

func (r Resolution) String() string {
	switch r {
	case KeepLocal:
		return "local"
	case KeepRemote:
		return "remote"
	case KeepBoth:
		return "both"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseResolution parses "local", "remote" or "both".
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return KeepLocal, nil
	case "remote":
		return KeepRemote, nil
	case "both":
		return KeepBoth, nil
	default:
		return KeepLocal, fmt.Errorf("unknown resolution %q (want local, remote or both)", s)
	}
}

var (
	// ErrNotConflicted is returned when resolving a document that is not in
	// conflict.
	ErrNotConflicted = errors.New("document is not conflicted")

	// ErrUnknownDocument is returned when resolving a document the container
	// does not track.
	ErrUnknownDocument = errors.New("unknown document")
)

// resolve records a resolution for the next pass. Keeping both moves the
// local copy aside right away; what remains is keeping the remote version.
func (c *containerAgent) resolve(id DocumentID, choice Resolution) error {
	it, ok := c.items[id]
	if !ok {
		return fmt.Errorf("resolving %s: %w", id, ErrUnknownDocument)
	}
	if it.state != StateConflicted {
		return fmt.Errorf("resolving %s: %w (state %s)", it.path, ErrNotConflicted, it.state)
	}
	if it.transfer != nil {
		return fmt.Errorf("resolving %s: %w", it.path, ErrTransferActive)
	}

	switch choice {
	case KeepLocal, KeepRemote:
	case KeepBoth:
		if it.local == nil || it.remote == nil {
			return fmt.Errorf("resolving %s: keeping both needs a local and a remote version", it.path)
		}
		fork := c.forkName(it.local.Path)
		if err := c.env.FS.Move(c.cfg.LocalPath, it.local.Path, fork); err != nil {
			return fmt.Errorf("moving conflicted copy aside: %w", err)
		}
		c.env.Logger.Info("kept conflicted local copy", "container", c.cfg.ID, "document", id, "path", fork)
		it.local = nil
		choice = KeepRemote
	default:
		return fmt.Errorf("resolving %s: unknown resolution %s", it.path, choice)
	}

	if resolutionAction(it, choice) == ActionNone {
		c.forget(it)
		return nil
	}
	it.resolution = &choice
	it.clearFailure()
	c.env.Logger.Info("conflict resolution recorded", "container", c.cfg.ID, "document", id, "resolution", choice)
	return nil
}

// itemAt returns the ID of the item at rel, preferring a conflicted one.
func (c *containerAgent) itemAt(rel string) (DocumentID, error) {
	rel = strings.Trim(path.Clean("/"+rel), "/")
	var found *fileItem
	for _, it := range c.items {
		if it.removed || it.path != rel {
			continue
		}
		if found == nil || it.state == StateConflicted {
			found = it
		}
	}
	if found == nil {
		return "", fmt.Errorf("resolving %s: %w", rel, ErrUnknownDocument)
	}
	return found.id, nil
}

// resolutionAction is the action that carries out choice given the item's
// current observations.
func resolutionAction(it *fileItem, choice Resolution) Action {
	if choice == KeepLocal {
		switch {
		case it.local != nil:
			return ActionUpload
		case it.remote != nil:
			return ActionDeleteRemote
		}
		return ActionNone
	}
	switch {
	case it.remote != nil:
		return ActionDownload
	case it.local != nil:
		return ActionDeleteLocal
	}
	return ActionNone
}

// planResolution builds the overwriting transfer for a recorded resolution.
func (c *containerAgent) planResolution(it *fileItem, choice Resolution) *Transfer {
	action := resolutionAction(it, choice)
	if action == ActionNone {
		c.forget(it)
		return nil
	}
	t := newTransfer(action, c.account, c.cfg.ID, it, c.cfg.LocalPath, c.remoteRoot())
	t.Overwrite = true
	t.choice = choice
	c.setState(it, action.pendingState(), true)
	c.env.Logger.Debug("planned resolution", "container", c.cfg.ID, "document", it.id,
		"resolution", choice, "transfer", t.String())
	return t
}

// forkName returns an unused local path for a conflicted copy of rel, like
// "notes (conflict laptop 2024-01-15 103000).txt".
func (c *containerAgent) forkName(rel string) string {
	dir, base := path.Split(rel)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := c.env.Clock.Now().Format("2006-01-02 150405")

	name := fmt.Sprintf("%s (conflict %s %s)%s", stem, c.opts.Host, stamp, ext)
	for i := 2; c.env.FS.Exists(c.cfg.LocalPath, dir+name); i++ {
		name = fmt.Sprintf("%s (conflict %s %s %d)%s", stem, c.opts.Host, stamp, i, ext)
	}
	return dir + name
}
