package docsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ContainerConfig pairs a local folder with a remote directory.
type ContainerConfig struct {
	ID string
	// LocalPath is the absolute local folder.
	LocalPath string
	// RemotePath is relative to the account's base URL.
	RemotePath string
}

// containerAgent drives the sync cycle of one container. All methods run on
// the owning account's loop goroutine.
type containerAgent struct {
	account string
	cfg     ContainerConfig
	env     *Env
	opts    *AccountOptions

	items     map[DocumentID]*fileItem
	loaded    bool
	scanToken string
	lastScan  time.Time
	lastErr   error
}

func newContainerAgent(account string, cfg ContainerConfig, env *Env, opts *AccountOptions) *containerAgent {
	return &containerAgent{
		account: account,
		cfg:     cfg,
		env:     env,
		opts:    opts,
		items:   make(map[DocumentID]*fileItem),
	}
}

func (c *containerAgent) remoteRoot() string { return JoinRemote(c.cfg.RemotePath) }

// load reads this container's snapshots from the store. Corrupt records are
// dropped so the documents are rediscovered by the next scan.
func (c *containerAgent) load() error {
	if c.loaded {
		return nil
	}
	var corrupt []DocumentID
	for snap, err := range c.env.Store.EnumerateSnapshots() {
		if err != nil {
			var ce *CorruptSnapshotError
			if errors.As(err, &ce) {
				corrupt = append(corrupt, ce.ID)
				continue
			}
			return fmt.Errorf("enumerating snapshots: %w", err)
		}
		if snap.Container != c.cfg.ID {
			continue
		}
		c.items[snap.DocumentID] = &fileItem{
			id:    snap.DocumentID,
			path:  snap.Path,
			state: StateSynced,
			base:  snap,
		}
	}
	for _, id := range corrupt {
		ce := &CorruptSnapshotError{ID: id, Err: errors.New("record unreadable")}
		c.env.Logger.Warn("dropping corrupt snapshot record", "account", c.account, "document", id)
		c.publishError(id, "", ce)
		if err := c.env.Store.DeleteSnapshot(id); err != nil {
			c.env.Logger.Warn("deleting corrupt snapshot record failed", "document", id, "error", err)
		}
	}
	c.loaded = true
	return nil
}

// plan runs one scan-and-plan pass. It returns the transfers to execute and
// whether planned work was left over because of the per-cycle limit.
func (c *containerAgent) plan(ctx context.Context, limit int) ([]*Transfer, bool, error) {
	if err := c.load(); err != nil {
		return nil, false, err
	}

	c.pruneTemp(ctx)

	ignore, err := c.env.FS.IgnoreRules(c.cfg.LocalPath)
	if err != nil {
		return nil, false, NewSyncError(KindLocalIO, "read ignore rules", c.cfg.LocalPath, err)
	}
	locals, err := c.env.FS.ScanDocuments(ctx, c.cfg.LocalPath, ignore, c.env.Cache)
	if err != nil {
		return nil, false, NewSyncError(KindLocalIO, "scan", c.cfg.LocalPath, err)
	}
	remotes, err := walkRemote(ctx, c.env, c.remoteRoot(), ignore)
	if errors.Is(err, ErrNotFound) {
		remotes, err = c.createRemoteRoot(ctx)
	}
	if err != nil {
		return nil, false, fmt.Errorf("listing remote container: %w", err)
	}
	c.scanToken = remoteScanToken(remotes)
	c.lastScan = c.env.Clock.Now()

	c.match(locals, remotes)

	ids := make([]DocumentID, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.items[ids[i]], c.items[ids[j]]
		if a.path != b.path {
			return a.path < b.path
		}
		return a.id < b.id
	})

	var transfers []*Transfer
	leftover := false
	for _, id := range ids {
		t := c.planItem(c.items[id])
		if t == nil {
			continue
		}
		if limit > 0 && len(transfers) >= limit {
			if t.Overwrite {
				choice := t.choice
				c.items[id].resolution = &choice
			}
			leftover = true
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, leftover, nil
}

// createRemoteRoot creates a missing remote container. A container whose
// remote directory vanished after documents were synced is an error: treating
// it as empty would delete every local document.
func (c *containerAgent) createRemoteRoot(ctx context.Context) (map[string]*RemoteVersion, error) {
	for _, it := range c.items {
		if it.base != nil {
			return nil, NewSyncError(KindPermanent, "scan", c.cfg.RemotePath, errors.New("remote container directory is missing"))
		}
	}
	if err := ensureRemoteDir(ctx, c.env.Conn, c.remoteRoot()); err != nil {
		return nil, err
	}
	return map[string]*RemoteVersion{}, nil
}

// pruneTemp deletes abandoned upload copies older than the retention window.
func (c *containerAgent) pruneTemp(ctx context.Context) {
	dir := JoinRemote(c.remoteRoot(), TempDirName)
	entries, err := c.env.Conn.ListDirectory(ctx, dir)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.env.Logger.Debug("listing remote temp area failed", "path", dir, "error", err)
		}
		return
	}
	cutoff := c.env.Clock.Now().Add(-c.opts.TempRetention)
	for _, e := range entries {
		if e.ModifiedAt.IsZero() || e.ModifiedAt.After(cutoff) {
			continue
		}
		if err := c.env.Conn.Delete(ctx, JoinRemote(dir, e.Name)); err != nil && !errors.Is(err, ErrNotFound) {
			c.env.Logger.Warn("pruning remote temp copy failed", "path", e.Name, "error", err)
			continue
		}
		c.env.Logger.Debug("pruned remote temp copy", "container", c.cfg.ID, "name", e.Name)
	}
}

// match attaches the scanned local documents and remote versions to items,
// detecting renames on either side and creating items for new documents.
func (c *containerAgent) match(locals []*LocalDocument, remotes map[string]*RemoteVersion) {
	localByPath := make(map[string]*LocalDocument, len(locals))
	for _, l := range locals {
		localByPath[l.Path] = l
	}

	var localMissing, remoteMissing []*fileItem
	for _, it := range c.sortedItems() {
		if it.transfer != nil {
			// In-flight items keep their observations; the paths they touch
			// are still claimed so they are not mistaken for new documents.
			if it.local != nil {
				delete(localByPath, it.local.Path)
			}
			if it.remote != nil {
				delete(remotes, it.remote.Path)
			}
			delete(localByPath, it.path)
			delete(remotes, it.path)
			continue
		}
		anchor := it.anchor()
		it.local = localByPath[anchor]
		it.remote = remotes[anchor]
		delete(localByPath, anchor)
		delete(remotes, anchor)
		if it.base != nil && it.local == nil {
			localMissing = append(localMissing, it)
		}
		if it.base != nil && it.remote == nil {
			remoteMissing = append(remoteMissing, it)
		}
	}

	// Local renames: a missing document whose content shows up at an
	// unclaimed path.
	if len(localMissing) > 0 && len(localByPath) > 0 {
		byDigest := make(map[string][]*LocalDocument)
		for _, l := range sortedLocals(localByPath) {
			byDigest[l.Manifest.Digest()] = append(byDigest[l.Manifest.Digest()], l)
		}
		for _, it := range localMissing {
			d := it.base.Manifest.Digest()
			candidates := byDigest[d]
			for i, l := range candidates {
				if l.IsPackage != it.base.IsPackage {
					continue
				}
				it.local = l
				delete(localByPath, l.Path)
				byDigest[d] = append(candidates[:i:i], candidates[i+1:]...)
				break
			}
		}
	}

	// Remote renames: a missing document whose version token shows up at an
	// unclaimed path.
	if len(remoteMissing) > 0 && len(remotes) > 0 {
		byToken := make(map[string]*RemoteVersion)
		for _, r := range remotes {
			if r.VersionToken != "" {
				byToken[r.VersionToken] = r
			}
		}
		for _, it := range remoteMissing {
			r, ok := byToken[it.base.VersionToken]
			if !ok || r.IsPackage != it.base.IsPackage {
				continue
			}
			it.remote = r
			delete(remotes, r.Path)
			delete(byToken, r.VersionToken)
		}
	}

	for _, l := range sortedLocals(localByPath) {
		it := c.newItem(l.Path, StateUnsynced)
		it.local = l
		if r, ok := remotes[l.Path]; ok {
			it.remote = r
			delete(remotes, l.Path)
		}
	}
	remotePaths := make([]string, 0, len(remotes))
	for p := range remotes {
		remotePaths = append(remotePaths, p)
	}
	sort.Strings(remotePaths)
	for _, p := range remotePaths {
		it := c.newItem(p, StateUnsynced)
		it.remote = remotes[p]
	}
}

func (c *containerAgent) newItem(path string, state ItemState) *fileItem {
	it := &fileItem{
		id:    DocumentID(c.env.IDs.New()),
		path:  path,
		state: state,
	}
	c.items[it.id] = it
	c.env.Logger.Debug("discovered document", "container", c.cfg.ID, "document", it.id, "path", path)
	return it
}

// planItem moves the item to its next state and returns the transfer to run
// for it, if any.
func (c *containerAgent) planItem(it *fileItem) *Transfer {
	if it.transfer != nil {
		return nil
	}

	if it.resolution != nil {
		choice := *it.resolution
		it.resolution = nil
		return c.planResolution(it, choice)
	}

	local := ClassifyLocal(it.base, it.local)
	remote := ClassifyRemote(it.base, it.remote)
	samePath := it.local != nil && it.remote != nil && it.local.Path == it.remote.Path
	action := Decide(local, remote, samePath)

	if it.state == StateConflicted && action != ActionForget {
		return nil
	}

	switch action {
	case ActionNone:
		it.previous = nil
		it.clearFailure()
		c.setState(it, StateSynced, false)
		return nil
	case ActionForget:
		c.forget(it)
		return nil
	case ActionAdopt:
		c.adopt(it)
		return nil
	}

	if it.stalled {
		if it.inputs() == it.fingerprint {
			return nil
		}
		it.clearFailure()
	}
	c.setState(it, action.pendingState(), false)
	if now := c.env.Clock.Now(); now.Before(it.retry.notUntil) {
		return nil
	}

	c.env.Logger.Debug("planned transfer", "container", c.cfg.ID, "document", it.id,
		"local", local, "remote", remote, "action", action)
	return newTransfer(action, c.account, c.cfg.ID, it, c.cfg.LocalPath, c.remoteRoot())
}

// forget drops an item both sides agree is gone.
func (c *containerAgent) forget(it *fileItem) {
	if it.base != nil {
		if err := c.env.Store.DeleteSnapshot(it.id); err != nil {
			c.env.Logger.Warn("deleting snapshot failed", "document", it.id, "error", err)
		}
	}
	it.removed = true
	delete(c.items, it.id)
	c.setState(it, StateDeleted, true)
}

// adopt records that both sides moved the document to the same path.
func (c *containerAgent) adopt(it *fileItem) {
	snap := it.base.Clone()
	snap.Path = it.local.Path
	snap.VersionToken = it.remote.VersionToken
	if err := c.env.Store.WriteSnapshot(snap); err != nil {
		c.env.Logger.Warn("writing snapshot failed", "document", it.id, "error", err)
		return
	}
	it.previous, it.base = it.base, snap
	it.path = snap.Path
	c.setState(it, StateSynced, false)
}

// begin marks the transfer's item as transferring.
func (c *containerAgent) begin(t *Transfer) error {
	it, ok := c.items[t.Document]
	if !ok {
		return fmt.Errorf("beginning %s: unknown document %s", t, t.Document)
	}
	if it.transfer != nil {
		assertf("second transfer for document %s", t.Document)
		return fmt.Errorf("beginning %s: %w", t, ErrTransferActive)
	}
	it.transfer = t
	if t.Side == SideRemote {
		c.setState(it, StateUploading, true)
	} else {
		c.setState(it, StateDownloading, true)
	}
	return nil
}

// complete applies a finished transfer. It reports whether another pass is
// wanted and returns an error that concerns the whole account.
func (c *containerAgent) complete(t *Transfer, res TransferResult, err error) (bool, error) {
	it, ok := c.items[t.Document]
	if !ok || it.transfer != t {
		return false, nil
	}
	it.transfer = nil
	pending := t.action.pendingState()

	if err == nil {
		if res.Deleted {
			c.forget(it)
			return res.FollowUp, nil
		}
		if werr := c.env.Store.WriteSnapshot(res.Snapshot); werr != nil {
			c.setState(it, pending, true)
			it.lastErr = werr
			return false, NewSyncError(KindLocalIO, "write snapshot", it.path, fmt.Errorf("%w: %w", ErrStoreUnwritable, werr))
		}
		it.previous, it.base = it.base, res.Snapshot
		it.path = res.Snapshot.Path
		it.clearFailure()
		c.setState(it, StateSynced, true)
		return res.FollowUp, nil
	}

	kind := Classify(err)
	if t.Overwrite {
		// A failed resolution leaves the conflict in place; a cancelled one
		// is planned again from the next pass's observations.
		if kind == KindCancelled {
			choice := t.choice
			it.resolution = &choice
			c.setState(it, pending, true)
			return false, nil
		}
		it.lastErr = err
		c.setState(it, StateConflicted, true)
		c.publishError(it.id, it.path, err)
		if kind == KindAuth {
			return false, err
		}
		return false, nil
	}

	switch {
	case kind == KindCancelled:
		c.setState(it, pending, true)
		return res.FollowUp, nil

	case kind == KindConflict:
		it.lastErr = err
		it.retry = retryState{}
		if it.previous == nil {
			it.previous = it.base.Clone()
		}
		c.setState(it, StateConflicted, true)
		c.publishError(it.id, it.path, err)
		return false, nil

	case kind == KindAuth:
		it.lastErr = err
		c.setState(it, pending, true)
		return false, err

	case kind.Retryable():
		it.lastErr = err
		c.setState(it, pending, true)
		if !it.retry.next(c.opts.Retry, c.env.Clock.Now()) {
			c.stall(it)
		}
		c.publishError(it.id, it.path, err)
		return false, nil

	default:
		it.lastErr = err
		c.setState(it, pending, true)
		c.stall(it)
		c.publishError(it.id, it.path, err)
		return false, nil
	}
}

// stall stops automatic retries until the item's inputs change.
func (c *containerAgent) stall(it *fileItem) {
	it.stalled = true
	it.fingerprint = it.inputs()
	c.env.Logger.Warn("giving up on document until it changes", "container", c.cfg.ID,
		"document", it.id, "path", it.path, "error", it.lastErr)
}

// cancelVanishedUploads cancels uploads whose local document disappeared.
func (c *containerAgent) cancelVanishedUploads() {
	for _, it := range c.items {
		t := it.transfer
		if t == nil || t.Kind != TransferUpload {
			continue
		}
		if !c.env.FS.Exists(c.cfg.LocalPath, t.Path) {
			c.env.Logger.Info("local document vanished, cancelling upload", "container", c.cfg.ID, "path", t.Path)
			t.Cancel()
		}
	}
}

// nextRetry returns the earliest future time a backed-off item becomes due.
func (c *containerAgent) nextRetry(now time.Time) time.Time {
	var next time.Time
	for _, it := range c.items {
		if it.stalled || it.state == StateConflicted || !it.retry.notUntil.After(now) {
			continue
		}
		if next.IsZero() || it.retry.notUntil.Before(next) {
			next = it.retry.notUntil
		}
	}
	return next
}

// retryFailed clears the failure state of stalled and backed-off items.
func (c *containerAgent) retryFailed() int {
	n := 0
	for _, it := range c.items {
		if it.stalled || !it.retry.notUntil.IsZero() {
			it.clearFailure()
			n++
		}
	}
	return n
}

func (c *containerAgent) setState(it *fileItem, to ItemState, force bool) {
	from := it.state
	if from == to {
		return
	}
	if !force && !canTransition(from, to) {
		assertf("invalid transition %s -> %s for %s", from, to, it.id)
		c.env.Logger.Error("invalid state transition", "document", it.id, "from", from, "to", to)
		return
	}
	it.state = to
	c.env.Bus.Publish(Event{
		Type:      EventItemStateChanged,
		Time:      c.env.Clock.Now(),
		Account:   c.account,
		Container: c.cfg.ID,
		Document:  it.id,
		Path:      it.path,
		State:     to,
		Previous:  from,
	})
}

func (c *containerAgent) publishError(id DocumentID, path string, err error) {
	c.env.Bus.Publish(Event{
		Type:      EventSyncError,
		Time:      c.env.Clock.Now(),
		Account:   c.account,
		Container: c.cfg.ID,
		Document:  id,
		Path:      path,
		Err:       err,
		ErrKind:   Classify(err),
	})
}

func (c *containerAgent) sortedItems() []*fileItem {
	items := make([]*fileItem, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })
	return items
}

func (c *containerAgent) status() []ItemStatus {
	out := make([]ItemStatus, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.status(c.account, c.cfg.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func sortedLocals(m map[string]*LocalDocument) []*LocalDocument {
	out := make([]*LocalDocument, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
