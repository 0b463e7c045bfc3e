package docsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
)

// TransferKind is the closed set of network operations a Transfer performs.
type TransferKind int

const (
	TransferUpload TransferKind = iota
	TransferDownload
	TransferRename
	TransferDelete
)

func (k TransferKind) String() string {
	switch k {
	case TransferUpload:
		return "upload"
	case TransferDownload:
		return "download"
	case TransferRename:
		return "rename"
	case TransferDelete:
		return "delete"
	default:
		return fmt.Sprintf("transfer(%d)", int(k))
	}
}

// Side is the side of a container a transfer changes.
type Side int

const (
	SideRemote Side = iota
	SideLocal
)

func (s Side) String() string {
	if s == SideLocal {
		return "local"
	}
	return "remote"
}

var (
	errLocalChanged  = errors.New("local document changed during transfer")
	errLocalVanished = errors.New("local document disappeared")
	errRemoteChanged = errors.New("remote version changed")
	errContentDiffer = errors.New("local and remote content differ")
)

// Transfer is one in-flight operation on one document. Transfers are not
// persisted; the plan fields are copies taken when the transfer was planned
// and are never shared with the owning file item.
type Transfer struct {
	Kind      TransferKind
	Side      Side
	Account   string
	Container string
	Document  DocumentID

	// FromPath is the source path of a rename. Path is the document's path
	// once the transfer completes.
	FromPath  string
	Path      string
	IsPackage bool

	// Compare downloads without writing and compares content.
	Compare bool
	// Overwrite skips the destination precondition; set by conflict
	// resolution.
	Overwrite bool

	LocalRoot  string
	RemoteRoot string

	action Action
	choice Resolution
	base   *Snapshot
	local  *LocalDocument
	remote *RemoteVersion

	bytes atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled bool
}

// TransferResult is the outcome of a successful transfer.
type TransferResult struct {
	// Snapshot is the new synced state, nil when Deleted.
	Snapshot *Snapshot
	// Deleted reports that the document is gone on both sides.
	Deleted bool
	// Converged reports a compare that found identical content.
	Converged bool
	// FollowUp asks for another pass; set when a transfer finished only part
	// of the work or saw the local folder change under it.
	FollowUp bool
}

func newTransfer(action Action, account, container string, it *fileItem, localRoot, remoteRoot string) *Transfer {
	t := &Transfer{
		Account:    account,
		Container:  container,
		Document:   it.id,
		Path:       it.path,
		LocalRoot:  localRoot,
		RemoteRoot: remoteRoot,
		action:     action,
		base:       it.base.Clone(),
	}
	if it.local != nil {
		l := *it.local
		l.Manifest = NewManifest(it.local.Manifest)
		t.local = &l
		t.IsPackage = l.IsPackage
	}
	if it.remote != nil {
		r := *it.remote
		r.Files = append([]RemoteFile(nil), it.remote.Files...)
		t.remote = &r
		if t.local == nil {
			t.IsPackage = r.IsPackage
		}
	}

	switch action {
	case ActionUpload:
		t.Kind, t.Side = TransferUpload, SideRemote
		t.Path = t.local.Path
	case ActionDownload:
		t.Kind, t.Side = TransferDownload, SideLocal
		t.Path = t.remote.Path
	case ActionCompare:
		t.Kind, t.Side = TransferDownload, SideLocal
		t.Path = t.remote.Path
		t.Compare = true
	case ActionRenameRemote:
		t.Kind, t.Side = TransferRename, SideRemote
		t.FromPath, t.Path = t.remote.Path, t.local.Path
	case ActionRenameLocal:
		t.Kind, t.Side = TransferRename, SideLocal
		t.FromPath, t.Path = t.local.Path, t.remote.Path
	case ActionDeleteRemote:
		t.Kind, t.Side = TransferDelete, SideRemote
		t.Path = t.remote.Path
	case ActionDeleteLocal:
		t.Kind, t.Side = TransferDelete, SideLocal
		t.Path = t.local.Path
	}
	return t
}

func (t *Transfer) String() string {
	if t.FromPath != "" {
		return fmt.Sprintf("%s %s %s -> %s", t.Side, t.Kind, t.FromPath, t.Path)
	}
	return fmt.Sprintf("%s %s %s", t.Side, t.Kind, t.Path)
}

// Action returns the reconcile action the transfer carries out.
func (t *Transfer) Action() Action { return t.action }

// Bytes returns the number of content bytes moved so far.
func (t *Transfer) Bytes() int64 { return t.bytes.Load() }

// Cancel stops the transfer. The transfer fails with a cancelled error and
// leaves both sides as they were.
func (t *Transfer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceled = true
	if t.cancel != nil {
		t.cancel()
	}
}

// Run executes the transfer. It must not be called twice.
func (t *Transfer) Run(ctx context.Context, env *Env) (TransferResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return TransferResult{}, context.Canceled
	}
	t.cancel = cancel
	t.mu.Unlock()

	switch t.action {
	case ActionUpload:
		return t.upload(ctx, env)
	case ActionDownload:
		return t.download(ctx, env)
	case ActionCompare:
		return t.compare(ctx, env)
	case ActionRenameRemote:
		return t.renameRemote(ctx, env)
	case ActionRenameLocal:
		return t.renameLocal(ctx, env)
	case ActionDeleteRemote:
		return t.deleteRemote(ctx, env)
	case ActionDeleteLocal:
		return t.deleteLocal(ctx, env)
	default:
		return TransferResult{}, NewSyncError(KindPermanent, "transfer", t.Path, fmt.Errorf("no transfer for action %s", t.action))
	}
}

// Env is what transfers and container agents of one account share.
type Env struct {
	Conn   Connection
	FS     FilesystemManager
	Store  SnapshotStore
	Clock  clockwork.Clock
	IDs    IDGenerator
	Logger Logger
	Bus    *EventBus
	Cache  *HashCache

	// PackageParallelism bounds concurrent file puts within one package
	// upload.
	PackageParallelism int
}

// checkLocal verifies the local document at rel still matches expected, nil
// meaning nothing may be there.
func (t *Transfer) checkLocal(env *Env, op, rel string, expected *LocalDocument) error {
	cur, err := env.FS.ScanDocument(t.LocalRoot, rel, env.Cache)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return NewSyncError(KindLocalIO, op, rel, err)
		}
		cur = nil
	}
	switch {
	case expected == nil && cur != nil:
		return NewSyncError(KindConflict, op, rel, errors.New("local document appeared"))
	case expected != nil && cur == nil:
		return NewSyncError(KindCancelled, op, rel, errLocalVanished)
	case expected != nil && (cur.IsPackage != expected.IsPackage || !cur.Manifest.Equal(expected.Manifest)):
		return NewSyncError(KindConflict, op, rel, errLocalChanged)
	}
	return nil
}

// checkRemote verifies the remote document at rel still carries the expected
// version token, empty meaning nothing may be there.
func (t *Transfer) checkRemote(ctx context.Context, env *Env, op, rel string, expected string) error {
	cur, err := statDocument(ctx, env, t.RemoteRoot, rel)
	if err != nil {
		return err
	}
	var token string
	if cur != nil {
		token = cur.VersionToken
	}
	if token != expected {
		return NewSyncError(KindConflict, op, rel, fmt.Errorf("%w: expected %q, found %q", errRemoteChanged, expected, token))
	}
	return nil
}

// softenConflict turns a precondition conflict into a cancellation that asks
// for another pass. Deletions lose against concurrent modifications, so a
// changed target is replanned rather than marked conflicted.
func softenConflict(err error) (TransferResult, error) {
	var se *SyncError
	if errors.As(err, &se) && se.Kind == KindConflict {
		return TransferResult{FollowUp: true}, NewSyncError(KindCancelled, se.Op, se.Path, se.Err)
	}
	if errors.As(err, &se) && se.Kind == KindCancelled {
		return TransferResult{FollowUp: true}, err
	}
	return TransferResult{}, err
}
