package testutil

import (
	"context"
	"path"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"docsync-go/internal/docsync"
	"docsync-go/internal/fs"
	"docsync-go/internal/remote"
	"docsync-go/internal/snapshot"
)

// LocalRoot is the local folder of the fixture's container.
const LocalRoot = "/local/notes"

// RemoteRoot is the remote directory of the fixture's container.
const RemoteRoot = "notes"

// Fixture wires one account over an in-memory remote, an in-memory local
// filesystem and an in-memory snapshot store.
type Fixture struct {
	T       *testing.T
	Conn    *remote.MemoryConnection
	Local   afero.Fs
	FS      *fs.Manager
	Store   *snapshot.MemoryStore
	Clock   *clockwork.FakeClock
	IDs     *StubIDGenerator
	Bus     *docsync.EventBus
	Events  chan docsync.Event
	Account *docsync.AccountAgent
}

// NewFixture creates a started account "work" with one container "notes".
// The account is stopped when the test ends.
func NewFixture(t *testing.T, opts docsync.AccountOptions) *Fixture {
	t.Helper()
	f := &Fixture{
		T:     t,
		Local: afero.NewMemMapFs(),
		Store: snapshot.NewMemoryStore(),
		Clock: FixedClock(),
		IDs:   NewStubIDGenerator(),
		Bus:   docsync.NewEventBus(1024),
	}
	f.Conn = remote.NewMemoryConnection(f.Clock)
	f.FS = fs.NewManager(f.Local, nil, []string{".bundle"})
	f.Events = f.Bus.Subscribe()
	if err := f.Local.MkdirAll(LocalRoot, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	if opts.Host == "" {
		opts.Host = "testhost"
	}
	acct, err := docsync.NewAccountAgent(docsync.AccountConfig{
		ID:         "work",
		Containers: []docsync.ContainerConfig{{ID: "notes", LocalPath: LocalRoot, RemotePath: RemoteRoot}},
		Options:    opts,
	}, f.Env())
	if err != nil {
		t.Fatalf("NewAccountAgent() error = %v", err)
	}
	f.Account = acct

	ctx, cancel := context.WithCancel(context.Background())
	if err := acct.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		acct.Stop()
		cancel()
	})
	return f
}

// Env returns the environment the fixture's account runs in.
func (f *Fixture) Env() docsync.Env {
	return docsync.Env{
		Conn:   f.Conn,
		FS:     f.FS,
		Store:  f.Store,
		Clock:  f.Clock,
		IDs:    f.IDs,
		Logger: docsync.NewNopLogger(),
		Bus:    f.Bus,
	}
}

// Sync runs one cycle and fails the test on error.
func (f *Fixture) Sync() {
	f.T.Helper()
	if err := f.SyncErr(); err != nil {
		f.T.Fatalf("SyncNow() error = %v", err)
	}
}

// SyncErr runs one cycle with a timeout.
func (f *Fixture) SyncErr() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return f.Account.SyncNow(ctx)
}

// WriteLocal writes a file below LocalRoot.
func (f *Fixture) WriteLocal(rel, content string) {
	f.T.Helper()
	p := path.Join(LocalRoot, rel)
	if err := f.Local.MkdirAll(path.Dir(p), 0755); err != nil {
		f.T.Fatalf("MkdirAll() error = %v", err)
	}
	if err := afero.WriteFile(f.Local, p, []byte(content), 0644); err != nil {
		f.T.Fatalf("WriteFile() error = %v", err)
	}
}

// ReadLocal returns the content of a file below LocalRoot and whether it
// exists.
func (f *Fixture) ReadLocal(rel string) (string, bool) {
	data, err := afero.ReadFile(f.Local, path.Join(LocalRoot, rel))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// RenameLocal moves a file below LocalRoot.
func (f *Fixture) RenameLocal(from, to string) {
	f.T.Helper()
	if err := f.Local.Rename(path.Join(LocalRoot, from), path.Join(LocalRoot, to)); err != nil {
		f.T.Fatalf("Rename() error = %v", err)
	}
}

// RemoveLocal deletes a file or directory below LocalRoot.
func (f *Fixture) RemoveLocal(rel string) {
	f.T.Helper()
	if err := f.Local.RemoveAll(path.Join(LocalRoot, rel)); err != nil {
		f.T.Fatalf("RemoveAll() error = %v", err)
	}
}

// WriteRemote stores a file below RemoteRoot and returns its version token.
func (f *Fixture) WriteRemote(rel, content string) string {
	return f.Conn.WriteFile(docsync.JoinRemote(RemoteRoot, rel), []byte(content))
}

// ReadRemote returns the content of a file below RemoteRoot.
func (f *Fixture) ReadRemote(rel string) (string, bool) {
	data, ok := f.Conn.ReadFile(docsync.JoinRemote(RemoteRoot, rel))
	return string(data), ok
}

// Items returns the items of the "notes" container, keyed by path.
func (f *Fixture) Items() map[string]docsync.ItemStatus {
	f.T.Helper()
	st, err := f.Account.Status(context.Background())
	if err != nil {
		f.T.Fatalf("Status() error = %v", err)
	}
	out := make(map[string]docsync.ItemStatus)
	for _, c := range st.Containers {
		for _, it := range c.Items {
			out[it.Path] = it
		}
	}
	return out
}

// Item returns the item at rel and fails the test if there is none.
func (f *Fixture) Item(rel string) docsync.ItemStatus {
	f.T.Helper()
	it, ok := f.Items()[rel]
	if !ok {
		f.T.Fatalf("no item at %s; items = %v", rel, f.Items())
	}
	return it
}

// DrainEvents returns the events published so far.
func (f *Fixture) DrainEvents() []docsync.Event {
	var out []docsync.Event
	for {
		select {
		case ev := <-f.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
