package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"docsync-go/internal/docsync"
)

// Op names a Connection method, for hooks and call counting.
type Op string

const (
	OpList   Op = "list"
	OpStat   Op = "stat"
	OpGet    Op = "get"
	OpPut    Op = "put"
	OpMove   Op = "move"
	OpDelete Op = "delete"
	OpMkdir  Op = "mkdir"
)

// Hook runs before every operation of a MemoryConnection. A non-nil error
// fails the operation without touching the tree. Hooks may block, for
// example to hold a transfer in flight while a test changes the tree.
type Hook func(ctx context.Context, op Op, p string) error

type memNode struct {
	dir     bool
	data    []byte
	token   string
	modTime time.Time
}

// MemoryConnection is an in-memory implementation of docsync.Connection.
// Every write produces a new unique version token and moves keep tokens,
// like ETags on a WebDAV server. It is safe for concurrent use.
type MemoryConnection struct {
	clock clockwork.Clock

	mu      sync.Mutex
	nodes   map[string]*memNode
	version int
	hook    Hook
	calls   map[Op]int

	active    map[string]int
	maxActive map[string]int
}

// NewMemoryConnection creates an empty remote. A nil clock uses real time.
func NewMemoryConnection(clock clockwork.Clock) *MemoryConnection {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryConnection{
		clock:     clock,
		nodes:     map[string]*memNode{"": {dir: true, modTime: clock.Now()}},
		calls:     make(map[Op]int),
		active:    make(map[string]int),
		maxActive: make(map[string]int),
	}
}

func clean(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func notFound(op, p string) error {
	return &docsync.StatusError{Op: op, Path: p, StatusCode: http.StatusNotFound}
}

func conflict(op, p string) error {
	return &docsync.StatusError{Op: op, Path: p, StatusCode: http.StatusConflict}
}

// SetHook installs h, replacing any previous hook. Nil removes it.
func (m *MemoryConnection) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Calls returns how many times op was invoked.
func (m *MemoryConnection) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// MaxConcurrent returns the largest number of write operations (put, move,
// delete) that were ever in flight at once below the given path.
func (m *MemoryConnection) MaxConcurrent(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive[clean(p)]
}

// enter records the call, runs the hook and tracks in-flight writes for p
// and every ancestor. The returned func ends the tracking.
func (m *MemoryConnection) enter(ctx context.Context, op Op, p string) (func(), error) {
	m.mu.Lock()
	m.calls[op]++
	hook := m.hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hook != nil {
		if err := hook(ctx, op, p); err != nil {
			return nil, err
		}
	}
	if op != OpPut && op != OpMove && op != OpDelete {
		return func() {}, nil
	}

	keys := ancestors(p)
	m.mu.Lock()
	for _, k := range keys {
		m.active[k]++
		if m.active[k] > m.maxActive[k] {
			m.maxActive[k] = m.active[k]
		}
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		for _, k := range keys {
			m.active[k]--
		}
		m.mu.Unlock()
	}, nil
}

func ancestors(p string) []string {
	p = clean(p)
	out := []string{p}
	for p != "" {
		p = parent(p)
		out = append(out, p)
	}
	return out
}

func parent(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

func (m *MemoryConnection) nextToken() string {
	m.version++
	return fmt.Sprintf("v%d", m.version)
}

func (m *MemoryConnection) entry(p string, n *memNode) docsync.RemoteEntry {
	return docsync.RemoteEntry{
		Name:         path.Base(p),
		VersionToken: n.token,
		Size:         int64(len(n.data)),
		IsDirectory:  n.dir,
		ModifiedAt:   n.modTime,
	}
}

// ListDirectory returns the children of a directory, sorted by name.
func (m *MemoryConnection) ListDirectory(ctx context.Context, p string) ([]docsync.RemoteEntry, error) {
	done, err := m.enter(ctx, OpList, p)
	if err != nil {
		return nil, err
	}
	defer done()

	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p]
	if !ok {
		return nil, notFound("list", p)
	}
	if !n.dir {
		return nil, conflict("list", p)
	}
	var out []docsync.RemoteEntry
	for name, child := range m.nodes {
		if name != "" && parent(name) == p {
			out = append(out, m.entry(name, child))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat returns the entry at p.
func (m *MemoryConnection) Stat(ctx context.Context, p string) (*docsync.RemoteEntry, error) {
	done, err := m.enter(ctx, OpStat, p)
	if err != nil {
		return nil, err
	}
	defer done()

	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p]
	if !ok {
		return nil, notFound("stat", p)
	}
	e := m.entry(p, n)
	return &e, nil
}

// GetContents returns a reader over a snapshot of the file content.
func (m *MemoryConnection) GetContents(ctx context.Context, p string) (io.ReadCloser, error) {
	done, err := m.enter(ctx, OpGet, p)
	if err != nil {
		return nil, err
	}
	defer done()

	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p]
	if !ok {
		return nil, notFound("get", p)
	}
	if n.dir {
		return nil, &docsync.StatusError{Op: "get", Path: p, StatusCode: http.StatusMethodNotAllowed}
	}
	return io.NopCloser(bytes.NewReader(n.data)), nil
}

// PutContents stores the content of r at p.
func (m *MemoryConnection) PutContents(ctx context.Context, p string, r io.Reader, size int64) (string, error) {
	done, err := m.enter(ctx, OpPut, p)
	if err != nil {
		return "", err
	}
	defer done()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if par, ok := m.nodes[parent(p)]; !ok || !par.dir {
		return "", conflict("put", p)
	}
	if n, ok := m.nodes[p]; ok && n.dir {
		return "", &docsync.StatusError{Op: "put", Path: p, StatusCode: http.StatusMethodNotAllowed}
	}
	token := m.nextToken()
	m.nodes[p] = &memNode{data: data, token: token, modTime: m.clock.Now()}
	return token, nil
}

// Move renames p and everything below it, replacing the destination.
func (m *MemoryConnection) Move(ctx context.Context, from, to string) error {
	done, err := m.enter(ctx, OpMove, from)
	if err != nil {
		return err
	}
	defer done()

	from, to = clean(from), clean(to)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[from]; !ok {
		return notFound("move", from)
	}
	if par, ok := m.nodes[parent(to)]; !ok || !par.dir {
		return conflict("move", to)
	}
	if from == to {
		return nil
	}
	if strings.HasPrefix(to, from+"/") {
		return conflict("move", to)
	}
	m.moveLocked(from, to)
	return nil
}

func (m *MemoryConnection) moveLocked(from, to string) {
	m.removeLocked(to)
	moved := make(map[string]*memNode)
	for name, n := range m.nodes {
		if name == from || strings.HasPrefix(name, from+"/") {
			moved[to+strings.TrimPrefix(name, from)] = n
			delete(m.nodes, name)
		}
	}
	for name, n := range moved {
		m.nodes[name] = n
	}
}

// Delete removes p and everything below it.
func (m *MemoryConnection) Delete(ctx context.Context, p string) error {
	done, err := m.enter(ctx, OpDelete, p)
	if err != nil {
		return err
	}
	defer done()

	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[p]; !ok {
		return notFound("delete", p)
	}
	if p == "" {
		return &docsync.StatusError{Op: "delete", Path: p, StatusCode: http.StatusForbidden}
	}
	m.removeLocked(p)
	return nil
}

func (m *MemoryConnection) removeLocked(p string) {
	for name := range m.nodes {
		if name == p || strings.HasPrefix(name, p+"/") {
			delete(m.nodes, name)
		}
	}
}

// MakeDirectory creates the directory p. The parent must exist.
func (m *MemoryConnection) MakeDirectory(ctx context.Context, p string) error {
	done, err := m.enter(ctx, OpMkdir, p)
	if err != nil {
		return err
	}
	defer done()

	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[p]; ok {
		if n.dir {
			return nil
		}
		return &docsync.StatusError{Op: "mkdir", Path: p, StatusCode: http.StatusMethodNotAllowed}
	}
	if par, ok := m.nodes[parent(p)]; !ok || !par.dir {
		return conflict("mkdir", p)
	}
	m.nodes[p] = &memNode{dir: true, token: m.nextToken(), modTime: m.clock.Now()}
	return nil
}

// WriteFile stores data at p, creating parent directories. It bypasses hooks
// and is meant for setting up tests.
func (m *MemoryConnection) WriteFile(p string, data []byte) string {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range ancestors(p)[1:] {
		if _, ok := m.nodes[d]; !ok {
			m.nodes[d] = &memNode{dir: true, token: m.nextToken(), modTime: m.clock.Now()}
		}
	}
	token := m.nextToken()
	m.nodes[p] = &memNode{data: append([]byte(nil), data...), token: token, modTime: m.clock.Now()}
	return token
}

// ReadFile returns the content at p, bypassing hooks.
func (m *MemoryConnection) ReadFile(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[clean(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether anything is stored at p, bypassing hooks.
func (m *MemoryConnection) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[clean(p)]
	return ok
}

// Files returns the paths of all files, sorted.
func (m *MemoryConnection) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, n := range m.nodes {
		if !n.dir {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Remove deletes p and its descendants, bypassing hooks.
func (m *MemoryConnection) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(clean(p))
}

// Rename moves p, bypassing hooks. Tokens are kept.
func (m *MemoryConnection) Rename(from, to string) {
	from, to = clean(from), clean(to)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range ancestors(to)[1:] {
		if _, ok := m.nodes[d]; !ok {
			m.nodes[d] = &memNode{dir: true, token: m.nextToken(), modTime: m.clock.Now()}
		}
	}
	m.moveLocked(from, to)
}

var _ docsync.Connection = (*MemoryConnection)(nil)
