package docsync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultPackageParallelism = 4

func (t *Transfer) upload(ctx context.Context, env *Env) (TransferResult, error) {
	target := JoinRemote(t.RemoteRoot, t.Path)

	var expected string
	if t.remote != nil && t.remote.Path == t.Path {
		expected = t.remote.VersionToken
	}
	if !t.Overwrite {
		if err := t.checkRemote(ctx, env, "upload", t.Path, expected); err != nil {
			return TransferResult{}, err
		}
	}

	tmpDir := JoinRemote(t.RemoteRoot, TempDirName)
	if err := ensureRemoteDir(ctx, env.Conn, tmpDir); err != nil {
		return TransferResult{}, fmt.Errorf("creating remote temp area: %w", err)
	}
	tmp := JoinRemote(tmpDir, fmt.Sprintf("%s-%s", t.Document, env.IDs.New()))

	committed := false
	defer func() {
		if committed {
			return
		}
		// The transfer's context may already be cancelled; the temp copy is
		// removed regardless and pruned later if this fails too.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := env.Conn.Delete(cctx, tmp); err != nil && !errors.Is(err, ErrNotFound) {
			env.Logger.Warn("removing upload temp copy failed", "path", tmp, "error", err)
		}
	}()

	var err error
	if t.IsPackage {
		err = t.putPackage(ctx, env, tmp)
	} else {
		err = t.putFile(ctx, env, tmp, t.local.Manifest.entry(""))
	}
	if err != nil {
		if errors.Is(err, errLocalChanged) || errors.Is(err, errLocalVanished) {
			return TransferResult{FollowUp: true}, err
		}
		if ctx.Err() == nil && t.localChanged(env) {
			return TransferResult{FollowUp: true}, NewSyncError(KindCancelled, "upload", t.Path, errLocalChanged)
		}
		return TransferResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	if !env.FS.Exists(t.LocalRoot, t.Path) {
		return TransferResult{FollowUp: true}, NewSyncError(KindCancelled, "upload", t.Path, errLocalVanished)
	}

	if err := ensureRemoteDir(ctx, env.Conn, path.Dir(target)); err != nil {
		return TransferResult{}, fmt.Errorf("creating remote parent: %w", err)
	}
	if !t.Overwrite {
		if err := t.checkRemote(ctx, env, "upload", t.Path, expected); err != nil {
			return TransferResult{}, err
		}
	}
	if err := env.Conn.Move(ctx, tmp, target); err != nil {
		return TransferResult{}, fmt.Errorf("moving upload into place: %w", err)
	}
	committed = true

	rv, err := statDocument(ctx, env, t.RemoteRoot, t.Path)
	if err != nil {
		return TransferResult{}, fmt.Errorf("reading uploaded version: %w", err)
	}
	if rv == nil {
		return TransferResult{}, NewSyncError(KindTransient, "upload", t.Path, errors.New("uploaded document not visible"))
	}
	return TransferResult{Snapshot: t.local.Snapshot(t.Document, t.Container, rv.VersionToken)}, nil
}

// putFile streams one local file to dst and verifies it still hashes to the
// planned manifest entry.
func (t *Transfer) putFile(ctx context.Context, env *Env, dst string, entry ManifestEntry) error {
	f, err := env.FS.Open(t.LocalRoot, t.Path, entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewSyncError(KindCancelled, "upload", t.Path, errLocalVanished)
		}
		return NewSyncError(KindLocalIO, "upload", t.Path, err)
	}
	defer f.Close()

	h := NewContentHash()
	r := io.TeeReader(io.LimitReader(&countingReader{r: f, n: &t.bytes}, entry.Size), h)
	if _, err := env.Conn.PutContents(ctx, dst, r, entry.Size); err != nil {
		return err
	}
	if hex.EncodeToString(h.Sum(nil)) != entry.Hash {
		return NewSyncError(KindCancelled, "upload", JoinRemote(t.Path, entry.Path), errLocalChanged)
	}
	return nil
}

func (t *Transfer) putPackage(ctx context.Context, env *Env, dst string) error {
	if err := env.Conn.MakeDirectory(ctx, dst); err != nil {
		return err
	}

	dirs := make(map[string]struct{})
	for _, e := range t.local.Manifest {
		for d := path.Dir(e.Path); d != "." && d != "/"; d = path.Dir(d) {
			dirs[d] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)
	for _, d := range sorted {
		if err := env.Conn.MakeDirectory(ctx, JoinRemote(dst, d)); err != nil {
			return err
		}
	}

	limit := env.PackageParallelism
	if limit <= 0 {
		limit = defaultPackageParallelism
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, e := range t.local.Manifest {
		g.Go(func() error {
			return t.putFile(gctx, env, JoinRemote(dst, e.Path), e)
		})
	}
	return g.Wait()
}

// localChanged reports whether the local document no longer matches the plan.
func (t *Transfer) localChanged(env *Env) bool {
	cur, err := env.FS.ScanDocument(t.LocalRoot, t.Path, env.Cache)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return !cur.Manifest.Equal(t.local.Manifest)
}

// entry returns the manifest entry with the given relative path.
func (m Manifest) entry(p string) ManifestEntry {
	for _, e := range m {
		if e.Path == p {
			return e
		}
	}
	return ManifestEntry{Path: p}
}
