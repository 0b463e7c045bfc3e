package docsync

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// remoteFiles lists the files a download fetches, relative to the document.
func (t *Transfer) remoteFiles() []RemoteFile {
	if !t.remote.IsPackage {
		return []RemoteFile{{Path: "", VersionToken: t.remote.VersionToken, Size: t.remote.Size}}
	}
	return t.remote.Files
}

// fetch opens one remote file of the document. A file that vanished means the
// remote changed after planning.
func (t *Transfer) fetch(ctx context.Context, env *Env, f RemoteFile) (io.ReadCloser, error) {
	rc, err := env.Conn.GetContents(ctx, JoinRemote(t.RemoteRoot, t.remote.Path, f.Path))
	if errors.Is(err, ErrNotFound) {
		return nil, NewSyncError(KindCancelled, "download", t.remote.Path, errRemoteChanged)
	}
	return rc, err
}

func (t *Transfer) download(ctx context.Context, env *Env) (TransferResult, error) {
	staged, err := env.FS.Stage(t.LocalRoot, t.Path, t.remote.IsPackage)
	if err != nil {
		return TransferResult{}, NewSyncError(KindLocalIO, "download", t.Path, err)
	}
	defer staged.Abort()

	for _, f := range t.remoteFiles() {
		if err := ctx.Err(); err != nil {
			return TransferResult{}, err
		}
		rc, err := t.fetch(ctx, env, f)
		if err != nil {
			return softenCancel(err)
		}
		_, err = staged.WriteFile(f.Path, &countingReader{r: rc, n: &t.bytes})
		rc.Close()
		if err != nil {
			if ctx.Err() != nil {
				return TransferResult{}, ctx.Err()
			}
			return TransferResult{}, fmt.Errorf("writing %s: %w", JoinRemote(t.Path, f.Path), err)
		}
	}

	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	if !t.Overwrite {
		var expected *LocalDocument
		if t.local != nil && t.local.Path == t.Path {
			expected = t.local
		}
		if err := t.checkLocal(env, "download", t.Path, expected); err != nil {
			return softenCancel(err)
		}
	}
	if err := staged.Commit(); err != nil {
		return TransferResult{}, NewSyncError(KindLocalIO, "download", t.Path, err)
	}

	doc, err := env.FS.ScanDocument(t.LocalRoot, t.Path, env.Cache)
	if err != nil {
		return TransferResult{}, NewSyncError(KindLocalIO, "download", t.Path, err)
	}
	return TransferResult{Snapshot: doc.Snapshot(t.Document, t.Container, t.remote.VersionToken)}, nil
}

// compare fetches the remote version and hashes it without writing anything
// locally.
func (t *Transfer) compare(ctx context.Context, env *Env) (TransferResult, error) {
	entries := make([]ManifestEntry, 0, len(t.remote.Files)+1)
	for _, f := range t.remoteFiles() {
		rc, err := t.fetch(ctx, env, f)
		if err != nil {
			return softenCancel(err)
		}
		hash, n, err := ContentHash(&countingReader{r: rc, n: &t.bytes})
		rc.Close()
		if err != nil {
			if ctx.Err() != nil {
				return TransferResult{}, ctx.Err()
			}
			return TransferResult{}, fmt.Errorf("reading %s: %w", JoinRemote(t.Path, f.Path), err)
		}
		entries = append(entries, ManifestEntry{Path: f.Path, Hash: hash, Size: n})
	}
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}

	remote := NewManifest(entries)
	if t.local == nil || t.local.IsPackage != t.remote.IsPackage || !remote.Equal(t.local.Manifest) {
		return TransferResult{}, NewSyncError(KindConflict, "compare", t.Path, errContentDiffer)
	}
	return TransferResult{
		Snapshot:  t.local.Snapshot(t.Document, t.Container, t.remote.VersionToken),
		Converged: true,
	}, nil
}

// softenCancel marks cancellations caused by a changed side as needing
// another pass.
func softenCancel(err error) (TransferResult, error) {
	var se *SyncError
	if errors.As(err, &se) && se.Kind == KindCancelled {
		return TransferResult{FollowUp: true}, err
	}
	return TransferResult{}, err
}
