package docsync

import (
	"context"
	"errors"
	"fmt"
	"path"
)

func (t *Transfer) renameRemote(ctx context.Context, env *Env) (TransferResult, error) {
	if !t.Overwrite {
		if err := t.checkRemote(ctx, env, "rename", t.FromPath, t.remote.VersionToken); err != nil {
			return TransferResult{}, err
		}
		if err := t.checkRemote(ctx, env, "rename", t.Path, ""); err != nil {
			return TransferResult{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}

	to := JoinRemote(t.RemoteRoot, t.Path)
	if err := ensureRemoteDir(ctx, env.Conn, path.Dir(to)); err != nil {
		return TransferResult{}, fmt.Errorf("creating remote parent: %w", err)
	}
	if err := env.Conn.Move(ctx, JoinRemote(t.RemoteRoot, t.FromPath), to); err != nil {
		return TransferResult{}, fmt.Errorf("moving remote document: %w", err)
	}

	rv, err := statDocument(ctx, env, t.RemoteRoot, t.Path)
	if err != nil {
		return TransferResult{}, fmt.Errorf("reading moved version: %w", err)
	}
	if rv == nil {
		return TransferResult{}, NewSyncError(KindTransient, "rename", t.Path, errors.New("moved document not visible"))
	}

	snap := t.base.Clone()
	snap.Path = t.Path
	remoteModified := t.remote.VersionToken != t.base.VersionToken
	if !remoteModified {
		snap.VersionToken = rv.VersionToken
	}
	if t.local != nil && t.local.Manifest.Equal(t.base.Manifest) {
		snap.ModifiedAt = t.local.ModifiedAt
	}
	return TransferResult{Snapshot: snap, FollowUp: remoteModified}, nil
}

func (t *Transfer) renameLocal(ctx context.Context, env *Env) (TransferResult, error) {
	if err := t.checkLocal(env, "rename", t.FromPath, t.local); err != nil {
		return softenCancel(err)
	}
	if env.FS.Exists(t.LocalRoot, t.Path) {
		return TransferResult{}, NewSyncError(KindConflict, "rename", t.Path, errors.New("local destination exists"))
	}
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	if err := env.FS.Move(t.LocalRoot, t.FromPath, t.Path); err != nil {
		return TransferResult{}, NewSyncError(KindLocalIO, "rename", t.FromPath, err)
	}

	snap := t.base.Clone()
	snap.Path = t.Path
	snap.VersionToken = t.remote.VersionToken
	localModified := !t.local.Manifest.Equal(t.base.Manifest)
	if !localModified {
		snap.ModifiedAt = t.local.ModifiedAt
	}
	return TransferResult{Snapshot: snap, FollowUp: localModified}, nil
}

func (t *Transfer) deleteRemote(ctx context.Context, env *Env) (TransferResult, error) {
	if !t.Overwrite {
		if err := t.checkRemote(ctx, env, "delete", t.Path, t.remote.VersionToken); err != nil {
			return softenConflict(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	err := env.Conn.Delete(ctx, JoinRemote(t.RemoteRoot, t.Path))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return TransferResult{}, fmt.Errorf("deleting remote document: %w", err)
	}
	return TransferResult{Deleted: true}, nil
}

func (t *Transfer) deleteLocal(ctx context.Context, env *Env) (TransferResult, error) {
	if !t.Overwrite {
		if err := t.checkLocal(env, "delete", t.Path, t.local); err != nil {
			return softenConflict(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	if err := env.FS.Remove(t.LocalRoot, t.Path); err != nil {
		return TransferResult{}, NewSyncError(KindLocalIO, "delete", t.Path, err)
	}
	return TransferResult{Deleted: true}, nil
}
