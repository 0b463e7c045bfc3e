package docsync

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
)

// TempDirName is the directory inside each remote container that holds
// uploads before they are moved into place.
const TempDirName = ".docsync-tmp"

// statDocument returns the current remote version of the document at rel, or
// nil if nothing is there.
func statDocument(ctx context.Context, env *Env, remoteRoot, rel string) (*RemoteVersion, error) {
	full := JoinRemote(remoteRoot, rel)
	e, err := env.Conn.Stat(ctx, full)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !e.IsDirectory {
		return &RemoteVersion{
			Path:         rel,
			VersionToken: e.VersionToken,
			Size:         e.Size,
			ModifiedAt:   e.ModifiedAt,
		}, nil
	}
	if !env.FS.IsPackageName(path.Base(rel)) {
		return nil, NewSyncError(KindConflict, "stat", rel, errors.New("a plain directory is in the way"))
	}
	return walkPackage(ctx, env.Conn, full, rel)
}

// walkPackage lists a remote package directory recursively.
func walkPackage(ctx context.Context, conn Connection, full, rel string) (*RemoteVersion, error) {
	v := &RemoteVersion{Path: rel, IsPackage: true}
	var walk func(dir, prefix string) error
	walk = func(dir, prefix string) error {
		entries, err := conn.ListDirectory(ctx, dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			child := JoinRemote(prefix, e.Name)
			if e.IsDirectory {
				if err := walk(JoinRemote(dir, e.Name), child); err != nil {
					return err
				}
				continue
			}
			v.Files = append(v.Files, RemoteFile{Path: child, VersionToken: e.VersionToken, Size: e.Size})
			v.Size += e.Size
			if e.ModifiedAt.After(v.ModifiedAt) {
				v.ModifiedAt = e.ModifiedAt
			}
		}
		return nil
	}
	if err := walk(full, ""); err != nil {
		return nil, err
	}
	sort.Slice(v.Files, func(i, j int) bool { return v.Files[i].Path < v.Files[j].Path })
	v.VersionToken = PackageToken(v.Files)
	return v, nil
}

// walkRemote lists every document under a container's remote root. It skips
// the temp area and paths matched by ignore.
func walkRemote(ctx context.Context, env *Env, remoteRoot string, ignore IgnoreRules) (map[string]*RemoteVersion, error) {
	docs := make(map[string]*RemoteVersion)
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := env.Conn.ListDirectory(ctx, JoinRemote(remoteRoot, rel))
		if err != nil {
			return err
		}
		for _, e := range entries {
			child := JoinRemote(rel, e.Name)
			if rel == "" && e.Name == TempDirName {
				continue
			}
			if ignore.Match(child) {
				continue
			}
			switch {
			case e.IsDirectory && env.FS.IsPackageName(e.Name):
				v, err := walkPackage(ctx, env.Conn, JoinRemote(remoteRoot, child), child)
				if err != nil {
					return err
				}
				docs[child] = v
			case e.IsDirectory:
				if err := walk(child); err != nil {
					return err
				}
			default:
				docs[child] = &RemoteVersion{
					Path:         child,
					VersionToken: e.VersionToken,
					Size:         e.Size,
					ModifiedAt:   e.ModifiedAt,
				}
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return docs, nil
}

// ensureRemoteDir creates dir and its missing ancestors below the account
// base.
func ensureRemoteDir(ctx context.Context, conn Connection, dir string) error {
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return nil
	}
	parts := strings.Split(dir, "/")
	for i := range parts {
		if err := conn.MakeDirectory(ctx, strings.Join(parts[:i+1], "/")); err != nil {
			return err
		}
	}
	return nil
}

// remoteScanToken summarizes a remote listing for status reports. It is
// computed from a full walk and does not shortcut change detection.
func remoteScanToken(docs map[string]*RemoteVersion) string {
	files := make([]RemoteFile, 0, len(docs))
	for p, v := range docs {
		files = append(files, RemoteFile{Path: p, VersionToken: v.VersionToken})
	}
	return PackageToken(files)
}
