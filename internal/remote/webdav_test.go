package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/webdav"

	"docsync-go/internal/docsync"
	"docsync-go/internal/remote"
)

func newDAVServer(t *testing.T, user, pass string) *httptest.Server {
	t.Helper()
	h := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDAVConn(t *testing.T, srv *httptest.Server, user, pass string) *remote.WebDAVConnection {
	t.Helper()
	conn, err := remote.NewWebDAVConnection(remote.WebDAVConfig{BaseURL: srv.URL + "/dav"}, func() (docsync.Credentials, error) {
		return docsync.Credentials{Username: user, Secret: pass}, nil
	})
	if err != nil {
		t.Fatalf("NewWebDAVConnection() error = %v", err)
	}
	return conn
}

func readAll(t *testing.T, conn docsync.Connection, p string) string {
	t.Helper()
	rc, err := conn.GetContents(context.Background(), p)
	if err != nil {
		t.Fatalf("GetContents(%s) error = %v", p, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading %s: %v", p, err)
	}
	return string(data)
}

func TestWebDAVConnection_Operations(t *testing.T) {
	srv := newDAVServer(t, "alice", "s3cret")
	conn := newDAVConn(t, srv, "alice", "s3cret")
	ctx := context.Background()

	if err := conn.MakeDirectory(ctx, "My Docs"); err != nil {
		t.Fatalf("MakeDirectory() error = %v", err)
	}
	if err := conn.MakeDirectory(ctx, "My Docs"); err != nil {
		t.Fatalf("MakeDirectory() on existing directory error = %v", err)
	}

	token, err := conn.PutContents(ctx, "My Docs/a (1).txt", strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("PutContents() error = %v", err)
	}
	if token == "" {
		t.Fatal("PutContents() returned empty token")
	}

	e, err := conn.Stat(ctx, "My Docs/a (1).txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if e.VersionToken != token || e.Size != 5 || e.IsDirectory || e.Name != "a (1).txt" {
		t.Errorf("Stat() = %+v, want token %s", e, token)
	}

	entries, err := conn.ListDirectory(ctx, "My Docs")
	if err != nil {
		t.Fatalf("ListDirectory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a (1).txt" {
		t.Errorf("ListDirectory() = %+v", entries)
	}

	root, err := conn.ListDirectory(ctx, "")
	if err != nil {
		t.Fatalf("ListDirectory(root) error = %v", err)
	}
	if len(root) != 1 || !root[0].IsDirectory || root[0].Name != "My Docs" {
		t.Errorf("ListDirectory(root) = %+v", root)
	}

	if got := readAll(t, conn, "My Docs/a (1).txt"); got != "hello" {
		t.Errorf("GetContents() = %q", got)
	}

	if err := conn.Move(ctx, "My Docs/a (1).txt", "My Docs/b.txt"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	moved, err := conn.Stat(ctx, "My Docs/b.txt")
	if err != nil {
		t.Fatalf("Stat() after move error = %v", err)
	}
	if moved.VersionToken != token {
		t.Errorf("move changed token: %s -> %s", token, moved.VersionToken)
	}
	if _, err := conn.Stat(ctx, "My Docs/a (1).txt"); !errors.Is(err, docsync.ErrNotFound) {
		t.Errorf("Stat() of moved source error = %v, want ErrNotFound", err)
	}

	if _, err := conn.PutContents(ctx, "My Docs/c.txt", strings.NewReader("other"), 5); err != nil {
		t.Fatalf("PutContents() error = %v", err)
	}
	if err := conn.Move(ctx, "My Docs/c.txt", "My Docs/b.txt"); err != nil {
		t.Fatalf("Move() over existing error = %v", err)
	}
	if got := readAll(t, conn, "My Docs/b.txt"); got != "other" {
		t.Errorf("content after overwrite move = %q", got)
	}

	if err := conn.Delete(ctx, "My Docs"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := conn.ListDirectory(ctx, "My Docs"); !errors.Is(err, docsync.ErrNotFound) {
		t.Errorf("ListDirectory() of deleted directory error = %v, want ErrNotFound", err)
	}
}

func TestWebDAVConnection_Errors(t *testing.T) {
	srv := newDAVServer(t, "alice", "s3cret")
	ctx := context.Background()

	t.Run("missing parent is a conflict", func(t *testing.T) {
		conn := newDAVConn(t, srv, "alice", "s3cret")
		_, err := conn.PutContents(ctx, "nope/a.txt", strings.NewReader("x"), 1)
		if got := docsync.Classify(err); got != docsync.KindConflict {
			t.Errorf("Classify() = %s, want conflict (err %v)", got, err)
		}
	})

	t.Run("missing file is not found", func(t *testing.T) {
		conn := newDAVConn(t, srv, "alice", "s3cret")
		if _, err := conn.GetContents(ctx, "absent.txt"); !errors.Is(err, docsync.ErrNotFound) {
			t.Errorf("GetContents() error = %v, want ErrNotFound", err)
		}
		if err := conn.Delete(ctx, "absent.txt"); !errors.Is(err, docsync.ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("wrong password is an auth error", func(t *testing.T) {
		conn := newDAVConn(t, srv, "alice", "wrong")
		_, err := conn.ListDirectory(ctx, "")
		if got := docsync.Classify(err); got != docsync.KindAuth {
			t.Errorf("Classify() = %s, want auth (err %v)", got, err)
		}
	})

	t.Run("missing credentials is an auth error", func(t *testing.T) {
		conn, err := remote.NewWebDAVConnection(remote.WebDAVConfig{BaseURL: srv.URL + "/dav"}, func() (docsync.Credentials, error) {
			return docsync.Credentials{}, docsync.ErrNoCredentials
		})
		if err != nil {
			t.Fatalf("NewWebDAVConnection() error = %v", err)
		}
		_, err = conn.Stat(ctx, "")
		if got := docsync.Classify(err); got != docsync.KindAuth {
			t.Errorf("Classify() = %s, want auth (err %v)", got, err)
		}
	})

	t.Run("listing a file is a conflict", func(t *testing.T) {
		conn := newDAVConn(t, srv, "alice", "s3cret")
		if _, err := conn.PutContents(ctx, "file.txt", strings.NewReader("x"), 1); err != nil {
			t.Fatalf("PutContents() error = %v", err)
		}
		_, err := conn.ListDirectory(ctx, "file.txt")
		if got := docsync.Classify(err); got != docsync.KindConflict {
			t.Errorf("Classify() = %s, want conflict (err %v)", got, err)
		}
	})
}

func TestNewWebDAVConnection_BadURL(t *testing.T) {
	tests := []string{"", "ftp://example.com", "::not a url"}
	for _, u := range tests {
		if _, err := remote.NewWebDAVConnection(remote.WebDAVConfig{BaseURL: u}, nil); err == nil {
			t.Errorf("NewWebDAVConnection(%q) expected error", u)
		}
	}
}
