package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docsync-go/internal/config"
	"docsync-go/internal/docsync"
)

func TestFileStore(t *testing.T) {
	t.Run("missing file has no credentials", func(t *testing.T) {
		s := NewFileStore(filepath.Join(t.TempDir(), "credentials.toml"))
		if _, err := s.CredentialsForAccount("work"); !errors.Is(err, docsync.ErrNoCredentials) {
			t.Errorf("CredentialsForAccount() error = %v, want ErrNoCredentials", err)
		}
	})

	t.Run("set, read, replace and delete", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "credentials.toml")
		s := NewFileStore(path)

		if err := s.SetCredentials("work", docsync.Credentials{Username: "ann", Secret: "s1"}); err != nil {
			t.Fatalf("SetCredentials() error = %v", err)
		}
		if err := s.SetCredentials("home", docsync.Credentials{Username: "bob", Secret: "s2"}); err != nil {
			t.Fatalf("SetCredentials() error = %v", err)
		}
		if err := s.SetCredentials("work", docsync.Credentials{Username: "ann", Secret: "s3"}); err != nil {
			t.Fatalf("SetCredentials() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("credential file missing: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("file permissions = %04o, want 0600", perm)
		}

		// A fresh store sees what the first one wrote.
		other := NewFileStore(path)
		got, err := other.CredentialsForAccount("work")
		if err != nil {
			t.Fatalf("CredentialsForAccount() error = %v", err)
		}
		if got != (docsync.Credentials{Username: "ann", Secret: "s3"}) {
			t.Errorf("CredentialsForAccount() = %+v", got)
		}

		if err := other.DeleteCredentials("work"); err != nil {
			t.Fatalf("DeleteCredentials() error = %v", err)
		}
		if _, err := s.CredentialsForAccount("work"); !errors.Is(err, docsync.ErrNoCredentials) {
			t.Errorf("after delete error = %v, want ErrNoCredentials", err)
		}
		if got, _ := s.CredentialsForAccount("home"); got.Secret != "s2" {
			t.Errorf("other account lost: %+v", got)
		}
		if err := s.DeleteCredentials("nobody"); err != nil {
			t.Errorf("deleting missing credentials error = %v", err)
		}
	})

	t.Run("rejects readable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.toml")
		if err := os.WriteFile(path, []byte("[accounts.work]\nsecret = \"x\"\n"), 0644); err != nil {
			t.Fatal(err)
		}
		s := NewFileStore(path)
		if _, err := s.CredentialsForAccount("work"); err == nil || !strings.Contains(err.Error(), "permissions") {
			t.Errorf("CredentialsForAccount() error = %v, want permissions error", err)
		}
	})

	t.Run("rejects invalid account id", func(t *testing.T) {
		s := NewFileStore(filepath.Join(t.TempDir(), "credentials.toml"))
		if err := s.SetCredentials("../x", docsync.Credentials{Secret: "x"}); err == nil {
			t.Error("SetCredentials() expected error for invalid id")
		}
	})
}

func TestEnvNames(t *testing.T) {
	tests := []struct {
		id       string
		username string
		secret   string
	}{
		{"work", "DOCSYNC_WORK_USERNAME", "DOCSYNC_WORK_SECRET"},
		{"my-nas.local", "DOCSYNC_MY_NAS_LOCAL_USERNAME", "DOCSYNC_MY_NAS_LOCAL_SECRET"},
		{"Acct2", "DOCSYNC_ACCT2_USERNAME", "DOCSYNC_ACCT2_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			u, s := EnvNames(tt.id)
			if u != tt.username || s != tt.secret {
				t.Errorf("EnvNames(%q) = %q, %q", tt.id, u, s)
			}
		})
	}
}

func TestEnvStore(t *testing.T) {
	t.Setenv("DOCSYNC_WORK_USERNAME", "ann")
	t.Setenv("DOCSYNC_WORK_SECRET", "hunter2")
	t.Setenv("DOCSYNC_TOKENONLY_SECRET", "tok")

	s := NewEnvStore()

	got, err := s.CredentialsForAccount("work")
	if err != nil {
		t.Fatalf("CredentialsForAccount() error = %v", err)
	}
	if got != (docsync.Credentials{Username: "ann", Secret: "hunter2"}) {
		t.Errorf("CredentialsForAccount() = %+v", got)
	}

	if got, err := s.CredentialsForAccount("tokenonly"); err != nil || got.Username != "" || got.Secret != "tok" {
		t.Errorf("CredentialsForAccount(tokenonly) = %+v, %v", got, err)
	}

	if _, err := s.CredentialsForAccount("home"); !errors.Is(err, docsync.ErrNoCredentials) {
		t.Errorf("CredentialsForAccount(home) error = %v, want ErrNoCredentials", err)
	}
	if err := s.SetCredentials("work", docsync.Credentials{}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("SetCredentials() error = %v, want ErrReadOnly", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.CredentialsForAccount("work"); !errors.Is(err, docsync.ErrNoCredentials) {
		t.Errorf("error = %v, want ErrNoCredentials", err)
	}
	m.SetCredentials("work", docsync.Credentials{Username: "u", Secret: "s"})

	fetch := ForAccount(m, "work")
	if got, err := fetch(); err != nil || got.Secret != "s" {
		t.Errorf("ForAccount() = %+v, %v", got, err)
	}
	m.SetCredentials("work", docsync.Credentials{Username: "u", Secret: "rotated"})
	if got, _ := fetch(); got.Secret != "rotated" {
		t.Errorf("ForAccount() did not see rotated secret: %+v", got)
	}
	m.DeleteCredentials("work")
	if _, err := fetch(); docsync.Classify(err) != docsync.KindAuth {
		t.Errorf("missing credentials classify as %v, want auth", docsync.Classify(err))
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CredentialsConfig
		want    string
		wantErr bool
	}{
		{name: "file", cfg: config.CredentialsConfig{Type: "file", Path: "/tmp/c.toml"}, want: "*credentials.FileStore"},
		{name: "env", cfg: config.CredentialsConfig{Type: "env"}, want: "*credentials.EnvStore"},
		{name: "memory", cfg: config.CredentialsConfig{Type: "memory"}, want: "*credentials.MemoryStore"},
		{name: "file without path", cfg: config.CredentialsConfig{Type: "file"}, wantErr: true},
		{name: "unknown", cfg: config.CredentialsConfig{Type: "keychain"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStoreFromConfig() error = %v", err)
			}
			var name string
			switch got.(type) {
			case *FileStore:
				name = "*credentials.FileStore"
			case *EnvStore:
				name = "*credentials.EnvStore"
			case *MemoryStore:
				name = "*credentials.MemoryStore"
			}
			if name != tt.want {
				t.Errorf("NewStoreFromConfig() = %T, want %s", got, tt.want)
			}
		})
	}
}
