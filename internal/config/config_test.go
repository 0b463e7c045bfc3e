package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("test-host-abc", "/home/user/.local/share/docsync")
	original.Encryption = EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  "/home/user/.local/share/docsync/keys/docsync.pub",
		PrivateKeyPath: "/home/user/.local/share/docsync/keys/docsync.key",
	}
	original.SnapshotStore = SnapshotStoreConfig{Type: "sqlite", Dir: "/var/lib/docsync"}
	original.Transfers.Timeout = Duration{90 * time.Second}
	original.Filesystem = FilesystemConfig{
		Ignore:            []string{"*.log", ".git"},
		PackageExtensions: []string{".pages"},
	}
	original.Metrics.ListenAddr = "127.0.0.1:9187"

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `timeout = "1m30s"`) {
		t.Errorf("durations should be written as strings:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.AccountsDir != original.AccountsDir {
		t.Errorf("AccountsDir = %q, want %q", got.AccountsDir, original.AccountsDir)
	}
	if got.SnapshotStore != original.SnapshotStore {
		t.Errorf("SnapshotStore = %+v, want %+v", got.SnapshotStore, original.SnapshotStore)
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
	if got.Transfers.Timeout.Duration != 90*time.Second {
		t.Errorf("Transfers.Timeout = %v, want 1m30s", got.Transfers.Timeout)
	}
	if got.Schedule.Interval.Duration != 5*time.Minute {
		t.Errorf("Schedule.Interval = %v, want 5m", got.Schedule.Interval)
	}
	if len(got.Filesystem.Ignore) != 2 || got.Filesystem.PackageExtensions[0] != ".pages" {
		t.Errorf("Filesystem = %+v", got.Filesystem)
	}
	if got.Metrics.ListenAddr != "127.0.0.1:9187" {
		t.Errorf("Metrics.ListenAddr = %q", got.Metrics.ListenAddr)
	}
}

func TestManager_Read_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[schedule]\ninterval = \"soon\"\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("host", "/base")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"log dir", cfg.LogDir, filepath.Join("/base", "log")},
		{"accounts dir", cfg.AccountsDir, filepath.Join("/base", "accounts")},
		{"snapshot store", cfg.SnapshotStore.Type, "filesystem"},
		{"snapshot dir", cfg.SnapshotStore.Dir, filepath.Join("/base", "snapshots")},
		{"credentials", cfg.Credentials.Type, "file"},
		{"credentials path", cfg.Credentials.Path, filepath.Join("/base", "credentials.toml")},
		{"encryption", cfg.Encryption.Type, "none"},
		{"max concurrent", cfg.Transfers.MaxConcurrent, 4},
		{"retry attempts", cfg.Retry.MaxAttempts, 8},
		{"retry base", cfg.Retry.BaseDelay.Duration, 2 * time.Second},
		{"temp retention", cfg.Schedule.TempRetention.Duration, 24 * time.Hour},
		{"hash entries", cfg.Cache.HashEntries, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"memory store", func(c *Config) { c.SnapshotStore = SnapshotStoreConfig{Type: "memory"} }, false},
		{"unknown store", func(c *Config) { c.SnapshotStore.Type = "redis" }, true},
		{"sqlite without dir", func(c *Config) { c.SnapshotStore = SnapshotStoreConfig{Type: "sqlite"} }, true},
		{"unknown credentials", func(c *Config) { c.Credentials.Type = "keychain" }, true},
		{"unknown encryption", func(c *Config) { c.Encryption.Type = "rot13" }, true},
		{"bad jitter", func(c *Config) { c.Retry.JitterPercent = 150 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("host", "/base")
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ExpandPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	cfg := &Config{BaseDir: "~/docsync", LogDir: "/abs/log"}
	if err := cfg.ExpandPaths(); err != nil {
		t.Fatalf("ExpandPaths() error = %v", err)
	}
	if cfg.BaseDir != filepath.Join(home, "docsync") {
		t.Errorf("BaseDir = %q", cfg.BaseDir)
	}
	if cfg.LogDir != "/abs/log" {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "subdir", "config.toml")
		cfg := NewConfig("host-123", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "host-123" {
			t.Errorf("HostID = %q, want %q", got.HostID, "host-123")
		}
	})

	t.Run("fails if config already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(path, []byte("existing"), 0644); err != nil {
			t.Fatalf("setup error: %v", err)
		}

		err := Init(path, NewConfig("host", dir))
		if err == nil {
			t.Fatal("expected error for existing config, got nil")
		}
	})
}

func TestReadFromFile_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "host_id = \"h\"\nbase_dir = \"" + dir + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("setup error: %v", err)
	}
	cfg, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if cfg.AccountsDir != filepath.Join(dir, "accounts") {
		t.Errorf("AccountsDir = %q", cfg.AccountsDir)
	}
}

func TestAccountRecords(t *testing.T) {
	dir := t.TempDir()

	rec := &AccountRecord{
		ID:       "work",
		Mode:     "automatic",
		Interval: Duration{time.Minute},
		Remote:   RemoteConfig{Type: "webdav", URL: "https://dav.example.com/files", Encrypt: true},
		Containers: []ContainerRecord{
			{ID: "notes", LocalPath: "/home/u/Notes", RemotePath: "Notes"},
		},
	}
	if err := WriteAccount(dir, rec); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "work.toml"))
	if err != nil {
		t.Fatalf("record not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("record mode = %v, want 0600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(filepath.Join(dir, "work.toml"))
	if strings.Contains(strings.ToLower(string(data)), "secret") || strings.Contains(strings.ToLower(string(data)), "password") {
		t.Errorf("record must not hold secrets:\n%s", data)
	}

	got, err := ReadAccount(dir, "work")
	if err != nil {
		t.Fatalf("ReadAccount() error = %v", err)
	}
	if got.Remote != rec.Remote || got.Interval.Duration != time.Minute || len(got.Containers) != 1 {
		t.Errorf("ReadAccount() = %+v", got)
	}

	if err := WriteAccount(dir, &AccountRecord{ID: "home", Remote: RemoteConfig{Type: "memory"}}); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}
	all, err := ListAccounts(dir)
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != "home" || all[1].ID != "work" {
		t.Errorf("ListAccounts() = %+v", all)
	}

	if err := DeleteAccount(dir, "work"); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, err := ReadAccount(dir, "work"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("ReadAccount() after delete error = %v, want ErrAccountNotFound", err)
	}
	if err := DeleteAccount(dir, "work"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("DeleteAccount() twice error = %v, want ErrAccountNotFound", err)
	}
}

func TestAccountRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     AccountRecord
		wantErr bool
	}{
		{"memory", AccountRecord{ID: "a", Remote: RemoteConfig{Type: "memory"}}, false},
		{"empty id", AccountRecord{Remote: RemoteConfig{Type: "memory"}}, true},
		{"path in id", AccountRecord{ID: "../x", Remote: RemoteConfig{Type: "memory"}}, true},
		{"webdav without url", AccountRecord{ID: "a", Remote: RemoteConfig{Type: "webdav"}}, true},
		{"s3 without bucket", AccountRecord{ID: "a", Remote: RemoteConfig{Type: "s3"}}, true},
		{"unknown remote", AccountRecord{ID: "a", Remote: RemoteConfig{Type: "ftp"}}, true},
		{"relative local path", AccountRecord{ID: "a", Remote: RemoteConfig{Type: "memory"},
			Containers: []ContainerRecord{{ID: "c", LocalPath: "docs"}}}, true},
		{"duplicate container", AccountRecord{ID: "a", Remote: RemoteConfig{Type: "memory"},
			Containers: []ContainerRecord{{ID: "c", LocalPath: "/x"}, {ID: "c", LocalPath: "/y"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
