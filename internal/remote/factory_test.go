package remote_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"docsync-go/internal/config"
	"docsync-go/internal/docsync"
	"docsync-go/internal/encryption"
	"docsync-go/internal/remote"
)

func TestNewConnectionFromConfig(t *testing.T) {
	ctx := context.Background()
	creds := func() (docsync.Credentials, error) { return docsync.Credentials{Username: "u", Secret: "s"}, nil }

	tests := []struct {
		name    string
		cfg     config.RemoteConfig
		key     docsync.DocumentKey
		want    string
		wantErr bool
	}{
		{name: "memory", cfg: config.RemoteConfig{Type: "memory"}, want: "*remote.MemoryConnection"},
		{name: "webdav", cfg: config.RemoteConfig{Type: "webdav", URL: "https://dav.example.com/files"}, want: "*remote.WebDAVConnection"},
		{name: "webdav without url", cfg: config.RemoteConfig{Type: "webdav"}, wantErr: true},
		{name: "webdav with bad url", cfg: config.RemoteConfig{Type: "webdav", URL: "ftp://x"}, wantErr: true},
		{name: "encrypted", cfg: config.RemoteConfig{Type: "memory", Encrypt: true}, key: encryption.NewTestKey(), want: "*remote.KeyedConnection"},
		{name: "encrypted without key", cfg: config.RemoteConfig{Type: "memory", Encrypt: true}, wantErr: true},
		{name: "unknown", cfg: config.RemoteConfig{Type: "ftp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := remote.NewConnectionFromConfig(ctx, tt.cfg, time.Minute, creds, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewConnectionFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := fmt.Sprintf("%T", conn); got != tt.want {
				t.Errorf("NewConnectionFromConfig() = %s, want %s", got, tt.want)
			}
		})
	}
}
