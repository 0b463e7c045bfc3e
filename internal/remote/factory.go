package remote

import (
	"context"
	"fmt"
	"time"

	"docsync-go/internal/config"
	"docsync-go/internal/docsync"
)

// NewConnectionFromConfig creates a Connection based on the remote config
// type. key is required when the account asks for encryption.
func NewConnectionFromConfig(ctx context.Context, cfg config.RemoteConfig, timeout time.Duration, creds CredentialsFunc, key docsync.DocumentKey) (docsync.Connection, error) {
	var conn docsync.Connection
	switch cfg.Type {
	case "memory":
		conn = NewMemoryConnection(nil)
	case "webdav":
		if cfg.URL == "" {
			return nil, fmt.Errorf("webdav remote requires url to be set")
		}
		c, err := NewWebDAVConnection(WebDAVConfig{BaseURL: cfg.URL, Timeout: timeout}, creds)
		if err != nil {
			return nil, err
		}
		conn = c
	case "s3":
		c, err := NewS3Connection(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		}, creds)
		if err != nil {
			return nil, err
		}
		conn = c
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}

	if cfg.Encrypt {
		if key == nil {
			return nil, fmt.Errorf("remote asks for encryption but no encryption key is configured")
		}
		conn = NewKeyedConnection(conn, key)
	}
	return conn, nil
}
