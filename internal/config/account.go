package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrAccountNotFound is returned when no record exists for an account.
var ErrAccountNotFound = errors.New("account not found")

// AccountRecord is the persisted description of one account. Username and
// secret are never part of it; they live in the credential store.
type AccountRecord struct {
	ID         string            `toml:"id"`
	Mode       string            `toml:"mode"` // "none", "manual" (default) or "automatic"
	Interval   Duration          `toml:"interval,omitempty"`
	Remote     RemoteConfig      `toml:"remote"`
	Containers []ContainerRecord `toml:"containers"`
}

// RemoteConfig represents configuration for an account's remote store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "webdav", "s3" or "memory"

	// WebDAV-specific fields (only used when Type == "webdav")
	URL string `toml:"url,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`

	// Encrypt seals document content with the configured key.
	Encrypt bool `toml:"encrypt,omitempty"`
}

// ContainerRecord maps a local folder to a remote directory.
type ContainerRecord struct {
	ID         string `toml:"id"`
	LocalPath  string `toml:"local_path"`
	RemotePath string `toml:"remote_path"`
}

// ValidateID rejects identifiers that cannot be used as file names.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id must not be empty")
	}
	if strings.ContainsAny(id, `/\:`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

// Validate checks the record.
func (r *AccountRecord) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	switch r.Remote.Type {
	case "webdav":
		if r.Remote.URL == "" {
			return fmt.Errorf("account %s: webdav remote requires url", r.ID)
		}
	case "s3":
		if r.Remote.S3Bucket == "" {
			return fmt.Errorf("account %s: s3 remote requires s3_bucket", r.ID)
		}
	case "memory":
	default:
		return fmt.Errorf("account %s: unknown remote type: %s", r.ID, r.Remote.Type)
	}
	seen := make(map[string]bool)
	for _, c := range r.Containers {
		if err := ValidateID(c.ID); err != nil {
			return fmt.Errorf("account %s: container: %w", r.ID, err)
		}
		if seen[c.ID] {
			return fmt.Errorf("account %s: duplicate container %s", r.ID, c.ID)
		}
		seen[c.ID] = true
		if !filepath.IsAbs(c.LocalPath) {
			return fmt.Errorf("account %s: container %s: local_path must be absolute", r.ID, c.ID)
		}
	}
	return nil
}

func accountPath(dir, id string) string {
	return filepath.Join(dir, id+".toml")
}

// WriteAccount stores the record as <dir>/<id>.toml, replacing any previous
// version atomically.
func WriteAccount(dir string, r *AccountRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return WriteFileAtomic(accountPath(dir, r.ID), 0600, r)
}

// ReadAccount loads the record for id.
func ReadAccount(dir, id string) (*AccountRecord, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	p := accountPath(dir, id)
	var r AccountRecord
	if _, err := toml.DecodeFile(p, &r); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("reading account %s: %w", p, err)
	}
	if r.ID != id {
		return nil, fmt.Errorf("account file %s holds id %q", p, r.ID)
	}
	return &r, nil
}

// ListAccounts loads every record in dir, ordered by ID. A missing
// directory holds no accounts.
func ListAccounts(dir string) ([]*AccountRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	var out []*AccountRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".toml" {
			continue
		}
		r, err := ReadAccount(dir, strings.TrimSuffix(name, ".toml"))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteAccount removes the record for id.
func DeleteAccount(dir, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.Remove(accountPath(dir, id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", id, ErrAccountNotFound)
		}
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	return nil
}
