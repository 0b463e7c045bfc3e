package credentials

import (
	"fmt"

	"docsync-go/internal/config"
	"docsync-go/internal/docsync"
)

// NewStoreFromConfig creates a CredentialStore based on the config type.
func NewStoreFromConfig(cfg config.CredentialsConfig) (docsync.CredentialStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "env":
		return NewEnvStore(), nil
	case "file", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file credential store requires path to be set")
		}
		return NewFileStore(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown credential store type: %s", cfg.Type)
	}
}

// ForAccount returns a function fetching the current credentials of one
// account, so a connection picks up refreshed credentials without being
// rebuilt.
func ForAccount(store docsync.CredentialStore, accountID string) func() (docsync.Credentials, error) {
	return func() (docsync.Credentials, error) {
		return store.CredentialsForAccount(accountID)
	}
}
