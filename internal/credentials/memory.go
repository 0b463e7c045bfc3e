package credentials

import (
	"fmt"
	"sync"

	"docsync-go/internal/docsync"
)

// MemoryStore is an in-memory docsync.CredentialStore for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]docsync.Credentials
}

var _ docsync.CredentialStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]docsync.Credentials)}
}

func (m *MemoryStore) CredentialsForAccount(accountID string) (docsync.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.creds[accountID]
	if !ok {
		return docsync.Credentials{}, fmt.Errorf("%s: %w", accountID, docsync.ErrNoCredentials)
	}
	return c, nil
}

func (m *MemoryStore) SetCredentials(accountID string, creds docsync.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[accountID] = creds
	return nil
}

func (m *MemoryStore) DeleteCredentials(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, accountID)
	return nil
}
