package credentials

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"

	"docsync-go/internal/config"
	"docsync-go/internal/docsync"
)

// fileFormat is the TOML layout of the credential file:
//
//	[accounts.<id>]
//	username = "..."
//	secret = "..."
type fileFormat struct {
	Accounts map[string]fileEntry `toml:"accounts"`
}

type fileEntry struct {
	Username string `toml:"username"`
	Secret   string `toml:"secret"`
}

// FileStore keeps credentials in one TOML file readable only by its owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ docsync.CredentialStore = (*FileStore)(nil)

// NewFileStore creates a store backed by the file at path. The file is
// created on the first SetCredentials.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credential file path.
func (s *FileStore) Path() string { return s.path }

// CredentialsForAccount returns the stored credentials for accountID.
func (s *FileStore) CredentialsForAccount(accountID string) (docsync.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return docsync.Credentials{}, err
	}
	e, ok := f.Accounts[accountID]
	if !ok {
		return docsync.Credentials{}, fmt.Errorf("%s: %w", accountID, docsync.ErrNoCredentials)
	}
	return docsync.Credentials{Username: e.Username, Secret: e.Secret}, nil
}

// SetCredentials stores creds for accountID, replacing old ones.
func (s *FileStore) SetCredentials(accountID string, creds docsync.Credentials) error {
	if err := config.ValidateID(accountID); err != nil {
		return fmt.Errorf("setting credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	f.Accounts[accountID] = fileEntry{Username: creds.Username, Secret: creds.Secret}
	return s.save(f)
}

// DeleteCredentials forgets the credentials of accountID.
func (s *FileStore) DeleteCredentials(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := f.Accounts[accountID]; !ok {
		return nil
	}
	delete(f.Accounts, accountID)
	return s.save(f)
}

func (s *FileStore) load() (*fileFormat, error) {
	f := &fileFormat{Accounts: make(map[string]fileEntry)}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("credential file %s has permissions %04o, want 0600", s.path, perm)
	}
	if _, err := toml.DecodeFile(s.path, f); err != nil {
		return nil, fmt.Errorf("reading credentials %s: %w", s.path, err)
	}
	if f.Accounts == nil {
		f.Accounts = make(map[string]fileEntry)
	}
	return f, nil
}

func (s *FileStore) save(f *fileFormat) error {
	if err := config.WriteFileAtomic(s.path, 0600, f); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}
