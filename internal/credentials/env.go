package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"docsync-go/internal/docsync"
)

// ErrReadOnly is returned when writing to a store that cannot be changed.
var ErrReadOnly = errors.New("credential store is read-only")

// EnvStore reads credentials from DOCSYNC_<ACCOUNT>_USERNAME and
// DOCSYNC_<ACCOUNT>_SECRET. The account id is upper-cased and every
// character outside [A-Z0-9] becomes an underscore.
type EnvStore struct {
	lookup func(string) (string, bool)
}

var _ docsync.CredentialStore = (*EnvStore)(nil)

// NewEnvStore creates a store over the process environment.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// EnvNames returns the username and secret variable names for accountID.
func EnvNames(accountID string) (username, secret string) {
	var b strings.Builder
	for _, r := range strings.ToUpper(accountID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	prefix := "DOCSYNC_" + b.String()
	return prefix + "_USERNAME", prefix + "_SECRET"
}

// CredentialsForAccount reads the account's variables. The secret must be
// set; the username may be empty.
func (s *EnvStore) CredentialsForAccount(accountID string) (docsync.Credentials, error) {
	userVar, secretVar := EnvNames(accountID)
	secret, ok := s.lookup(secretVar)
	if !ok || secret == "" {
		return docsync.Credentials{}, fmt.Errorf("%s not set: %w", secretVar, docsync.ErrNoCredentials)
	}
	user, _ := s.lookup(userVar)
	return docsync.Credentials{Username: user, Secret: secret}, nil
}

// SetCredentials always fails; the environment is managed outside docsync.
func (s *EnvStore) SetCredentials(accountID string, _ docsync.Credentials) error {
	userVar, secretVar := EnvNames(accountID)
	return fmt.Errorf("set %s and %s instead: %w", userVar, secretVar, ErrReadOnly)
}

// DeleteCredentials is a no-op.
func (s *EnvStore) DeleteCredentials(string) error {
	return nil
}
