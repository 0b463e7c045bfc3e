package encryption

import (
	"fmt"

	"docsync-go/internal/config"
	"docsync-go/internal/docsync"
)

// PassphraseFunc supplies the passphrase protecting the private key. It is
// only called when a key has to be unlocked.
type PassphraseFunc func() (string, error)

// NewKeyFromConfig creates the DocumentKey selected by the configuration
// type. It returns nil for type "none".
func NewKeyFromConfig(cfg config.EncryptionConfig, passphrase PassphraseFunc) (docsync.DocumentKey, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "test":
		return NewTestKey(), nil
	case "age":
		ring := NewAgeKeyring(cfg)
		if !ring.IsConfigured() {
			return nil, fmt.Errorf("encryption keys not found at %s; run 'docsync key init'", cfg.PublicKeyPath)
		}
		if passphrase == nil {
			return nil, fmt.Errorf("a passphrase is required to unlock %s", cfg.PrivateKeyPath)
		}
		pass, err := passphrase()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		key, err := ring.Unlock(pass)
		if err != nil {
			return nil, fmt.Errorf("unlocking encryption key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
