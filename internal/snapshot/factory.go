package snapshot

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"docsync-go/internal/config"
	"docsync-go/internal/database"
	"docsync-go/internal/docsync"
)

// NewStoreFromConfig creates the snapshot store of one account based on the
// store config type. Record files live in <dir>/<accountID>/.
func NewStoreFromConfig(cfg config.SnapshotStoreConfig, accountID string) (docsync.SnapshotStore, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id required for snapshot store")
	}
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return database.OpenAccountStore(cfg.Dir, accountID)
	case "filesystem", "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem snapshot store requires dir to be set")
		}
		return NewFileStore(afero.NewOsFs(), filepath.Join(cfg.Dir, accountID))
	default:
		return nil, fmt.Errorf("unknown snapshot store type: %s", cfg.Type)
	}
}
