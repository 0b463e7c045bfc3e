package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Defaults holds the default locations of docsync files.
type Defaults struct {
	ConfigPath  string
	BaseDir     string
	LogDir      string
	AccountsDir string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DOCSYNC_CONFIG_PATH: config file location (default: ~/.config/docsync.toml)
//   - DOCSYNC_HOME: base directory for docsync data (default: ~/.local/share/docsync)
//
// Both may start with "~".
func GetDefaults() (*Defaults, error) {
	configPath, err := fromEnv("DOCSYNC_CONFIG_PATH", ".config", "docsync.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnv("DOCSYNC_HOME", ".local", "share", "docsync")
	if err != nil {
		return nil, err
	}
	return &Defaults{
		ConfigPath:  configPath,
		BaseDir:     baseDir,
		LogDir:      filepath.Join(baseDir, "log"),
		AccountsDir: filepath.Join(baseDir, "accounts"),
	}, nil
}

// fromEnv returns the expanded value of the variable, or the path below the
// home directory when it is unset.
func fromEnv(name string, homeRel ...string) (string, error) {
	if v := os.Getenv(name); v != "" {
		p, err := homedir.Expand(v)
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", name, err)
		}
		return p, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, homeRel...)...), nil
}
