package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
)

// Config represents the main configuration for docsync.
type Config struct {
	HostID        string              `toml:"host_id"`
	BaseDir       string              `toml:"base_dir"`
	LogDir        string              `toml:"log_dir"`
	AccountsDir   string              `toml:"accounts_dir"`
	SnapshotStore SnapshotStoreConfig `toml:"snapshot_store"`
	Credentials   CredentialsConfig   `toml:"credentials"`
	Encryption    EncryptionConfig    `toml:"encryption"`
	Transfers     TransfersConfig     `toml:"transfers"`
	Retry         RetryConfig         `toml:"retry"`
	Schedule      ScheduleConfig      `toml:"schedule"`
	Filesystem    FilesystemConfig    `toml:"filesystem"`
	Cache         CacheConfig         `toml:"cache"`
	Metrics       MetricsConfig       `toml:"metrics"`
}

// SnapshotStoreConfig selects where sync records are kept.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SnapshotStoreConfig struct {
	Type string `toml:"type"`          // "filesystem" (default), "sqlite" or "memory"
	Dir  string `toml:"dir,omitempty"` // record directory, or the database directory for sqlite
}

// CredentialsConfig selects where account secrets are kept.
type CredentialsConfig struct {
	Type string `toml:"type"`           // "file" (default), "env" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=file
}

// EncryptionConfig holds paths to the age key pair used to encrypt remote
// content for accounts that ask for it.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// TransfersConfig bounds transfer concurrency per account.
type TransfersConfig struct {
	MaxConcurrent      int      `toml:"max_concurrent"`
	MaxPerCycle        int      `toml:"max_per_cycle"`
	Timeout            Duration `toml:"timeout"`
	PackageParallelism int      `toml:"package_parallelism"`
}

// RetryConfig is the backoff applied to failed documents.
type RetryConfig struct {
	BaseDelay     Duration `toml:"base_delay"`
	MaxDelay      Duration `toml:"max_delay"`
	MaxAttempts   int      `toml:"max_attempts"`
	JitterPercent int      `toml:"jitter_percent"`
}

// ScheduleConfig holds the defaults for automatic accounts.
type ScheduleConfig struct {
	Interval      Duration `toml:"interval"`
	TempRetention Duration `toml:"temp_retention"`
	MaxPasses     int      `toml:"max_passes"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore            []string `toml:"ignore"`
	PackageExtensions []string `toml:"package_extensions"`
}

// CacheConfig sizes the content hash cache of each account.
type CacheConfig struct {
	HashEntries int `toml:"hash_entries"`
}

// MetricsConfig configures the metrics endpoint of "docsync run".
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr,omitempty"`
}

// Duration is a time.Duration written as a string such as "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	cfg := &Config{
		HostID:  hostID,
		BaseDir: baseDir,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.AccountsDir == "" {
		c.AccountsDir = filepath.Join(c.BaseDir, "accounts")
	}
	if c.SnapshotStore.Type == "" {
		c.SnapshotStore.Type = "filesystem"
	}
	if c.SnapshotStore.Dir == "" && c.SnapshotStore.Type != "memory" {
		c.SnapshotStore.Dir = filepath.Join(c.BaseDir, "snapshots")
	}
	if c.Credentials.Type == "" {
		c.Credentials.Type = "file"
	}
	if c.Credentials.Path == "" && c.Credentials.Type == "file" {
		c.Credentials.Path = filepath.Join(c.BaseDir, "credentials.toml")
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
	if c.Encryption.Type == "age" {
		if c.Encryption.PublicKeyPath == "" {
			c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "docsync.pub")
		}
		if c.Encryption.PrivateKeyPath == "" {
			c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "docsync.key")
		}
	}
	if c.Transfers.MaxConcurrent <= 0 {
		c.Transfers.MaxConcurrent = 4
	}
	if c.Transfers.Timeout.Duration <= 0 {
		c.Transfers.Timeout.Duration = 10 * time.Minute
	}
	if c.Transfers.PackageParallelism <= 0 {
		c.Transfers.PackageParallelism = 4
	}
	if c.Retry.BaseDelay.Duration <= 0 {
		c.Retry.BaseDelay.Duration = 2 * time.Second
	}
	if c.Retry.MaxDelay.Duration <= 0 {
		c.Retry.MaxDelay.Duration = 10 * time.Minute
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 8
	}
	if c.Schedule.Interval.Duration <= 0 {
		c.Schedule.Interval.Duration = 5 * time.Minute
	}
	if c.Schedule.TempRetention.Duration <= 0 {
		c.Schedule.TempRetention.Duration = 24 * time.Hour
	}
	if c.Schedule.MaxPasses <= 0 {
		c.Schedule.MaxPasses = 4
	}
	if c.Cache.HashEntries <= 0 {
		c.Cache.HashEntries = 4096
	}
}

// ExpandPaths resolves a leading "~" in every path field.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.BaseDir, &c.LogDir, &c.AccountsDir, &c.SnapshotStore.Dir, &c.Credentials.Path,
		&c.Encryption.PublicKeyPath, &c.Encryption.PrivateKeyPath,
	} {
		v, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = v
	}
	return nil
}

// Validate checks the tagged-union sections.
func (c *Config) Validate() error {
	switch c.SnapshotStore.Type {
	case "filesystem", "sqlite":
		if c.SnapshotStore.Dir == "" {
			return fmt.Errorf("snapshot store %q requires dir to be set", c.SnapshotStore.Type)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown snapshot store type: %s", c.SnapshotStore.Type)
	}
	switch c.Credentials.Type {
	case "file":
		if c.Credentials.Path == "" {
			return fmt.Errorf("file credentials require path to be set")
		}
	case "env", "memory":
	default:
		return fmt.Errorf("unknown credentials type: %s", c.Credentials.Type)
	}
	switch c.Encryption.Type {
	case "none", "test", "age":
	default:
		return fmt.Errorf("unknown encryption type: %s", c.Encryption.Type)
	}
	if c.Retry.JitterPercent < 0 || c.Retry.JitterPercent > 100 {
		return fmt.Errorf("retry jitter_percent must be between 0 and 100")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path, expands "~"
// and applies defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteFileAtomic encodes v as TOML into a temp file next to path and
// renames it into place.
func WriteFileAtomic(path string, perm os.FileMode, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := toml.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := WriteFileAtomic(path, 0644, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
