package main

import (
	"fmt"
	"os"

	"docsync-go/internal/app"
	"docsync-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from its default location.
func loadConfig() (*config.Config, *app.Defaults, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a DocSyncApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "sync", "resolve").
func newApp(operation string) (*app.DocSyncApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewDocSyncApp(cfg, operation, readPassphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "docsync",
	Short:        "Keep local document folders in sync with a remote store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		storeType, _ := cmd.Flags().GetString("store")
		credType, _ := cmd.Flags().GetString("credentials")
		encType, _ := cmd.Flags().GetString("encryption")

		hostID := uuid.New().String()
		cfg := &config.Config{HostID: hostID, BaseDir: defaults.BaseDir}
		cfg.SnapshotStore.Type = storeType
		cfg.Credentials.Type = credType
		cfg.Encryption.Type = encType
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Host ID:        %s\n", cfg.HostID)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Accounts Dir:   %s\n", cfg.AccountsDir)
		fmt.Printf("Snapshot Store: %s %s\n", cfg.SnapshotStore.Type, cfg.SnapshotStore.Dir)
		fmt.Printf("Credentials:    %s %s\n", cfg.Credentials.Type, cfg.Credentials.Path)
		fmt.Printf("Encryption:     %s\n", cfg.Encryption.Type)
		fmt.Printf("Interval:       %s\n", cfg.Schedule.Interval.Duration)
		if cfg.Metrics.ListenAddr != "" {
			fmt.Printf("Metrics:        %s\n", cfg.Metrics.ListenAddr)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("store", "filesystem", "Snapshot store type (filesystem, sqlite)")
	configInitCmd.Flags().String("credentials", "file", "Credential store type (file, env)")
	configInitCmd.Flags().String("encryption", "none", "Remote content encryption (none, age)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(historyCmd)
}
