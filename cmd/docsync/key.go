package main

import (
	"fmt"

	"docsync-go/internal/encryption"

	"github.com/spf13/cobra"
)

// key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the remote content encryption key",
}

var keyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type != "age" {
			return fmt.Errorf("encryption type is %q; set [encryption] type = \"age\" first", cfg.Encryption.Type)
		}

		ring := encryption.NewAgeKeyring(cfg.Encryption)
		if ring.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}
		pass, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := ring.Setup(pass); err != nil {
			return fmt.Errorf("creating keys: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var keyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the passphrase unlocks the key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		key, err := encryption.NewKeyFromConfig(cfg.Encryption, readPassphrase)
		if err != nil {
			return err
		}
		if key == nil {
			fmt.Println("Encryption is disabled.")
			return nil
		}
		fmt.Println("Key unlocked.")
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keyInitCmd)
	keyCmd.AddCommand(keyCheckCmd)
}
