package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docsync-go/internal/config"
	"docsync-go/internal/docsync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

// account command
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage sync accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add ACCOUNT",
	Short: "Add an account",
	Long: `Add an account and its containers.

Each --container flag maps a local folder to a remote directory:

  docsync account add work --url https://dav.example.com/ --username ann \
      --container notes=~/Notes:/notes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		remoteType, _ := flags.GetString("remote")
		url, _ := flags.GetString("url")
		bucket, _ := flags.GetString("s3-bucket")
		prefix, _ := flags.GetString("s3-prefix")
		region, _ := flags.GetString("s3-region")
		endpoint, _ := flags.GetString("s3-endpoint")
		pathStyle, _ := flags.GetBool("s3-path-style")
		encrypt, _ := flags.GetBool("encrypt")
		mode, _ := flags.GetString("mode")
		interval, _ := flags.GetDuration("interval")
		specs, _ := flags.GetStringArray("container")
		username, _ := flags.GetString("username")

		rec := &config.AccountRecord{
			ID:       args[0],
			Mode:     mode,
			Interval: config.Duration{Duration: interval},
			Remote: config.RemoteConfig{
				Type:        remoteType,
				URL:         url,
				S3Bucket:    bucket,
				S3Prefix:    prefix,
				S3Region:    region,
				S3Endpoint:  endpoint,
				S3PathStyle: pathStyle,
				Encrypt:     encrypt,
			},
		}
		for _, s := range specs {
			c, err := parseContainer(s)
			if err != nil {
				return err
			}
			rec.Containers = append(rec.Containers, c)
		}
		if err := rec.Validate(); err != nil {
			return err
		}

		var creds docsync.Credentials
		if username != "" || remoteType == "webdav" {
			secret, err := readAccountSecret(rec.ID)
			if err != nil {
				return err
			}
			creds = docsync.Credentials{Username: username, Secret: secret}
		}

		a, err := newApp("account-add")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddAccount(rec, creds); err != nil {
			return err
		}
		fmt.Printf("Account %s added with %d container(s).\n", rec.ID, len(rec.Containers))
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("account-list")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.ListAccounts()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No accounts.")
			return nil
		}
		for _, r := range recs {
			mode := r.Mode
			if mode == "" {
				mode = "manual"
			}
			fmt.Printf("%s\t%s\t%s\n", r.ID, r.Remote.Type, mode)
			for _, c := range r.Containers {
				fmt.Printf("  %s\t%s -> %s\n", c.ID, c.LocalPath, c.RemotePath)
			}
		}
		return nil
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove ACCOUNT",
	Short: "Remove an account (local folders and remote content are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("account-remove")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveAccount(args[0]); err != nil {
			return err
		}
		fmt.Printf("Account %s removed.\n", args[0])
		return nil
	},
}

var accountLoginCmd = &cobra.Command{
	Use:   "login ACCOUNT",
	Short: "Replace the credentials of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			var err error
			if username, err = promptLine("Username: "); err != nil {
				return err
			}
		}
		secret, err := readAccountSecret(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("account-login")
		if err != nil {
			return err
		}
		defer a.Close()

		creds := docsync.Credentials{Username: username, Secret: secret}
		if err := a.SetCredentials(context.Background(), args[0], creds); err != nil {
			return err
		}
		fmt.Printf("Credentials for %s updated.\n", args[0])
		return nil
	},
}

// parseContainer parses ID=LOCAL:REMOTE.
func parseContainer(s string) (config.ContainerRecord, error) {
	id, rest, ok := strings.Cut(s, "=")
	if !ok {
		return config.ContainerRecord{}, fmt.Errorf("container %q: expected ID=LOCAL:REMOTE", s)
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return config.ContainerRecord{}, fmt.Errorf("container %q: expected ID=LOCAL:REMOTE", s)
	}
	local, err := homedir.Expand(rest[:i])
	if err != nil {
		return config.ContainerRecord{}, err
	}
	if local, err = filepath.Abs(local); err != nil {
		return config.ContainerRecord{}, err
	}
	return config.ContainerRecord{ID: id, LocalPath: local, RemotePath: rest[i+1:]}, nil
}

// readAccountSecret takes DOCSYNC_SECRET or prompts for the password.
func readAccountSecret(account string) (string, error) {
	if s := os.Getenv("DOCSYNC_SECRET"); s != "" {
		return s, nil
	}
	return promptSecret(fmt.Sprintf("Password for %s: ", account))
}

func init() {
	accountAddCmd.Flags().String("remote", "webdav", "Remote type (webdav, s3)")
	accountAddCmd.Flags().String("url", "", "WebDAV base URL")
	accountAddCmd.Flags().String("s3-bucket", "", "S3 bucket")
	accountAddCmd.Flags().String("s3-prefix", "", "S3 key prefix")
	accountAddCmd.Flags().String("s3-region", "", "S3 region")
	accountAddCmd.Flags().String("s3-endpoint", "", "S3 endpoint for compatible services")
	accountAddCmd.Flags().Bool("s3-path-style", false, "Use path-style S3 addressing")
	accountAddCmd.Flags().Bool("encrypt", false, "Encrypt document content with the age key")
	accountAddCmd.Flags().String("mode", "manual", "Schedule mode (none, manual, automatic)")
	accountAddCmd.Flags().Duration("interval", 0, "Sync interval in automatic mode (default from config)")
	accountAddCmd.Flags().StringArray("container", nil, "Container as ID=LOCAL:REMOTE (repeatable)")
	accountAddCmd.Flags().String("username", "", "Remote username")
	accountLoginCmd.Flags().String("username", "", "Remote username")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountRemoveCmd)
	accountCmd.AddCommand(accountLoginCmd)
}
