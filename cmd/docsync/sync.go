package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"docsync-go/internal/app"
	"docsync-go/internal/docsync"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [ACCOUNT...]",
	Short: "Run one sync cycle on the given accounts, or on all accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("sync")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Sync(ctx, args...); err != nil {
			return err
		}
		statuses, err := a.Status(ctx, args...)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			printSummary(st)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep all accounts in sync until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("run")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [ACCOUNT...]",
	Short: "Show the state of every document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("status")
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.Status(context.Background(), args...)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		for _, st := range statuses {
			printStatus(st, all)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve ACCOUNT CONTAINER PATH|DOCUMENT local|remote|both",
	Short: "Resolve a conflicted document by its path or document ID",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		choice, err := docsync.ParseResolution(args[3])
		if err != nil {
			return err
		}

		a, err := newApp("resolve")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Resolve(context.Background(), args[0], args[1], args[2], choice); err != nil {
			return err
		}
		fmt.Printf("Resolved %s with %s.\n", args[2], choice)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry ACCOUNT",
	Short: "Retry failed transfers now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("retry")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.RetryFailed(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Retried %d item(s).\n", n)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history ACCOUNT",
	Short: "Show recent operations on an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(context.Background(), args[0], limit)
		if errors.Is(err, app.ErrHistoryUnsupported) {
			return fmt.Errorf("%w; set [snapshot_store] type = \"sqlite\"", err)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tOPERATION\tSTATUS\tPARAMETERS")
		for _, op := range ops {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", op.StartedAt.Local().Format(time.DateTime), op.Operation, op.Status, op.Parameters)
		}
		return w.Flush()
	},
}

func printSummary(st docsync.AccountStatus) {
	counts := st.Counts()
	fmt.Printf("%s: %d synced, %d pending, %d conflicted\n", st.ID,
		counts[docsync.StateSynced],
		counts[docsync.StateUploadPending]+counts[docsync.StateDownloadPending]+counts[docsync.StateUnsynced],
		counts[docsync.StateConflicted])
	for _, it := range st.Conflicts() {
		fmt.Printf("  conflict: %s/%s (%s)\n", it.Container, it.Path, it.Document)
	}
}

func printStatus(st docsync.AccountStatus, all bool) {
	header := fmt.Sprintf("%s (%s, %s", st.ID, st.Mode, st.Activity)
	if st.Paused {
		header += ", paused"
	}
	if !st.LastSync.IsZero() {
		header += ", last sync " + st.LastSync.Local().Format(time.DateTime)
	}
	fmt.Println(header + ")")
	if st.Err != nil {
		fmt.Printf("  error: %v\n", st.Err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, c := range st.Containers {
		fmt.Fprintf(w, "  [%s]\t%s -> %s\n", c.ID, c.LocalPath, c.RemotePath)
		if c.Err != nil {
			fmt.Fprintf(w, "  \terror: %v\n", c.Err)
		}
		for _, it := range c.Items {
			if !all && it.State == docsync.StateSynced && it.Err == nil {
				continue
			}
			line := fmt.Sprintf("    %s\t%s\t%s", it.State, it.Path, it.Document)
			if it.Stalled {
				line += "\tstalled"
			} else if !it.RetryAt.IsZero() {
				line += "\tretry at " + it.RetryAt.Local().Format(time.TimeOnly)
			}
			if it.Err != nil {
				line += fmt.Sprintf("\t%v", it.Err)
			}
			fmt.Fprintln(w, line)
		}
	}
	w.Flush()
}

func init() {
	statusCmd.Flags().BoolP("all", "a", false, "Also list synced documents")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of operations to show")
}
