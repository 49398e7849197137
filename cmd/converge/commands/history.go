package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		historyPath string
		runID       string
		limit       int
		prune       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
		Long: `List persisted runs, show one run's full outcome matrix, or prune old
records. History is an audit trail only; the engine never consults it when
deciding whether state is satisfied.`,
		Example: `  # Recent runs
  converge history

  # One run in detail
  converge history --id 5f0c2b3a-...

  # Keep only the newest 50 runs
  converge history --prune 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			path := historyPath
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("failed to locate home directory: %w", err)
				}
				path = filepath.Join(home, ".converge", "history.db")
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no history database at %s", path)
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: path})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open history database: %w", err)
			}
			defer func() { _ = store.Close() }()

			if prune > 0 {
				deleted, err := store.PruneRuns(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d runs\n", deleted)
				return nil
			}

			if runID != "" {
				detail, err := store.GetRunDetail(ctx, runID)
				if err != nil {
					return err
				}
				return printRunDetail(detail)
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			return printRuns(runs)
		},
	}

	cmd.Flags().StringVar(&historyPath, "history-db", "", "run-history database path (default ~/.converge/history.db)")
	cmd.Flags().StringVar(&runID, "id", "", "show one run in detail")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().IntVar(&prune, "prune", 0, "delete all but the newest N runs")

	return cmd
}

func printRuns(runs []*stores.Run) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAYBOOK\tSTATUS\tSTARTED\tCHANGED\tFAILED")
	for _, run := range runs {
		status := run.Status
		if run.DryRun {
			status += " (dry-run)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID,
			run.Playbook,
			status,
			run.StartedAt.Format(time.RFC3339),
			run.Changed,
			run.Failed,
		)
	}
	return w.Flush()
}

func printRunDetail(detail *stores.RunDetail) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	}

	run := detail.Run
	fmt.Printf("Run %s  playbook=%s  status=%s  started=%s\n",
		run.ID, run.Playbook, run.Status, run.StartedAt.Format(time.RFC3339))
	fmt.Printf("unchanged=%d  changed=%d  failed=%d  skipped=%d\n\n",
		run.Unchanged, run.Changed, run.Failed, run.Skipped)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, play := range detail.Plays {
		fmt.Fprintf(w, "PLAY %s\t[%s]\t%s\n", play.Name, play.TargetGroup, play.Status)
		if play.Reason != "" {
			fmt.Fprintf(w, "  reason: %s\t\t\n", play.Reason)
		}
		for _, action := range detail.Actions[play.ID] {
			name := action.ActionID
			if action.Handler {
				name = "handler:" + name
			}
			line := fmt.Sprintf("  %s\t%s\t%s", action.HostID, name, action.Outcome)
			if action.Error != "" {
				line += "  " + action.Error
			}
			fmt.Fprintln(w, line)
		}
	}
	return w.Flush()
}
