package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/converge-sh/converge/pkg/engine"
)

// printReport renders a run report to stdout, as JSON when --json is set.
func printReport(report *engine.RunReport) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Run %s", report.ID)
	if report.DryRun {
		fmt.Print(" (dry-run)")
	}
	fmt.Printf("  playbook=%s  duration=%s\n\n", report.Playbook, report.Duration.Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, play := range report.Plays {
		fmt.Fprintf(w, "PLAY %s\t[%s]\t%s\n", play.Name, play.TargetGroup, play.Status)
		if play.Reason != "" {
			fmt.Fprintf(w, "  reason: %s\t\t\n", play.Reason)
		}
		for _, host := range play.Hosts {
			for _, action := range host.Actions {
				printActionLine(w, host.HostID, &action)
			}
			for _, handler := range host.Handlers {
				printActionLine(w, host.HostID, &handler)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s := report.Summarize()
	fmt.Printf("\nunchanged=%d  changed=%d  failed=%d  skipped=%d\n",
		s.Unchanged, s.Changed, s.Failed, s.Skipped)
	return nil
}

func printActionLine(w *tabwriter.Writer, hostID string, r *engine.ActionResult) {
	name := r.ID
	if r.Handler {
		name = "handler:" + r.ID
	}
	line := fmt.Sprintf("  %s\t%s\t%s", hostID, name, r.Outcome)
	if r.Error != "" {
		line += "  " + r.Error
	}
	fmt.Fprintln(w, line)
}
