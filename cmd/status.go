package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dspace-submission-composer/internal/monitoring"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the item submission records of a batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(a.store).Collect(ctx, workflowName, batchID)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		if snap.Total == 0 {
			fmt.Fprintln(os.Stderr, "No item submissions found.")
			return nil
		}
		formatStatus(os.Stdout, snap)
		return nil
	},
}

func formatStatus(w io.Writer, snap *monitoring.BatchSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSTATUS\tSUBMITS\tINGESTS\tHANDLE\tLAST RUN\tDETAILS")
	for _, it := range snap.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			it.ItemIdentifier,
			statusLabel(it.Status),
			it.SubmitAttempts,
			it.IngestAttempts,
			it.DSpaceHandle,
			formatRunDate(it.LastRunDate),
			truncate(it.StatusDetails, 60),
		)
	}
	tw.Flush() //nolint:errcheck

	fmt.Fprintf(w, "\n%d item(s) in batch %s\n", snap.Total, snap.BatchID)
	statuses := make([]string, 0, len(snap.ByStatus))
	for s := range snap.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %-20s %d\n", statusLabel(submission.Status(s)), snap.ByStatus[submission.Status(s)])
	}
}

func statusLabel(s submission.Status) string {
	if s == "" {
		return "-"
	}
	return string(s)
}

func formatRunDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the batch snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}
