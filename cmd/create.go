package main

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/report"
	"github.com/sells-group/dspace-submission-composer/internal/workflow"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a batch of item submissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		syncData, _ := cmd.Flags().GetBool("sync-data")
		if syncData {
			source, _ := cmd.Flags().GetString("sync-source")
			destination, _ := cmd.Flags().GetString("sync-destination")
			dryRun, _ := cmd.Flags().GetBool("sync-dry-run")
			if err := runSync(ctx, a, source, destination, dryRun); err != nil {
				return eris.Wrap(err, "failed to sync data, cannot proceed with batch creation")
			}
		}

		r, err := a.runner()
		if err != nil {
			return err
		}

		idsFile, _ := cmd.Flags().GetString("ids-file")
		res, runErr := r.CreateBatch(ctx, workflow.PrepareOptions{Synced: syncData, IDsFile: idsFile})

		var failed *workflow.BatchCreationFailedError
		if runErr != nil && !errors.As(runErr, &failed) {
			return eris.Wrap(runErr, "create batch")
		}

		rep, err := createReport(r.Batch(), res, failed)
		if err != nil {
			return err
		}
		recipients, _ := cmd.Flags().GetStringSlice("email-recipients")
		if err := a.sender().Send(ctx, rep, recipients); err != nil {
			return err
		}

		if failed != nil {
			return runErr
		}
		for _, ie := range res.Errors {
			zap.L().Warn("item submission not recorded",
				zap.String("item_identifier", ie.ItemIdentifier),
				zap.String("error", ie.Error),
			)
		}
		return nil
	},
}

func createReport(b *workflow.Batch, res *workflow.CreateBatchResult, failed *workflow.BatchCreationFailedError) (*report.Report, error) {
	if res == nil {
		return report.CreateBatch(b, nil, failed, time.Now())
	}
	return report.CreateBatch(b, res.Items, failed, time.Now())
}

func init() {
	createCmd.Flags().Bool("sync-data", false, "sync the batch files before creating the batch")
	createCmd.Flags().Bool("sync-dry-run", false, "log the operations the sync would perform without running them")
	createCmd.Flags().StringP("sync-source", "s", "", "sync source as an s3://bucket/prefix URI")
	createCmd.Flags().StringP("sync-destination", "d", "", "sync destination as an s3://bucket/prefix URI")
	createCmd.Flags().StringSliceP("email-recipients", "e", nil, "recipients of the batch creation results email")
	createCmd.Flags().String("ids-file", "", "file of source identifiers (DOIs) under the workflow folder")
	rootCmd.AddCommand(createCmd)
}
