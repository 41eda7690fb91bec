package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/s3sync"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync batch files between two S3 locations",
	Long: "Copies new or changed objects from the source to the destination and deletes " +
		"destination objects missing from the source. Generated dspace_metadata/ files " +
		"are left alone. Without --source and --destination the batch path in the " +
		"sync source bucket is synced to the batch path in the submission assets bucket.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		source, _ := cmd.Flags().GetString("source")
		destination, _ := cmd.Flags().GetString("destination")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runSync(ctx, a, source, destination, dryRun)
	},
}

// runSync syncs source to destination, deriving both from the batch path when
// either is empty.
func runSync(ctx context.Context, a *app, source, destination string, dryRun bool) error {
	if source == "" || destination == "" {
		if a.cfg.S3.SyncSourceBucket == "" {
			return eris.New("sync: provide --source and --destination or set s3.sync_source_bucket")
		}
		r, err := a.runner()
		if err != nil {
			return err
		}
		path := r.Batch().Path()
		source = s3.URI(a.cfg.S3.SyncSourceBucket, path)
		destination = s3.URI(a.cfg.S3.SubmissionAssetsBucket, path)
	}

	zap.L().Info("syncing data", zap.String("source", source), zap.String("destination", destination))
	_, err := s3sync.Sync(ctx, a.s3, source, destination, s3sync.Options{
		DryRun:  dryRun,
		Exclude: []string{s3sync.MetadataPrefix},
	})
	if err != nil {
		return eris.Wrap(err, "sync")
	}
	return nil
}

func init() {
	syncCmd.Flags().StringP("source", "s", "", "source as an s3://bucket/prefix URI")
	syncCmd.Flags().StringP("destination", "d", "", "destination as an s3://bucket/prefix URI")
	syncCmd.Flags().Bool("dry-run", false, "log the operations a sync would perform without running them")
	rootCmd.AddCommand(syncCmd)
}
