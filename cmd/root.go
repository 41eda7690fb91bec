package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/monitoring"
)

var (
	cfg       *config.Config
	runID     string
	startedAt time.Time

	workflowName string
	batchID      string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "dsc",
	Short: "DSpace Submission Composer",
	Long: "Prepares batches of DSpace item submissions in S3, sends them to the DSpace " +
		"Submission Service and records the ingest results.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startedAt = time.Now()

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return eris.Wrap(err, "load .env")
		}

		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if verbose {
			c.Log.Level = "debug"
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		runID = uuid.NewString()
		zap.ReplaceGlobals(zap.L().With(
			zap.String("run_id", runID),
			zap.String("workflow", workflowName),
			zap.String("batch_id", batchID),
		))
		zap.L().Info("running process", zap.String("command", cmd.Name()))

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		zap.L().Info("application exiting",
			zap.String("command", cmd.Name()),
			zap.Duration("elapsed", time.Since(startedAt)),
		)
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workflowName, "workflow-name", "w", "", "the workflow to use for the batch of DSpace submissions")
	rootCmd.PersistentFlags().StringVarP(&batchID, "batch-id", "b", "", "unique identifier for the workflow run, also the S3 prefix of its files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level instead of info")
	_ = rootCmd.MarkPersistentFlagRequired("workflow-name")
	_ = rootCmd.MarkPersistentFlagRequired("batch-id")
}

// alertFailure posts a command failure alert when a webhook is configured.
func alertFailure(cmd *cobra.Command, err error) {
	if cfg == nil {
		return
	}
	alerter := monitoring.NewAlerter(cfg.Alerts)
	if !alerter.Enabled() {
		return
	}
	alert := monitoring.CommandFailure(cmd.Name(), workflowName, batchID, err)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	alerter.SendAlerts(ctx, []monitoring.Alert{alert})
}

func main() {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		zap.L().Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		alertFailure(cmd, err)
		_ = zap.L().Sync()
		os.Exit(1)
	}
}
