package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/monitoring"
	"github.com/sells-group/dspace-submission-composer/internal/report"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Process the result messages from the DSS output queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		r, err := a.runner()
		if err != nil {
			return err
		}

		res, err := r.Finalize(ctx)
		if err != nil {
			return eris.Wrap(err, "finalize")
		}

		rep, err := report.Finalize(r.Batch(), res, time.Now())
		if err != nil {
			return err
		}
		recipients, _ := cmd.Flags().GetStringSlice("email-recipients")
		if err := a.sender().Send(ctx, rep, recipients); err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(a.cfg.Alerts)
		if alerter.Enabled() {
			snap := monitoring.Summarize(r.Workflow().Name(), r.Batch().ID, res.Items)
			if sent := alerter.SendAlerts(ctx, alerter.Evaluate(snap)); sent > 0 {
				zap.L().Info("batch alerts sent", zap.Int("alerts", sent))
			}
		}
		return nil
	},
}

func init() {
	finalizeCmd.Flags().StringSliceP("email-recipients", "e", nil, "recipients of the submission results email")
	_ = finalizeCmd.MarkFlagRequired("email-recipients")
	rootCmd.AddCommand(finalizeCmd)
}
