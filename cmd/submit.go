package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dspace-submission-composer/internal/report"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send a batch of item submissions to the DSpace Submission Service",
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

		handle, _ := cmd.Flags().GetString("collection-handle")
		res, err := r.Submit(ctx, handle)
		if err != nil {
			return eris.Wrap(err, "submit")
		}

		rep, err := report.Submit(r.Batch(), res, time.Now())
		if err != nil {
			return err
		}
		recipients, _ := cmd.Flags().GetStringSlice("email-recipients")
		return a.sender().Send(ctx, rep, recipients)
	},
}

func init() {
	submitCmd.Flags().StringP("collection-handle", "c", "", "handle of the DSpace collection the batch is submitted to")
	submitCmd.Flags().StringSliceP("email-recipients", "e", nil, "recipients of the submission results email")
	_ = submitCmd.MarkFlagRequired("collection-handle")
	rootCmd.AddCommand(submitCmd)
}
