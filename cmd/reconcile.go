package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dspace-submission-composer/internal/report"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile bitstreams with item identifiers from the metadata",
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

		res, err := r.Reconcile(ctx)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}

		recipients, _ := cmd.Flags().GetStringSlice("email-recipients")
		rep, err := report.Reconcile(r.Batch(), res, time.Now())
		if err != nil {
			return err
		}
		if err := a.sender().Send(ctx, rep, recipients); err != nil {
			return err
		}

		if res.Failed() {
			return eris.Errorf("failed to reconcile bitstreams and metadata: %d bitstream(s) without metadata",
				len(res.Match.BitstreamsWithoutMetadata))
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringSliceP("email-recipients", "e", nil, "recipients of the reconcile results email")
	rootCmd.AddCommand(reconcileCmd)
}
