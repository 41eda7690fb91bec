package workflow

import (
	"context"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
	"github.com/sells-group/dspace-submission-composer/internal/transform"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
)

// handleNotSet marks an ingested item that came back without a handle.
const handleNotSet = "DSpace handle not set, possible error"

// ArchivesSpace deposits digitized archival objects to Dome and reports the
// new handles back against their ArchivesSpace URIs.
type ArchivesSpace struct {
	*SimpleCSV
	outputBucket string
}

// NewArchivesSpace creates the archivesspace workflow.
func NewArchivesSpace(env Env) *ArchivesSpace {
	return &ArchivesSpace{
		SimpleCSV: &SimpleCSV{
			env:               env,
			name:              "archivesspace",
			submissionSystem:  "Dome",
			identifierColumns: []string{"item_identifier"},
			transformer:       transform.ArchivesSpace(),
		},
		outputBucket: env.Config.S3.ArchivesSpaceOutputBucket,
	}
}

// SourceSystemIdentifier returns the archival object URI.
func (w *ArchivesSpace) SourceSystemIdentifier(rec transform.Record) string {
	return rec.String("ao_uri")
}

type handleRow struct {
	AOURI        string `csv:"ao_uri"`
	DSpaceHandle string `csv:"dspace_handle"`
}

// PostProcess writes an ao_uri,dspace_handle CSV for the items ingested in
// this run to the output bucket.
func (w *ArchivesSpace) PostProcess(ctx context.Context, b *Batch, items []*submission.Item) error {
	log := config.Logger("workflow.archivesspace").With(zap.String("batch_id", b.ID))
	runDate := b.RunDate.Format("2006-01-02-15:04:05")

	var rows []handleRow
	for _, it := range items {
		if it.Status != submission.StatusIngestSuccess || it.LastRunDate == nil || !it.LastRunDate.Equal(b.RunDate) {
			continue
		}
		handle := it.DSpaceHandle
		if handle == "" {
			handle = handleNotSet
		}
		rows = append(rows, handleRow{AOURI: it.SourceSystemIdentifier, DSpaceHandle: handle})
	}
	if len(rows) == 0 {
		log.Info("no items ingested on this run", zap.String("run_date", runDate))
		return nil
	}
	if w.outputBucket == "" {
		return eris.New("archivesspace: s3.archivesspace_output_bucket is not set")
	}

	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrap(err, "archivesspace: encode handle report")
	}
	key := b.ID + "-" + runDate + ".csv"
	if err := w.env.S3.Put(ctx, w.outputBucket, key, data, "text/csv"); err != nil {
		return eris.Wrapf(err, "archivesspace: write %s", s3.URI(w.outputBucket, key))
	}
	log.Info("wrote handle report", zap.String("uri", s3.URI(w.outputBucket, key)), zap.Int("items", len(rows)))
	return nil
}
