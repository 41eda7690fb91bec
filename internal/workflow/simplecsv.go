package workflow

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/fetcher"
	"github.com/sells-group/dspace-submission-composer/internal/transform"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
)

// SimpleCSV is a batch of bitstreams described by a metadata.csv file in the
// batch folder.
type SimpleCSV struct {
	env               Env
	name              string
	submissionSystem  string
	identifierColumns []string
	transformer       *transform.Transformer
	// trimExtension strips a file extension from identifiers taken from a
	// filename column.
	trimExtension bool
}

// NewSimpleCSV creates the simple_csv workflow.
func NewSimpleCSV(env Env, t *transform.Transformer) *SimpleCSV {
	return &SimpleCSV{
		env:               env,
		name:              "simple_csv",
		submissionSystem:  env.Config.DSS.SubmissionSystem,
		identifierColumns: []string{"item_identifier"},
		transformer:       t,
	}
}

// NewSCCS creates the sccs workflow.
func NewSCCS(env Env) *SimpleCSV {
	return &SimpleCSV{
		env:               env,
		name:              "sccs",
		submissionSystem:  env.Config.DSS.SubmissionSystem,
		identifierColumns: []string{"item_identifier", "filename"},
		transformer:       transform.SCCS(),
		trimExtension:     true,
	}
}

func (w *SimpleCSV) Name() string                        { return w.name }
func (w *SimpleCSV) SubmissionSystem() string            { return w.submissionSystem }
func (w *SimpleCSV) Transformer() *transform.Transformer { return w.transformer }

// ItemMetadata reads <batch>/metadata.csv.
func (w *SimpleCSV) ItemMetadata(ctx context.Context, b *Batch) ([]transform.Record, error) {
	key := b.Path() + "metadata.csv"
	data, err := w.env.S3.Get(ctx, b.Bucket, key)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: read %s", w.name, s3.URI(b.Bucket, key))
	}

	records, err := fetcher.ReadRecords(ctx, bytes.NewReader(data), fetcher.RecordOptions{
		IdentifierColumns: w.identifierColumns,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "%s: parse %s", w.name, key)
	}

	out := records[:0]
	for _, rec := range records {
		id := rec.ItemIdentifier()
		if id == "" {
			continue
		}
		if w.trimExtension {
			id = strings.TrimSuffix(id, path.Ext(id))
		}
		rec["item_identifier"] = id
		out = append(out, rec)
	}
	return out, nil
}

// BatchBitstreams lists every file in the batch folder except the metadata CSV.
func (w *SimpleCSV) BatchBitstreams(ctx context.Context, b *Batch) (<-chan string, <-chan error) {
	return w.env.S3.List(ctx, b.Bucket, s3.ListOptions{
		Prefix:          b.Path(),
		ExcludePrefixes: b.ExcludePrefixes(),
	})
}

// PrepareBatch is a no-op: bitstreams and metadata are uploaded by hand.
func (w *SimpleCSV) PrepareBatch(context.Context, *Batch, PrepareOptions) error {
	return nil
}
