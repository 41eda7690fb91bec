package workflow

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/fetcher"
	"github.com/sells-group/dspace-submission-composer/internal/transform"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
)

// ocwMetadataFile is the course metadata document inside each package.
const ocwMetadataFile = "data.json"

// OpenCourseWare deposits course packages. Each <identifier>.zip in the batch
// folder is one item and carries its own data.json.
type OpenCourseWare struct {
	env Env
}

// NewOpenCourseWare creates the opencourseware workflow.
func NewOpenCourseWare(env Env) *OpenCourseWare {
	return &OpenCourseWare{env: env}
}

func (w *OpenCourseWare) Name() string                        { return "opencourseware" }
func (w *OpenCourseWare) SubmissionSystem() string            { return w.env.Config.DSS.SubmissionSystem }
func (w *OpenCourseWare) Transformer() *transform.Transformer { return transform.OpenCourseWare() }

// Identifier is the zip file name without its extension. Course identifiers
// contain underscores, so the default rule does not apply.
func (w *OpenCourseWare) Identifier(key string) string {
	return strings.TrimSuffix(path.Base(key), ".zip")
}

// BatchBitstreams lists the zip packages of the batch.
func (w *OpenCourseWare) BatchBitstreams(ctx context.Context, b *Batch) (<-chan string, <-chan error) {
	return w.env.S3.List(ctx, b.Bucket, s3.ListOptions{
		Prefix:          b.Path(),
		Suffix:          ".zip",
		ExcludePrefixes: b.ExcludePrefixes(),
	})
}

// ItemMetadata reads data.json from every package. A package without a
// readable data.json yields a record with only its identifier.
func (w *OpenCourseWare) ItemMetadata(ctx context.Context, b *Batch) ([]transform.Record, error) {
	log := config.Logger("workflow.opencourseware").With(zap.String("batch_id", b.ID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// sizes come from the listing so each package is read by range
	var objs []s3.Object
	objCh, errCh := w.env.S3.ListObjects(ctx, b.Bucket, s3.ListOptions{
		Prefix:          b.Path(),
		Suffix:          ".zip",
		ExcludePrefixes: b.ExcludePrefixes(),
	})
	for obj := range objCh {
		objs = append(objs, obj)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "opencourseware: list packages")
	}

	records := make([]transform.Record, 0, len(objs))
	for _, obj := range objs {
		id := w.Identifier(obj.Key)
		ra := s3.NewReaderAt(ctx, w.env.S3, b.Bucket, obj.Key, obj.Size)
		rec, err := fetcher.ReadZIPRecordAt(ra, ra.Size(), ocwMetadataFile)
		if rerr := ra.Err(); rerr != nil {
			return nil, eris.Wrapf(rerr, "opencourseware: read %s", s3.URI(b.Bucket, obj.Key))
		}
		switch {
		case errors.Is(err, fetcher.ErrZIPEntryNotFound):
			log.Warn("package has no metadata file", zap.String("item_identifier", id))
			rec = transform.Record{}
		case err != nil:
			log.Error("cannot read package metadata", zap.String("item_identifier", id), zap.Error(err))
			rec = transform.Record{}
		}
		rec["item_identifier"] = id
		records = append(records, rec)
	}
	return records, nil
}

// PrepareBatch is a no-op: packages are uploaded or synced into place.
func (w *OpenCourseWare) PrepareBatch(context.Context, *Batch, PrepareOptions) error {
	return nil
}
