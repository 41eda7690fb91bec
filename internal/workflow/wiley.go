package workflow

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/fetcher"
	"github.com/sells-group/dspace-submission-composer/internal/store"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
	"github.com/sells-group/dspace-submission-composer/internal/transform"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
)

const wileyMetadataFile = "metadata.jsonl"

// Wiley deposits open access articles listed by DOI. Create-batch fetches
// each article's Crossref record and PDF into the batch folder first.
type Wiley struct {
	env         Env
	metadataURL string
	contentURL  string
	concurrency int
}

// NewWiley creates the wiley workflow.
func NewWiley(env Env) *Wiley {
	n := env.Config.Wiley.Concurrency
	if n <= 0 {
		n = 5
	}
	return &Wiley{
		env:         env,
		metadataURL: env.Config.Wiley.MetadataAPIURL,
		contentURL:  env.Config.Wiley.ContentAPIURL,
		concurrency: n,
	}
}

func (w *Wiley) Name() string                        { return "wiley" }
func (w *Wiley) SubmissionSystem() string            { return w.env.Config.DSS.SubmissionSystem }
func (w *Wiley) Transformer() *transform.Transformer { return transform.Wiley() }

// DOIIdentifier turns a DOI into an item identifier safe for object keys.
func DOIIdentifier(doi string) string {
	return strings.ReplaceAll(strings.TrimSpace(doi), "/", "-")
}

// Identifier is the PDF name without its extension. DOIs may contain
// underscores, so the default rule does not apply.
func (w *Wiley) Identifier(key string) string {
	return strings.TrimSuffix(path.Base(key), ".pdf")
}

// BatchBitstreams lists the downloaded PDFs.
func (w *Wiley) BatchBitstreams(ctx context.Context, b *Batch) (<-chan string, <-chan error) {
	return w.env.S3.List(ctx, b.Bucket, s3.ListOptions{
		Prefix:          b.Path(),
		Suffix:          ".pdf",
		ExcludePrefixes: b.ExcludePrefixes(),
	})
}

// ItemMetadata reads the Crossref records saved by PrepareBatch.
func (w *Wiley) ItemMetadata(ctx context.Context, b *Batch) ([]transform.Record, error) {
	key := b.Path() + wileyMetadataFile
	data, err := w.env.S3.Get(ctx, b.Bucket, key)
	if err != nil {
		return nil, eris.Wrapf(err, "wiley: read %s", s3.URI(b.Bucket, key))
	}
	records, err := fetcher.ReadJSONLines[transform.Record](ctx, bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(err, "wiley: parse %s", key)
	}
	return records, nil
}

type crossrefResponse struct {
	Message transform.Record `json:"message"`
}

// PrepareBatch reads the DOI list, then fetches the Crossref record and PDF of
// every DOI not yet ingested. Per-DOI failures are logged; the item then
// fails create-batch with missing metadata or bitstreams.
func (w *Wiley) PrepareBatch(ctx context.Context, b *Batch, opts PrepareOptions) error {
	log := config.Logger("workflow.wiley").With(zap.String("batch_id", b.ID))

	if opts.IDsFile == "" {
		return ErrIdentifiersFileMissing
	}
	dois, err := w.readDOIs(ctx, b, opts.IDsFile)
	if err != nil {
		return err
	}
	log.Info("fetching metadata and content", zap.Int("dois", len(dois)))

	records := make([]transform.Record, len(dois))
	var downloadErrors atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, doi := range dois {
		g.Go(func() error {
			id := DOIIdentifier(doi)
			ilog := log.With(zap.String("item_identifier", id))

			ingested, err := w.ingested(gctx, b, id)
			if err != nil {
				return err
			}
			if ingested {
				ilog.Info("already ingested, skipping")
				return nil
			}

			records[i] = w.fetchMetadata(gctx, ilog, doi, id)

			if err := w.fetchContent(gctx, b, doi, id); err != nil {
				ilog.Error("content download failed", zap.Error(err))
				downloadErrors.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "wiley: prepare batch")
	}
	if n := downloadErrors.Load(); n > 0 {
		log.Warn("some bitstreams could not be downloaded",
			zap.Int32("failed", n),
			zap.Int("total", len(dois)),
		)
	}

	var out []transform.Record
	for _, rec := range records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	var buf bytes.Buffer
	if err := fetcher.EncodeJSONLines(&buf, out); err != nil {
		return eris.Wrap(err, "wiley: encode metadata")
	}
	key := b.Path() + wileyMetadataFile
	if err := w.env.S3.Put(ctx, b.Bucket, key, buf.Bytes(), "application/jsonl"); err != nil {
		return eris.Wrapf(err, "wiley: write %s", s3.URI(b.Bucket, key))
	}
	log.Info("wrote metadata file", zap.String("key", key), zap.Int("records", len(out)))
	return nil
}

// readDOIs reads a header-less, single-column CSV of DOIs from the workflow
// folder.
func (w *Wiley) readDOIs(ctx context.Context, b *Batch, name string) ([]string, error) {
	key := b.Workflow + "/" + name
	data, err := w.env.S3.Get(ctx, b.Bucket, key)
	if err != nil {
		return nil, eris.Wrapf(err, "wiley: read %s", s3.URI(b.Bucket, key))
	}

	rowCh, errCh := fetcher.StreamCSV(ctx, bytes.NewReader(data), fetcher.CSVOptions{TrimSpace: true})
	var dois []string
	for row := range rowCh {
		if len(row) > 0 && row[0] != "" {
			dois = append(dois, row[0])
		}
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "wiley: parse %s", key)
	}
	return dois, nil
}

func (w *Wiley) ingested(ctx context.Context, b *Batch, id string) (bool, error) {
	item, err := w.env.Store.Get(ctx, b.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "wiley: look up %s", id)
	}
	return item.Status == submission.StatusIngestSuccess, nil
}

// fetchMetadata returns the Crossref record for doi, or a record holding only
// the identifier when it cannot be fetched.
func (w *Wiley) fetchMetadata(ctx context.Context, log *zap.Logger, doi, id string) transform.Record {
	resp, err := fetcher.FetchJSON[crossrefResponse](ctx, w.env.Metadata, w.metadataURL+doi)
	if err != nil {
		log.Error("metadata request failed", zap.String("doi", doi), zap.Error(err))
		return transform.Record{"item_identifier": id}
	}
	rec := transform.Record{}
	for k, v := range resp.Message {
		rec[k] = v
	}
	rec["item_identifier"] = id
	return rec
}

func (w *Wiley) fetchContent(ctx context.Context, b *Batch, doi, id string) error {
	if w.contentURL == "" {
		return eris.New("wiley: wiley.content_api_url is not set")
	}
	pdf, err := w.env.Content.FetchContent(ctx, w.contentURL+doi, "application/pdf")
	if err != nil {
		return err
	}
	key := b.Path() + id + ".pdf"
	return w.env.S3.Put(ctx, b.Bucket, key, pdf, "application/pdf")
}
