package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/bitstream"
	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/dss"
	"github.com/sells-group/dspace-submission-composer/internal/store"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
	"github.com/sells-group/dspace-submission-composer/internal/transform"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
	"github.com/sells-group/dspace-submission-composer/pkg/sqs"
)

// RunnerOptions configures the queue side of a Runner.
type RunnerOptions struct {
	InputQueue     string
	OutputQueue    string
	RetryThreshold int
}

// Runner executes the stages of a workflow against one batch.
type Runner struct {
	wf    Workflow
	batch *Batch
	s3    s3.Client
	queue sqs.Client
	store store.Store
	opts  RunnerOptions
	log   *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(wf Workflow, b *Batch, s3c s3.Client, queue sqs.Client, st store.Store, opts RunnerOptions) *Runner {
	if opts.RetryThreshold <= 0 {
		opts.RetryThreshold = submission.DefaultRetryThreshold
	}
	return &Runner{
		wf:    wf,
		batch: b,
		s3:    s3c,
		queue: queue,
		store: st,
		opts:  opts,
		log: config.Logger("workflow").With(
			zap.String("workflow", wf.Name()),
			zap.String("batch_id", b.ID),
		),
	}
}

// Batch returns the batch the runner works on.
func (r *Runner) Batch() *Batch { return r.batch }

// Workflow returns the workflow the runner executes.
func (r *Runner) Workflow() Workflow { return r.wf }

// index lists the batch bitstreams into an index keyed by the workflow's
// identifier rule.
func (r *Runner) index(ctx context.Context) (*bitstream.Index, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	idx := bitstream.NewIndex()
	if id, ok := r.wf.(Identifier); ok {
		idx = bitstream.NewIndexFunc(id.Identifier)
	}
	keys, errc := r.wf.BatchBitstreams(ctx, r.batch)
	if err := idx.Drain(ctx, keys, errc); err != nil {
		return nil, eris.Wrapf(err, "workflow: list bitstreams of %s", r.batch)
	}
	return idx, nil
}

// ReconcileResult is the outcome of Reconcile.
type ReconcileResult struct {
	Match  *bitstream.Result
	Errors []ItemError
}

// Failed reports whether any bitstream has no matching metadata.
func (r *ReconcileResult) Failed() bool {
	return len(r.Match.BitstreamsWithoutMetadata) > 0
}

// Reconcile matches item metadata against bitstreams and records the outcome
// on items that have not moved past the reconcile stage.
func (r *Runner) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	records, err := r.wf.ItemMetadata(ctx, r.batch)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: reconcile")
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ItemIdentifier())
	}

	idx, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{Match: idx.Match(ids)}

	for _, id := range ids {
		_, matched := res.Match.Reconciled[id]
		if err := r.reconcileItem(ctx, id, matched); err != nil {
			r.log.Error("cannot record reconcile status", zap.String("item_identifier", id), zap.Error(err))
			res.Errors = append(res.Errors, ItemError{ItemIdentifier: id, Error: err.Error()})
		}
	}

	r.log.Info("reconcile complete",
		zap.Int("items", len(ids)),
		zap.Int("reconciled", len(res.Match.Reconciled)),
		zap.Int("bitstreams_without_metadata", len(res.Match.BitstreamsWithoutMetadata)),
		zap.Int("metadata_without_bitstreams", len(res.Match.MetadataWithoutBitstreams)),
		zap.Bool("failed", res.Failed()),
	)
	return res, nil
}

func (r *Runner) reconcileItem(ctx context.Context, id string, matched bool) error {
	item, _, err := store.GetOrCreate(ctx, r.store, r.batch.ID, id, r.wf.Name())
	if err != nil {
		return err
	}
	if !item.MarkReconciled(matched, r.batch.RunDate) {
		return nil
	}
	return r.store.Upsert(ctx, item)
}

// CreateBatchResult is the outcome of a successful CreateBatch.
type CreateBatchResult struct {
	// Items holds every record of the batch after persisting.
	Items  []*submission.Item
	Errors []ItemError
}

// CreateBatch prepares the batch, uploads one DSpace metadata document per
// item and records the items. Any per-item preparation or upload error fails
// the whole batch with *BatchCreationFailedError before records are written.
func (r *Runner) CreateBatch(ctx context.Context, opts PrepareOptions) (*CreateBatchResult, error) {
	if err := r.wf.PrepareBatch(ctx, r.batch, opts); err != nil {
		return nil, eris.Wrap(err, "workflow: prepare batch")
	}

	records, err := r.wf.ItemMetadata(ctx, r.batch)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: create batch")
	}
	idx, err := r.index(ctx)
	if err != nil {
		return nil, err
	}

	type prepared struct {
		id  string
		rec transform.Record
		doc *transform.Document
	}
	var (
		items []prepared
		errs  []ItemError
	)
	t := r.wf.Transformer()
	for _, rec := range records {
		id := rec.ItemIdentifier()
		doc, err := r.prepareItem(t, idx, rec)
		if err != nil {
			errs = append(errs, ItemError{ItemIdentifier: id, Error: err.Error()})
			continue
		}
		items = append(items, prepared{id: id, rec: rec, doc: doc})
	}
	if len(errs) > 0 {
		r.log.Error("batch preparation failed", zap.Int("errors", len(errs)), zap.Int("items", len(records)))
		return nil, &BatchCreationFailedError{Errors: errs}
	}

	for _, p := range items {
		data, err := json.Marshal(p.doc)
		if err == nil {
			err = r.s3.Put(ctx, r.batch.Bucket, r.batch.MetadataKey(p.id), data, "application/json")
		}
		if err != nil {
			errs = append(errs, ItemError{ItemIdentifier: p.id, Error: err.Error()})
		}
	}
	if len(errs) > 0 {
		r.log.Error("metadata upload failed", zap.Int("errors", len(errs)), zap.Int("items", len(items)))
		return nil, &BatchCreationFailedError{Errors: errs}
	}

	res := &CreateBatchResult{}
	src, hasSource := r.wf.(SourceIdentifier)
	for _, p := range items {
		item, _, err := store.GetOrCreate(ctx, r.store, r.batch.ID, p.id, r.wf.Name())
		if err == nil {
			item.MarkReconciled(true, r.batch.RunDate)
			if hasSource {
				item.SourceSystemIdentifier = src.SourceSystemIdentifier(p.rec)
			}
			err = r.store.Upsert(ctx, item)
		}
		if err != nil {
			r.log.Error("cannot record item", zap.String("item_identifier", p.id), zap.Error(err))
			res.Errors = append(res.Errors, ItemError{ItemIdentifier: p.id, Error: err.Error()})
		}
	}

	res.Items, err = r.store.QueryBatch(ctx, r.batch.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: query batch %s", r.batch.ID)
	}
	r.log.Info("batch created", zap.Int("items", len(items)), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (r *Runner) prepareItem(t *transform.Transformer, idx *bitstream.Index, rec transform.Record) (*transform.Document, error) {
	if !hasMetadata(rec) {
		return nil, ErrItemMetadataNotFound
	}
	if len(idx.Keys(rec.ItemIdentifier())) == 0 {
		return nil, ErrItemBitstreamsNotFound
	}
	md, err := t.Transform(rec)
	if err != nil {
		return nil, err
	}
	doc := md.Document()
	if err := transform.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SubmitSummary counts the outcome of Submit.
type SubmitSummary struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// SubmittedItem is one successfully enqueued item.
type SubmittedItem struct {
	ItemIdentifier string `csv:"item_identifier"`
	MessageID      string `csv:"message_id"`
}

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	Items   []SubmittedItem
	Errors  []ItemError
	Summary SubmitSummary
}

// Submit sends a submission message for every item ready to submit. A failure
// is recorded on the item and does not stop the others.
func (r *Runner) Submit(ctx context.Context, collectionHandle string) (*SubmitResult, error) {
	items, err := r.store.QueryBatch(ctx, r.batch.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: query batch %s", r.batch.ID)
	}
	idx, err := r.index(ctx)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{Summary: SubmitSummary{Total: len(items)}}
	for _, item := range items {
		if !item.ReadyToSubmit() {
			r.log.Debug("skipping item", zap.String("item_identifier", item.ItemIdentifier), zap.String("status", string(item.Status)))
			res.Summary.Skipped++
			continue
		}

		id, err := r.submitItem(ctx, item, idx, collectionHandle)
		if err != nil {
			r.log.Error("submit failed", zap.String("item_identifier", item.ItemIdentifier), zap.Error(err))
			item.MarkSubmitFailed(err, r.batch.RunDate)
			res.Summary.Errors++
			res.Errors = append(res.Errors, ItemError{ItemIdentifier: item.ItemIdentifier, Error: err.Error()})
		} else {
			res.Summary.Submitted++
			res.Items = append(res.Items, SubmittedItem{ItemIdentifier: item.ItemIdentifier, MessageID: id})
		}
		if err := r.store.Upsert(ctx, item); err != nil {
			r.log.Error("cannot record submit status", zap.String("item_identifier", item.ItemIdentifier), zap.Error(err))
		}
	}

	r.log.Info("submit complete",
		zap.Int("total", res.Summary.Total),
		zap.Int("submitted", res.Summary.Submitted),
		zap.Int("skipped", res.Summary.Skipped),
		zap.Int("errors", res.Summary.Errors),
	)
	return res, nil
}

func (r *Runner) submitItem(ctx context.Context, item *submission.Item, idx *bitstream.Index, collectionHandle string) (string, error) {
	keys := idx.Keys(item.ItemIdentifier)
	if len(keys) == 0 {
		return "", ErrItemBitstreamsNotFound
	}
	uris := make([]string, 0, len(keys))
	for _, k := range keys {
		uris = append(uris, s3.URI(r.batch.Bucket, k))
	}

	msg, err := dss.NewSubmissionMessage(dss.SubmissionParams{
		PackageID:        item.ItemIdentifier,
		SubmissionSource: r.wf.Name(),
		OutputQueue:      r.opts.OutputQueue,
		SubmissionSystem: r.wf.SubmissionSystem(),
		CollectionHandle: collectionHandle,
		MetadataLocation: s3.URI(r.batch.Bucket, r.batch.MetadataKey(item.ItemIdentifier)),
		BitstreamURIs:    uris,
	})
	if err != nil {
		return "", err
	}

	id, err := r.queue.Send(ctx, r.opts.InputQueue, msg.Attributes, msg.Body)
	if err != nil {
		return "", err
	}
	item.MarkSubmitted(msg.JSON(), r.batch.RunDate)
	return id, nil
}

// FinalizeSummary counts the outcome of Finalize.
type FinalizeSummary struct {
	ReceivedMessages int `json:"received_messages"`
	IngestSuccess    int `json:"ingest_success"`
	IngestFailed     int `json:"ingest_failed"`
	IngestUnknown    int `json:"ingest_unknown"`
}

// FinalizeResult is the outcome of Finalize.
type FinalizeResult struct {
	// Items holds every record of the batch after results were applied.
	Items   []*submission.Item
	Summary FinalizeSummary
}

// Finalize drains the output queue and applies the result messages that
// belong to this batch. Only matched messages are deleted; messages for
// other batches or already-ingested items stay on the queue. When several
// messages name one item the last one received is applied and all of them
// are deleted. ReceivedMessages counts distinct parsed identifiers.
func (r *Runner) Finalize(ctx context.Context) (*FinalizeResult, error) {
	msgs, err := r.queue.Receive(ctx, r.opts.OutputQueue)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: receive from %s", r.opts.OutputQueue)
	}

	res := &FinalizeResult{}
	latest := make(map[string]*dss.ResultMessage)
	// superseded holds earlier messages for an identifier. They are deleted
	// along with the message that replaced them.
	superseded := make(map[string][]*dss.ResultMessage)
	for _, m := range msgs {
		rm, err := dss.ParseResult(m)
		if err != nil {
			var pe *dss.ParseError
			if errors.As(err, &pe) {
				r.log.Warn("skipping invalid result message", zap.String("message_id", m.ID), zap.Error(err))
				continue
			}
			return nil, err
		}
		if prev, ok := latest[rm.ItemIdentifier]; ok {
			superseded[rm.ItemIdentifier] = append(superseded[rm.ItemIdentifier], prev)
		}
		latest[rm.ItemIdentifier] = rm
	}
	res.Summary.ReceivedMessages = len(latest)

	items, err := r.store.QueryBatch(ctx, r.batch.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: query batch %s", r.batch.ID)
	}

	for _, item := range items {
		ilog := r.log.With(zap.String("item_identifier", item.ItemIdentifier))
		if item.Status == submission.StatusIngestSuccess {
			ilog.Debug("already ingested")
			continue
		}
		rm, ok := latest[item.ItemIdentifier]
		if !ok {
			continue
		}

		item.ApplyResult(rm.Result(), r.opts.RetryThreshold, r.batch.RunDate)
		switch item.Status {
		case submission.StatusIngestSuccess:
			res.Summary.IngestSuccess++
		case submission.StatusIngestFailed:
			res.Summary.IngestFailed++
		case submission.StatusIngestUnknown:
			res.Summary.IngestUnknown++
		case submission.StatusMaxRetriesReached:
			ilog.Warn("retry threshold reached", zap.Int("ingest_attempts", item.IngestAttempts))
		}

		if err := r.store.Upsert(ctx, item); err != nil {
			ilog.Error("cannot record result", zap.Error(err))
			continue
		}
		for _, m := range append(superseded[item.ItemIdentifier], rm) {
			if err := r.queue.Delete(ctx, r.opts.OutputQueue, m.ReceiptHandle); err != nil {
				ilog.Error("cannot delete result message", zap.String("message_id", m.MessageID), zap.Error(err))
			}
		}
	}
	res.Items = items

	if pp, ok := r.wf.(PostProcessor); ok {
		if err := pp.PostProcess(ctx, r.batch, items); err != nil {
			r.log.Error("post-processing failed", zap.Error(err))
		}
	}

	r.log.Info("finalize complete",
		zap.Int("received_messages", res.Summary.ReceivedMessages),
		zap.Int("ingest_success", res.Summary.IngestSuccess),
		zap.Int("ingest_failed", res.Summary.IngestFailed),
		zap.Int("ingest_unknown", res.Summary.IngestUnknown),
	)
	return res, nil
}
