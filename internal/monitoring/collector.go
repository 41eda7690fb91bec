// Package monitoring summarizes batch health and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/store"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

// BatchSnapshot holds a point-in-time view of one batch.
type BatchSnapshot struct {
	Workflow string `json:"workflow"`
	BatchID  string `json:"batch_id"`
	Total    int    `json:"total"`

	// Status counts.
	ByStatus          map[submission.Status]int `json:"by_status"`
	IngestSuccess     int                       `json:"ingest_success"`
	IngestFailed      int                       `json:"ingest_failed"`
	MaxRetriesReached int                       `json:"max_retries_reached"`
	// Retired lists the items in StatusMaxRetriesReached.
	Retired []string `json:"retired,omitempty"`

	SubmitAttempts int `json:"submit_attempts"`
	IngestAttempts int `json:"ingest_attempts"`

	Items       []*submission.Item `json:"-"`
	CollectedAt time.Time          `json:"collected_at"`
}

// Collector gathers batch snapshots from the item submission store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new snapshot collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of every record in the batch.
func (c *Collector) Collect(ctx context.Context, workflow, batchID string) (*BatchSnapshot, error) {
	items, err := c.store.QueryBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: query batch %s", batchID)
	}
	return Summarize(workflow, batchID, items), nil
}

// Summarize builds a snapshot from batch records.
func Summarize(workflow, batchID string, items []*submission.Item) *BatchSnapshot {
	snap := &BatchSnapshot{
		Workflow:    workflow,
		BatchID:     batchID,
		Total:       len(items),
		ByStatus:    make(map[submission.Status]int),
		Items:       items,
		CollectedAt: time.Now().UTC(),
	}
	for _, it := range items {
		snap.ByStatus[it.Status]++
		snap.SubmitAttempts += it.SubmitAttempts
		snap.IngestAttempts += it.IngestAttempts
		switch it.Status {
		case submission.StatusIngestSuccess:
			snap.IngestSuccess++
		case submission.StatusIngestFailed:
			snap.IngestFailed++
		case submission.StatusMaxRetriesReached:
			snap.MaxRetriesReached++
			snap.Retired = append(snap.Retired, it.ItemIdentifier)
		}
	}
	return snap
}
