// Package store persists item submission records keyed by
// (batch_id, item_identifier).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("item submission not found")

// AlreadyExistsError is returned by Create when the key pair is taken.
type AlreadyExistsError struct {
	BatchID        string
	ItemIdentifier string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("item submission already exists: batch_id=%s item_identifier=%s", e.BatchID, e.ItemIdentifier)
}

// Store defines the persistence interface for item submissions.
type Store interface {
	// Create writes a new record. It fails with *AlreadyExistsError instead
	// of overwriting an existing one.
	Create(ctx context.Context, item *submission.Item) error

	// Get returns the record for the key or ErrNotFound.
	Get(ctx context.Context, batchID, itemIdentifier string) (*submission.Item, error)

	// QueryBatch returns every record in the batch ordered by item identifier.
	QueryBatch(ctx context.Context, batchID string) ([]*submission.Item, error)

	// Upsert overwrites the mutable fields of a record. Keys and
	// workflow_name are never changed on an existing record.
	Upsert(ctx context.Context, item *submission.Item) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// GetOrCreate returns the existing record for the key, creating one with an
// unset status when absent. A concurrent create is resolved by reading the
// winner's record.
func GetOrCreate(ctx context.Context, s Store, batchID, itemIdentifier, workflowName string) (*submission.Item, bool, error) {
	item, err := s.Get(ctx, batchID, itemIdentifier)
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	item = &submission.Item{
		BatchID:        batchID,
		ItemIdentifier: itemIdentifier,
		WorkflowName:   workflowName,
	}
	err = s.Create(ctx, item)
	if err == nil {
		return item, true, nil
	}

	var exists *AlreadyExistsError
	if !errors.As(err, &exists) {
		return nil, false, err
	}

	item, err = s.Get(ctx, batchID, itemIdentifier)
	if err != nil {
		return nil, false, eris.Wrapf(err, "store: get %s/%s after create conflict", batchID, itemIdentifier)
	}
	return item, false, nil
}

// column names shared by the SQL backends, in argument order.
var columns = []string{
	"batch_id",
	"item_identifier",
	"workflow_name",
	"status",
	"status_details",
	"source_system_identifier",
	"dspace_handle",
	"ingest_date",
	"last_submission_message",
	"last_result_message",
	"last_run_date",
	"submit_attempts",
	"ingest_attempts",
}

var keyColumns = []string{"batch_id", "item_identifier"}

// mutableColumns are the columns Upsert may overwrite.
var mutableColumns = columns[3:]

func columnValues(it *submission.Item) []any {
	return []any{
		it.BatchID,
		it.ItemIdentifier,
		it.WorkflowName,
		string(it.Status),
		it.StatusDetails,
		it.SourceSystemIdentifier,
		it.DSpaceHandle,
		it.IngestDate,
		it.LastSubmissionMessage,
		it.LastResultMessage,
		it.LastRunDate,
		it.SubmitAttempts,
		it.IngestAttempts,
	}
}
