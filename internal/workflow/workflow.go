// Package workflow drives a batch of item submissions through the reconcile,
// create-batch, submit and finalize stages. Source-specific mechanics live in
// Workflow implementations; the stages themselves are methods on Runner.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
	"github.com/sells-group/dspace-submission-composer/internal/transform"
)

// Sentinel errors recorded per item during create-batch.
var (
	ErrItemMetadataNotFound   = errors.New("No metadata found for the item submission")   //nolint:staticcheck
	ErrItemBitstreamsNotFound = errors.New("No bitstreams found for the item submission") //nolint:staticcheck
	ErrIdentifiersFileMissing = errors.New("item identifiers file not provided")
)

// Workflow is the capability set a source system provides.
type Workflow interface {
	// Name is the workflow name and the top-level folder of its batches.
	Name() string

	// SubmissionSystem is the DSS target, e.g. "DSpace@MIT".
	SubmissionSystem() string

	// Transformer maps source records to DSpace metadata.
	Transformer() *transform.Transformer

	// ItemMetadata returns one source record per item. Every record has an
	// item_identifier; a record with nothing else means the item's metadata
	// could not be found.
	ItemMetadata(ctx context.Context, b *Batch) ([]transform.Record, error)

	// BatchBitstreams lists the bitstream keys of the batch.
	BatchBitstreams(ctx context.Context, b *Batch) (<-chan string, <-chan error)

	// PrepareBatch materializes source assets before create-batch.
	PrepareBatch(ctx context.Context, b *Batch, opts PrepareOptions) error
}

// PostProcessor is implemented by workflows with extra work after finalize.
// items holds every record of the batch after results were applied.
type PostProcessor interface {
	PostProcess(ctx context.Context, b *Batch, items []*submission.Item) error
}

// Identifier is implemented by workflows whose bitstream names do not follow
// the default <identifier>[_n].<ext> convention.
type Identifier interface {
	Identifier(key string) string
}

// SourceIdentifier is implemented by workflows that record a cross-reference
// key from the source system on each item.
type SourceIdentifier interface {
	SourceSystemIdentifier(rec transform.Record) string
}

// PrepareOptions carries create-batch options.
type PrepareOptions struct {
	// IDsFile is a file of item identifiers under the workflow folder.
	IDsFile string
	// Synced is set when the batch folder was synced just before.
	Synced bool
}

// Batch identifies one deposit folder: s3://<Bucket>/<Workflow>/<ID>/.
type Batch struct {
	Workflow string
	ID       string
	Bucket   string
	RunDate  time.Time
}

// NewBatch creates a batch whose run date is now, truncated to seconds.
func NewBatch(workflow, id, bucket string, now time.Time) *Batch {
	return &Batch{
		Workflow: workflow,
		ID:       id,
		Bucket:   bucket,
		RunDate:  now.UTC().Truncate(time.Second),
	}
}

// Path is the batch folder prefix with a trailing slash.
func (b *Batch) Path() string {
	return b.Workflow + "/" + b.ID + "/"
}

// ExcludePrefixes are skipped when listing bitstreams.
func (b *Batch) ExcludePrefixes() []string {
	return []string{"archived/", "dspace_metadata/", b.Path() + "metadata.csv"}
}

// MetadataKey is where the DSpace metadata JSON of an item is stored.
func (b *Batch) MetadataKey(itemIdentifier string) string {
	return b.Path() + "dspace_metadata/" + itemIdentifier + "_metadata.json"
}

func (b *Batch) String() string {
	return b.Path()
}

// ItemError is a per-item failure of create-batch.
type ItemError struct {
	ItemIdentifier string `csv:"item_identifier"`
	Error          string `csv:"error"`
}

// BatchCreationFailedError carries every item error of a failed create-batch.
type BatchCreationFailedError struct {
	Errors []ItemError
}

func (e *BatchCreationFailedError) Error() string {
	ids := make([]string, 0, len(e.Errors))
	for _, ie := range e.Errors {
		ids = append(ids, ie.ItemIdentifier)
	}
	return fmt.Sprintf("batch creation failed for %d item(s): %s", len(e.Errors), strings.Join(ids, ", "))
}

// hasMetadata reports whether rec carries anything besides its identifier.
func hasMetadata(rec transform.Record) bool {
	for k := range rec {
		if k != "item_identifier" {
			return true
		}
	}
	return false
}
