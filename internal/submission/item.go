// Package submission defines the item submission record and the status
// transitions applied to it by each workflow stage.
package submission

import (
	"time"
)

// Status is the lifecycle state of an item submission. The zero value means
// the status has not been set yet.
type Status string

// Item submission statuses.
const (
	StatusUnset             Status = ""
	StatusReconcileSuccess  Status = "reconcile_success"
	StatusReconcileFailed   Status = "reconcile_failed"
	StatusSubmitSuccess     Status = "submit_success"
	StatusSubmitFailed      Status = "submit_failed"
	StatusIngestSuccess     Status = "ingest_success"
	StatusIngestFailed      Status = "ingest_failed"
	StatusIngestUnknown     Status = "ingest_unknown"
	StatusMaxRetriesReached Status = "max_retries_reached"
)

// DefaultRetryThreshold is the number of ingest attempts allowed before an
// item is parked in StatusMaxRetriesReached.
const DefaultRetryThreshold = 20

// Item is one row of the item submission table, keyed by
// (BatchID, ItemIdentifier).
type Item struct {
	BatchID                string     `json:"batch_id" dynamodbav:"batch_id"`
	ItemIdentifier         string     `json:"item_identifier" dynamodbav:"item_identifier"`
	WorkflowName           string     `json:"workflow_name" dynamodbav:"workflow_name"`
	Status                 Status     `json:"status,omitempty" dynamodbav:"status,omitempty"`
	StatusDetails          string     `json:"status_details,omitempty" dynamodbav:"status_details,omitempty"`
	SourceSystemIdentifier string     `json:"source_system_identifier,omitempty" dynamodbav:"source_system_identifier,omitempty"`
	DSpaceHandle           string     `json:"dspace_handle,omitempty" dynamodbav:"dspace_handle,omitempty"`
	IngestDate             *time.Time `json:"ingest_date,omitempty" dynamodbav:"ingest_date,omitempty"`
	LastSubmissionMessage  string     `json:"last_submission_message,omitempty" dynamodbav:"last_submission_message,omitempty"`
	LastResultMessage      string     `json:"last_result_message,omitempty" dynamodbav:"last_result_message,omitempty"`
	LastRunDate            *time.Time `json:"last_run_date,omitempty" dynamodbav:"last_run_date,omitempty"`
	SubmitAttempts         int        `json:"submit_attempts" dynamodbav:"submit_attempts"`
	IngestAttempts         int        `json:"ingest_attempts" dynamodbav:"ingest_attempts"`
}

// ReadyToSubmit reports whether the item may be sent to the ingest queue.
// Items that are unreconciled, in flight, ingested or retired are never sent.
func (it *Item) ReadyToSubmit() bool {
	switch it.Status {
	case StatusReconcileSuccess, StatusSubmitFailed, StatusIngestFailed:
		return true
	default:
		return false
	}
}

// Reconcilable reports whether the reconcile and create-batch stages may
// still write a reconcile status. Later-stage statuses are never clobbered.
func (it *Item) Reconcilable() bool {
	return it.Status == StatusUnset || it.Status == StatusReconcileFailed
}

// MarkReconciled records the reconcile outcome if the item has not moved past
// the reconcile stage. It reports whether the item changed.
func (it *Item) MarkReconciled(matched bool, now time.Time) bool {
	if !it.Reconcilable() {
		return false
	}
	next := StatusReconcileFailed
	details := "no bitstreams found for item"
	if matched {
		next = StatusReconcileSuccess
		details = ""
	}
	if it.Status == next && it.StatusDetails == details {
		return false
	}
	it.Status = next
	it.StatusDetails = details
	it.LastRunDate = timePtr(now)
	return true
}

// MarkSubmitted records a successful enqueue of the submission message.
func (it *Item) MarkSubmitted(message string, now time.Time) {
	it.Status = StatusSubmitSuccess
	it.StatusDetails = ""
	it.LastSubmissionMessage = message
	it.SubmitAttempts++
	it.LastRunDate = timePtr(now)
}

// MarkSubmitFailed records a failed submit attempt. The attempt still counts.
func (it *Item) MarkSubmitFailed(cause error, now time.Time) {
	it.Status = StatusSubmitFailed
	it.StatusDetails = errorText(cause)
	it.SubmitAttempts++
	it.LastRunDate = timePtr(now)
}

// ResultType classifies a DSS result message.
type ResultType string

// Result types reported by DSS.
const (
	ResultSuccess ResultType = "success"
	ResultError   ResultType = "error"
)

// Result is the part of a DSS result message applied to an item.
type Result struct {
	Type      ResultType
	Handle    string
	ErrorInfo string
	// Raw is the serialized message kept for audit.
	Raw string
}

// ApplyResult applies a matched result message. Every call counts as an
// ingest attempt; once attempts exceed threshold the item is retired to
// StatusMaxRetriesReached regardless of the result.
func (it *Item) ApplyResult(r Result, threshold int, now time.Time) {
	switch r.Type {
	case ResultSuccess:
		it.Status = StatusIngestSuccess
		it.DSpaceHandle = r.Handle
		it.StatusDetails = ""
		it.IngestDate = timePtr(now)
	case ResultError:
		it.Status = StatusIngestFailed
		it.StatusDetails = r.ErrorInfo
	default:
		it.Status = StatusIngestUnknown
		it.StatusDetails = "unrecognized result type: " + string(r.Type)
	}

	it.IngestAttempts++
	it.LastRunDate = timePtr(now)
	it.LastResultMessage = r.Raw

	if threshold <= 0 {
		threshold = DefaultRetryThreshold
	}
	if it.IngestAttempts > threshold {
		it.Status = StatusMaxRetriesReached
		if it.StatusDetails == "" {
			it.StatusDetails = "ingest attempts exceeded retry threshold"
		}
	}
}

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
