package submission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestReadyToSubmit(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusUnset, false},
		{StatusReconcileSuccess, true},
		{StatusReconcileFailed, false},
		{StatusSubmitSuccess, false},
		{StatusSubmitFailed, true},
		{StatusIngestSuccess, false},
		{StatusIngestFailed, true},
		{StatusIngestUnknown, false},
		{StatusMaxRetriesReached, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			it := &Item{Status: tt.status}
			assert.Equal(t, tt.want, it.ReadyToSubmit())
		})
	}
}

func TestMarkReconciled(t *testing.T) {
	tests := []struct {
		name        string
		status      Status
		matched     bool
		wantChanged bool
		wantStatus  Status
	}{
		{"unset matched", StatusUnset, true, true, StatusReconcileSuccess},
		{"unset unmatched", StatusUnset, false, true, StatusReconcileFailed},
		{"failed now matched", StatusReconcileFailed, true, true, StatusReconcileSuccess},
		{"already reconciled", StatusReconcileSuccess, true, false, StatusReconcileSuccess},
		{"submitted untouched", StatusSubmitSuccess, false, false, StatusSubmitSuccess},
		{"ingested untouched", StatusIngestSuccess, true, false, StatusIngestSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := &Item{Status: tt.status}
			assert.Equal(t, tt.wantChanged, it.MarkReconciled(tt.matched, now))
			assert.Equal(t, tt.wantStatus, it.Status)
		})
	}
}

func TestMarkSubmitted(t *testing.T) {
	it := &Item{Status: StatusSubmitFailed, StatusDetails: "boom", SubmitAttempts: 1}
	it.MarkSubmitted(`{"SubmissionSystem":"DSpace@MIT"}`, now)

	assert.Equal(t, StatusSubmitSuccess, it.Status)
	assert.Empty(t, it.StatusDetails)
	assert.Equal(t, 2, it.SubmitAttempts)
	assert.Equal(t, `{"SubmissionSystem":"DSpace@MIT"}`, it.LastSubmissionMessage)
	require.NotNil(t, it.LastRunDate)
	assert.Equal(t, now, *it.LastRunDate)
}

func TestMarkSubmitFailed(t *testing.T) {
	it := &Item{Status: StatusReconcileSuccess}
	it.MarkSubmitFailed(errors.New("queue unavailable"), now)

	assert.Equal(t, StatusSubmitFailed, it.Status)
	assert.Equal(t, "queue unavailable", it.StatusDetails)
	assert.Equal(t, 1, it.SubmitAttempts)
}

func TestApplyResult(t *testing.T) {
	tests := []struct {
		name        string
		item        Item
		result      Result
		wantStatus  Status
		wantDetails string
		wantHandle  string
		wantIngest  int
	}{
		{
			name:       "success",
			item:       Item{Status: StatusSubmitSuccess, StatusDetails: "stale"},
			result:     Result{Type: ResultSuccess, Handle: "1721.1/12345"},
			wantStatus: StatusIngestSuccess,
			wantHandle: "1721.1/12345",
			wantIngest: 1,
		},
		{
			name:        "error",
			item:        Item{Status: StatusSubmitSuccess, IngestAttempts: 2},
			result:      Result{Type: ResultError, ErrorInfo: "bitstream checksum mismatch"},
			wantStatus:  StatusIngestFailed,
			wantDetails: "bitstream checksum mismatch",
			wantIngest:  3,
		},
		{
			name:        "unknown",
			item:        Item{Status: StatusSubmitSuccess},
			result:      Result{Type: "pending"},
			wantStatus:  StatusIngestUnknown,
			wantDetails: "unrecognized result type: pending",
			wantIngest:  1,
		},
		{
			name:        "failure past threshold retires item",
			item:        Item{Status: StatusSubmitSuccess, IngestAttempts: 21},
			result:      Result{Type: ResultError, ErrorInfo: "still failing"},
			wantStatus:  StatusMaxRetriesReached,
			wantDetails: "still failing",
			wantIngest:  22,
		},
		{
			name:       "at threshold still failed",
			item:       Item{Status: StatusSubmitSuccess, IngestAttempts: 19},
			result:     Result{Type: ResultError, ErrorInfo: "x"},
			wantStatus: StatusIngestFailed,
			wantIngest: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := tt.item
			it.ApplyResult(tt.result, 20, now)
			assert.Equal(t, tt.wantStatus, it.Status)
			assert.Equal(t, tt.wantIngest, it.IngestAttempts)
			assert.Equal(t, tt.wantHandle, it.DSpaceHandle)
			if tt.wantDetails != "" || tt.wantStatus == StatusIngestSuccess {
				assert.Equal(t, tt.wantDetails, it.StatusDetails)
			}
			require.NotNil(t, it.LastRunDate)
		})
	}
}

func TestApplyResultSuccessSetsIngestDate(t *testing.T) {
	it := &Item{Status: StatusSubmitSuccess}
	it.ApplyResult(Result{Type: ResultSuccess, Handle: "1721.1/1", Raw: `{"ResultType":"success"}`}, 0, now)

	require.NotNil(t, it.IngestDate)
	assert.Equal(t, now, *it.IngestDate)
	assert.Equal(t, `{"ResultType":"success"}`, it.LastResultMessage)
}
