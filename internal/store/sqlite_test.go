package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath, "dsc-item-submissions-test")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ran := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	item := &submission.Item{
		BatchID:                "batch-aaa",
		ItemIdentifier:         "123",
		WorkflowName:           "archivesspace",
		Status:                 submission.StatusReconcileSuccess,
		SourceSystemIdentifier: "/repositories/2/archival_objects/123",
		LastRunDate:            &ran,
	}
	require.NoError(t, st.Create(ctx, item))

	got, err := st.Get(ctx, "batch-aaa", "123")
	require.NoError(t, err)
	assert.Equal(t, "archivesspace", got.WorkflowName)
	assert.Equal(t, submission.StatusReconcileSuccess, got.Status)
	assert.Equal(t, "/repositories/2/archival_objects/123", got.SourceSystemIdentifier)
	require.NotNil(t, got.LastRunDate)
	assert.True(t, ran.Equal(*got.LastRunDate))
	assert.Nil(t, got.IngestDate)
}

func TestSQLite_CreateDuplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	item := &submission.Item{BatchID: "b", ItemIdentifier: "i", WorkflowName: "sccs"}
	require.NoError(t, st.Create(ctx, item))

	err := st.Create(ctx, &submission.Item{BatchID: "b", ItemIdentifier: "i", WorkflowName: "other"})
	var exists *AlreadyExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, "b", exists.BatchID)
	assert.Equal(t, "i", exists.ItemIdentifier)

	got, err := st.Get(ctx, "b", "i")
	require.NoError(t, err)
	assert.Equal(t, "sccs", got.WorkflowName)
}

func TestSQLite_GetNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.Get(context.Background(), "b", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpsertKeepsWorkflowName(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, &submission.Item{BatchID: "b", ItemIdentifier: "i", WorkflowName: "sccs"}))

	now := time.Now().UTC()
	err := st.Upsert(ctx, &submission.Item{
		BatchID:        "b",
		ItemIdentifier: "i",
		WorkflowName:   "tampered",
		Status:         submission.StatusIngestSuccess,
		DSpaceHandle:   "1721.1/999",
		IngestDate:     &now,
		SubmitAttempts: 1,
		IngestAttempts: 1,
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, "b", "i")
	require.NoError(t, err)
	assert.Equal(t, "sccs", got.WorkflowName)
	assert.Equal(t, submission.StatusIngestSuccess, got.Status)
	assert.Equal(t, "1721.1/999", got.DSpaceHandle)
	assert.Equal(t, 1, got.SubmitAttempts)
	assert.Equal(t, 1, got.IngestAttempts)
	require.NotNil(t, got.IngestDate)
}

func TestSQLite_QueryBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, st.Create(ctx, &submission.Item{BatchID: "batch-1", ItemIdentifier: id, WorkflowName: "sccs"}))
	}
	require.NoError(t, st.Create(ctx, &submission.Item{BatchID: "batch-2", ItemIdentifier: "z", WorkflowName: "sccs"}))

	items, err := st.QueryBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ItemIdentifier)
	assert.Equal(t, "b", items[1].ItemIdentifier)
	assert.Equal(t, "c", items[2].ItemIdentifier)

	empty, err := st.QueryBatch(ctx, "batch-none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetOrCreate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	item, created, err := GetOrCreate(ctx, st, "b", "i", "sccs")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, submission.StatusUnset, item.Status)

	item.Status = submission.StatusSubmitSuccess
	require.NoError(t, st.Upsert(ctx, item))

	again, created, err := GetOrCreate(ctx, st, "b", "i", "sccs")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, submission.StatusSubmitSuccess, again.Status)
}
