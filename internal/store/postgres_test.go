package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, table: "item_submissions"}
	return s, mock
}

func itemRow(batchID, id string, status submission.Status, ingest int) []any {
	return []any{
		batchID, id, "sccs", string(status), "", "", "",
		(*time.Time)(nil), "", "", (*time.Time)(nil), 1, ingest,
	}
}

// itemArgs matches the bound column values of one item: the three key
// columns exactly, the rest by position.
func itemArgs(batchID, id, workflow string) []any {
	args := []any{batchID, id, workflow}
	for range columns[3:] {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS item_submissions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM item_submissions WHERE batch_id = \$1 AND item_identifier = \$2`).
		WithArgs("b", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "b", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM item_submissions WHERE batch_id`).
		WithArgs("b", "i1").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(itemRow("b", "i1", submission.StatusSubmitSuccess, 0)...))

	item, err := s.Get(context.Background(), "b", "i1")
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitSuccess, item.Status)
	assert.Equal(t, 1, item.SubmitAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Create(t *testing.T) {
	tests := []struct {
		name       string
		rows       int64
		wantExists bool
	}{
		{name: "inserted", rows: 1},
		{name: "duplicate", rows: 0, wantExists: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)

			mock.ExpectExec(`INSERT INTO "item_submissions" .* ON CONFLICT \("batch_id", "item_identifier"\) DO NOTHING`).
				WithArgs(itemArgs("b", "i", "sccs")...).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.rows))

			err := s.Create(context.Background(), &submission.Item{BatchID: "b", ItemIdentifier: "i", WorkflowName: "sccs"})
			var exists *AlreadyExistsError
			assert.Equal(t, tt.wantExists, errors.As(err, &exists))
			if !tt.wantExists {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT .* DO UPDATE SET "status" = EXCLUDED."status"`).
		WithArgs("b", "i", "", string(submission.StatusSubmitFailed), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Upsert(context.Background(), &submission.Item{BatchID: "b", ItemIdentifier: "i", Status: submission.StatusSubmitFailed})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs(itemArgs("b", "i", "")...).
		WillReturnError(errors.New("connection refused"))

	err := s.Upsert(context.Background(), &submission.Item{BatchID: "b", ItemIdentifier: "i"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert b/i")
}

func TestPostgresStore_QueryBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(columns).
		AddRow(itemRow("b", "a", submission.StatusIngestSuccess, 1)...).
		AddRow(itemRow("b", "c", submission.StatusSubmitSuccess, 0)...)
	mock.ExpectQuery(`SELECT .* FROM item_submissions WHERE batch_id = \$1 ORDER BY item_identifier`).
		WithArgs("b").
		WillReturnRows(rows)

	items, err := s.QueryBatch(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ItemIdentifier)
	assert.Equal(t, 1, items[0].IngestAttempts)
	assert.Equal(t, submission.StatusSubmitSuccess, items[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
