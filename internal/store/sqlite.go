package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local runs
// and tests.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn, table string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, table: sqlTableName(table)}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS %[1]s (
	batch_id                 TEXT NOT NULL,
	item_identifier          TEXT NOT NULL,
	workflow_name            TEXT NOT NULL,
	status                   TEXT NOT NULL DEFAULT '',
	status_details           TEXT NOT NULL DEFAULT '',
	source_system_identifier TEXT NOT NULL DEFAULT '',
	dspace_handle            TEXT NOT NULL DEFAULT '',
	ingest_date              TEXT,
	last_submission_message  TEXT NOT NULL DEFAULT '',
	last_result_message      TEXT NOT NULL DEFAULT '',
	last_run_date            TEXT,
	submit_attempts          INTEGER NOT NULL DEFAULT 0,
	ingest_attempts          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (batch_id, item_identifier)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(batch_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(sqliteMigration, s.table))
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) insertSQL(conflict string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (batch_id, item_identifier) %s",
		s.table, strings.Join(columns, ", "), placeholders, conflict,
	)
}

func (s *SQLiteStore) Create(ctx context.Context, item *submission.Item) error {
	res, err := s.db.ExecContext(ctx, s.insertSQL("DO NOTHING"), sqliteValues(item)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create %s/%s", item.BatchID, item.ItemIdentifier)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &AlreadyExistsError{BatchID: item.BatchID, ItemIdentifier: item.ItemIdentifier}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, batchID, itemIdentifier string) (*submission.Item, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE batch_id = ? AND item_identifier = ?`, strings.Join(columns, ", "), s.table),
		batchID, itemIdentifier,
	)
	item, err := scanSQLiteItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s/%s", batchID, itemIdentifier)
	}
	return item, nil
}

func (s *SQLiteStore) QueryBatch(ctx context.Context, batchID string) ([]*submission.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE batch_id = ? ORDER BY item_identifier`, strings.Join(columns, ", "), s.table),
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query batch %s", batchID)
	}
	defer rows.Close() //nolint:errcheck

	var items []*submission.Item
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan batch %s", batchID)
		}
		items = append(items, item)
	}
	return items, eris.Wrapf(rows.Err(), "sqlite: iterate batch %s", batchID)
}

func (s *SQLiteStore) Upsert(ctx context.Context, item *submission.Item) error {
	sets := make([]string, len(mutableColumns))
	for i, c := range mutableColumns {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	_, err := s.db.ExecContext(ctx, s.insertSQL("DO UPDATE SET "+strings.Join(sets, ", ")), sqliteValues(item)...)
	return eris.Wrapf(err, "sqlite: upsert %s/%s", item.BatchID, item.ItemIdentifier)
}

// sqliteValues stores timestamps as RFC 3339 text.
func sqliteValues(it *submission.Item) []any {
	vals := columnValues(it)
	vals[7] = formatTime(it.IngestDate)
	vals[10] = formatTime(it.LastRunDate)
	return vals
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteItem(row rowScanner) (*submission.Item, error) {
	var it submission.Item
	var status string
	var ingestDate, lastRun sql.NullString
	err := row.Scan(
		&it.BatchID,
		&it.ItemIdentifier,
		&it.WorkflowName,
		&status,
		&it.StatusDetails,
		&it.SourceSystemIdentifier,
		&it.DSpaceHandle,
		&ingestDate,
		&it.LastSubmissionMessage,
		&it.LastResultMessage,
		&lastRun,
		&it.SubmitAttempts,
		&it.IngestAttempts,
	)
	if err != nil {
		return nil, err
	}
	it.Status = submission.Status(status)
	if it.IngestDate, err = parseTime(ingestDate); err != nil {
		return nil, err
	}
	if it.LastRunDate, err = parseTime(lastRun); err != nil {
		return nil, err
	}
	return &it, nil
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse time %q", s.String)
	}
	return &t, nil
}
