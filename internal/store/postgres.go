package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/db"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	table   string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. An empty table
// name defaults to item_submissions.
func NewPostgres(ctx context.Context, connString, table string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, table: sqlTableName(table), closeFn: pool.Close}, nil
}

// sqlTableName maps a DynamoDB-style table name onto a SQL identifier.
func sqlTableName(table string) string {
	if table == "" {
		return "item_submissions"
	}
	return strings.ReplaceAll(table, "-", "_")
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS %[1]s (
	batch_id                 TEXT NOT NULL,
	item_identifier          TEXT NOT NULL,
	workflow_name            TEXT NOT NULL,
	status                   TEXT NOT NULL DEFAULT '',
	status_details           TEXT NOT NULL DEFAULT '',
	source_system_identifier TEXT NOT NULL DEFAULT '',
	dspace_handle            TEXT NOT NULL DEFAULT '',
	ingest_date              TIMESTAMPTZ,
	last_submission_message  TEXT NOT NULL DEFAULT '',
	last_result_message      TEXT NOT NULL DEFAULT '',
	last_run_date            TIMESTAMPTZ,
	submit_attempts          INTEGER NOT NULL DEFAULT 0,
	ingest_attempts          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (batch_id, item_identifier)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(batch_id, status);
`

func (s *PostgresStore) upsertConfig() db.UpsertConfig {
	return db.UpsertConfig{
		Table:        s.table,
		Columns:      columns,
		ConflictKeys: keyColumns,
		UpdateCols:   mutableColumns,
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(postgresMigration, s.table))
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, item *submission.Item) error {
	inserted, err := db.InsertIfAbsent(ctx, s.pool, s.upsertConfig(), columnValues(item))
	if err != nil {
		return eris.Wrapf(err, "postgres: create %s/%s", item.BatchID, item.ItemIdentifier)
	}
	if !inserted {
		return &AlreadyExistsError{BatchID: item.BatchID, ItemIdentifier: item.ItemIdentifier}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, batchID, itemIdentifier string) (*submission.Item, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE batch_id = $1 AND item_identifier = $2`, strings.Join(columns, ", "), s.table),
		batchID, itemIdentifier,
	)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s/%s", batchID, itemIdentifier)
	}
	return item, nil
}

func (s *PostgresStore) QueryBatch(ctx context.Context, batchID string) ([]*submission.Item, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE batch_id = $1 ORDER BY item_identifier`, strings.Join(columns, ", "), s.table),
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query batch %s", batchID)
	}
	defer rows.Close()

	var items []*submission.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan batch %s", batchID)
		}
		items = append(items, item)
	}
	return items, eris.Wrapf(rows.Err(), "postgres: iterate batch %s", batchID)
}

func (s *PostgresStore) Upsert(ctx context.Context, item *submission.Item) error {
	_, err := db.Upsert(ctx, s.pool, s.upsertConfig(), columnValues(item))
	return eris.Wrapf(err, "postgres: upsert %s/%s", item.BatchID, item.ItemIdentifier)
}

func scanItem(row pgx.Row) (*submission.Item, error) {
	var it submission.Item
	var status string
	err := row.Scan(
		&it.BatchID,
		&it.ItemIdentifier,
		&it.WorkflowName,
		&status,
		&it.StatusDetails,
		&it.SourceSystemIdentifier,
		&it.DSpaceHandle,
		&it.IngestDate,
		&it.LastSubmissionMessage,
		&it.LastResultMessage,
		&it.LastRunDate,
		&it.SubmitAttempts,
		&it.IngestAttempts,
	)
	if err != nil {
		return nil, err
	}
	it.Status = submission.Status(status)
	return &it, nil
}
