package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a single-row write.
type UpsertConfig struct {
	Table        string   // target table (e.g., "dsc.item_submissions")
	Columns      []string // all columns being inserted, in argument order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

func (cfg UpsertConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateCols() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		conflictSet[k] = true
	}
	var cols []string
	for _, c := range cfg.Columns {
		if !conflictSet[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// insertPrefix builds "INSERT INTO t (cols) VALUES ($1, ...) ON CONFLICT (keys)".
func (cfg UpsertConfig) insertPrefix() string {
	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)
}

// UpsertSQL returns an INSERT ... ON CONFLICT DO UPDATE statement that
// overwrites the update columns of an existing row.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	var setClauses []string
	for _, col := range cfg.updateCols() {
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", pgx.Identifier{col}.Sanitize(), pgx.Identifier{col}.Sanitize()))
	}
	if len(setClauses) == 0 {
		return cfg.insertPrefix() + " DO NOTHING", nil
	}

	return cfg.insertPrefix() + " DO UPDATE SET " + strings.Join(setClauses, ", "), nil
}

// InsertIfAbsentSQL returns an INSERT ... ON CONFLICT DO NOTHING statement.
func InsertIfAbsentSQL(cfg UpsertConfig) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	return cfg.insertPrefix() + " DO NOTHING", nil
}

// Upsert writes one row, overwriting the update columns on conflict.
func Upsert(ctx context.Context, pool Pool, cfg UpsertConfig, values []any) (int64, error) {
	if len(values) != len(cfg.Columns) {
		return 0, eris.Errorf("db: upsert %s: %d values for %d columns", cfg.Table, len(values), len(cfg.Columns))
	}
	query, err := UpsertSQL(cfg)
	if err != nil {
		return 0, err
	}

	tag, err := pool.Exec(ctx, query, values...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// InsertIfAbsent writes one row unless the conflict keys already exist. It
// reports whether the row was inserted.
func InsertIfAbsent(ctx context.Context, pool Pool, cfg UpsertConfig, values []any) (bool, error) {
	if len(values) != len(cfg.Columns) {
		return false, eris.Errorf("db: insert %s: %d values for %d columns", cfg.Table, len(values), len(cfg.Columns))
	}
	query, err := InsertIfAbsentSQL(cfg)
	if err != nil {
		return false, err
	}

	tag, err := pool.Exec(ctx, query, values...)
	if err != nil {
		return false, eris.Wrapf(err, "db: insert if absent for %s", cfg.Table)
	}
	return tag.RowsAffected() == 1, nil
}

// sanitizeTable handles schema-qualified table names like "dsc.item_submissions".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
