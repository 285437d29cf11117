package results

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"

	// SQLite driver registered as "sqlite"
	_ "modernc.org/sqlite"

	"github.com/macadamian/deidaudit"
)

// ResultsTable is the table results are persisted to.
const ResultsTable = "validation_results"

const sqlFlavor = sqlbuilder.SQLite

// insertChunk bounds the rows of one INSERT, keeping the bound parameters of a statement well
// below the SQLite limit.
const insertChunk = 200

// Open opens (creating it if needed) a SQLite results database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	return db, nil
}

// Store persists result tables.
type Store struct {
	db *sql.DB
}

// NewStore returns a store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateTable creates the results table when it does not exist.
func (s *Store) CreateTable(ctx context.Context) error {
	ctb := sqlFlavor.NewCreateTableBuilder().CreateTable(ResultsTable).IfNotExists()
	for _, c := range columns {
		ctb.Define(c.name, c.sqlType)
	}
	ctb.Define("PRIMARY KEY (run_id, id)")

	query, args := ctb.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to create table %s", ResultsTable)
	}
	return nil
}

// Write inserts every row of t in one transaction.
func (s *Store) Write(ctx context.Context, t *Table) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Wrapf(err, "rollback failed: %v", rbErr)
			}
		}
	}()

	for start := 0; start < len(t.Rows); start += insertChunk {
		end := min(start+insertChunk, len(t.Rows))

		ib := sqlFlavor.NewInsertBuilder().InsertInto(ResultsTable).Cols(Columns()...)
		for i := start; i < end; i++ {
			values := make([]interface{}, len(columns))
			for j, c := range columns {
				values[j] = c.value(&t.Rows[i])
			}
			ib.Values(values...)
		}

		query, args := ib.Build()
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "failed to insert results %d to %d", start, end)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit results")
	}
	return nil
}

// Read loads the rows of a run in ID order. An empty runID loads the most recent run.
func (s *Store) Read(ctx context.Context, runID string) (*Table, error) {
	if runID == "" {
		latest, err := s.latestRun(ctx)
		if err != nil {
			return nil, err
		}
		runID = latest
	}

	sb := sqlFlavor.NewSelectBuilder().Select(Columns()...).From(ResultsTable)
	sb.Where(sb.Equal("run_id", runID)).OrderBy("id")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query results")
	}
	defer rows.Close()

	t := &Table{RunID: runID}
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "failed to scan result")
		}

		var r Row
		for i, c := range columns {
			if err := c.set(&r, values[i]); err != nil {
				return nil, errors.Wrapf(err, "column %s of result %d", c.name, len(t.Rows))
			}
		}
		t.Rows = append(t.Rows, r)
	}
	return t, rows.Err()
}

func (s *Store) latestRun(ctx context.Context) (string, error) {
	sb := sqlFlavor.NewSelectBuilder().Select("run_id").From(ResultsTable)
	sb.OrderBy("rowid").Desc().Limit(1)
	query, args := sb.Build()

	var runID string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.Errorf("no results in %s", ResultsTable)
		}
		return "", errors.Wrap(err, "failed to find latest run")
	}
	return runID, nil
}

// UpdateOutcome overwrites the outcome of one row.
func (s *Store) UpdateOutcome(ctx context.Context, runID string, id int, passed *bool, score *float64) error {
	r := Row{Result: deidaudit.Result{Passed: passed, Score: score}}

	ub := sqlFlavor.NewUpdateBuilder().Update(ResultsTable)
	ub.Set(
		ub.Assign("check_passed", columnValue("check_passed", &r)),
		ub.Assign("check_score", columnValue("check_score", &r)),
	)
	ub.Where(ub.Equal("run_id", runID), ub.Equal("id", id))
	query, args := ub.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update result %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Errorf("result %d of run %s not found", id, runID)
	}
	return nil
}

func columnValue(name string, r *Row) interface{} {
	for _, c := range columns {
		if c.name == name {
			return c.value(r)
		}
	}
	return nil
}
