package answerkey

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// SQLite driver registered as "sqlite"
	_ "modernc.org/sqlite"

	"github.com/macadamian/deidaudit"
)

// Table and column names of an answer key database.
const (
	Table          = "answer_data"
	StudyColumn    = "StudyInstanceUID"
	SeriesColumn   = "SeriesInstanceUID"
	InstanceColumn = "SOPInstanceUID"
	ScopeColumn    = "scope"
	ChecksColumn   = "AnswerData"
)

const sqlFlavor = sqlbuilder.SQLite

// Open opens a SQLite database file.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	return db, nil
}

// Load reads every entry of the answer key file at path.
func Load(ctx context.Context, path string, logger logrus.FieldLogger) ([]Entry, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	entries, err := Read(ctx, db, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load answer key %s", path)
	}
	return entries, nil
}

// Read reads every entry of the answer key table. The scope column is optional; rows without one
// are instance scoped. A row whose packed checks cannot be decoded fails the whole read.
func Read(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) ([]Entry, error) {
	sb := sqlFlavor.NewSelectBuilder().Select("*").From(Table)
	query, args := sb.Build()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query answer key")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	for _, required := range []string{StudyColumn, SeriesColumn, InstanceColumn, ChecksColumn} {
		if _, ok := pos[required]; !ok {
			return nil, errors.Errorf("required column '%s' not found in %s", required, Table)
		}
	}

	var entries []Entry
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "failed to scan answer key row")
		}

		column := func(name string) string {
			i, ok := pos[name]
			if !ok {
				return ""
			}
			return values[i].String
		}

		scope, err := deidaudit.ParseScope(column(ScopeColumn))
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", len(entries)+1)
		}
		e := Entry{
			Study:    deidaudit.Unwrap(column(StudyColumn)),
			Series:   deidaudit.Unwrap(column(SeriesColumn)),
			Instance: deidaudit.Unwrap(column(InstanceColumn)),
			Scope:    scope,
		}
		e.Checks, err = UnpackChecks(column(ChecksColumn), scope)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d (%s %s)", len(entries)+1, e.Study, e.Instance)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.WithField("entries", len(entries)).Info("Loaded answer key")
	}
	return entries, nil
}
