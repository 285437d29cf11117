// Package results aggregates check results into one table and persists it.
package results

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/macadamian/deidaudit"
)

// Row is one persisted result. ID is the row's position in its run and never changes, so that
// reviewed results can be written back by ID.
type Row struct {
	ID    int
	RunID string
	deidaudit.Result
}

// Table is the aggregated output of a run.
type Table struct {
	RunID string
	Rows  []Row
}

// Aggregate concatenates result sets, typically one per batch and the missing record results,
// and numbers the rows.
func Aggregate(runID string, parts ...[]deidaudit.Result) *Table {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	t := &Table{RunID: runID, Rows: make([]Row, 0, n)}
	for _, p := range parts {
		for _, r := range p {
			t.Rows = append(t.Rows, Row{ID: len(t.Rows), RunID: runID, Result: r})
		}
	}
	return t
}

// Filter returns the rows of the given action.
func (t *Table) Filter(action deidaudit.CheckKind) []Row {
	var rows []Row
	for _, r := range t.Rows {
		if r.Action == action {
			rows = append(rows, r)
		}
	}
	return rows
}

// column is one field of the persisted schema.
type column struct {
	name    string
	sqlType string
	value   func(r *Row) interface{}
	text    func(r *Row) string
	set     func(r *Row, v sql.NullString) error
}

func textColumn(name string, get func(r *Row) *string) column {
	return column{
		name:    name,
		sqlType: "TEXT",
		value:   func(r *Row) interface{} { return *get(r) },
		text:    func(r *Row) string { return *get(r) },
		set: func(r *Row, v sql.NullString) error {
			*get(r) = v.String
			return nil
		},
	}
}

// columns is the schema of the results table, in order.
var columns = []column{
	{
		name: "id", sqlType: "INTEGER NOT NULL",
		value: func(r *Row) interface{} { return r.ID },
		text:  func(r *Row) string { return strconv.Itoa(r.ID) },
		set: func(r *Row, v sql.NullString) (err error) {
			r.ID, err = strconv.Atoi(v.String)
			return err
		},
	},
	textColumn("run_id", func(r *Row) *string { return &r.RunID }),
	textColumn("check_index", func(r *Row) *string { return &r.CheckIndex }),
	{
		name: "check_passed", sqlType: "INTEGER",
		value: func(r *Row) interface{} {
			if r.Passed == nil {
				return nil
			}
			if *r.Passed {
				return 1
			}
			return 0
		},
		text: func(r *Row) string { return FormatPassed(r.Passed) },
		set: func(r *Row, v sql.NullString) (err error) {
			r.Passed, err = ParsePassed(v.String)
			return err
		},
	},
	{
		name: "check_score", sqlType: "REAL",
		value: func(r *Row) interface{} {
			if r.Score == nil {
				return nil
			}
			return *r.Score
		},
		text: func(r *Row) string { return FormatScore(r.Score) },
		set: func(r *Row, v sql.NullString) (err error) {
			r.Score, err = ParseScore(v.String)
			return err
		},
	},
	{
		name: "action", sqlType: "TEXT",
		value: func(r *Row) interface{} { return deidaudit.Wrap(string(r.Action)) },
		text:  func(r *Row) string { return deidaudit.Wrap(string(r.Action)) },
		set: func(r *Row, v sql.NullString) error {
			r.Action = deidaudit.CheckKind(deidaudit.Unwrap(v.String))
			return nil
		},
	},
	textColumn("action_text", func(r *Row) *string { return &r.ActionText }),
	{
		name: "scope", sqlType: "TEXT",
		value: func(r *Row) interface{} { return deidaudit.Wrap(string(r.Scope)) },
		text:  func(r *Row) string { return deidaudit.Wrap(string(r.Scope)) },
		set: func(r *Row, v sql.NullString) error {
			r.Scope = deidaudit.Scope(deidaudit.Unwrap(v.String))
			return nil
		},
	},
	{
		name: "file_value", sqlType: "TEXT",
		value: func(r *Row) interface{} {
			if r.FileValue == nil {
				return nil
			}
			return *r.FileValue
		},
		text: func(r *Row) string {
			if r.FileValue == nil {
				return ""
			}
			return *r.FileValue
		},
		set: func(r *Row, v sql.NullString) error {
			if v.Valid {
				fv := v.String
				r.FileValue = &fv
			}
			return nil
		},
	},
	textColumn("answer_value", func(r *Row) *string { return &r.AnswerValue }),
	textColumn("tag", func(r *Row) *string { return &r.Tag }),
	textColumn("tag_ds", func(r *Row) *string { return &r.TagPath }),
	textColumn("tag_name", func(r *Row) *string { return &r.TagName }),
	textColumn("answer_category", func(r *Row) *string { return &r.AnswerCategory }),
	textColumn("hipaa_z", func(r *Row) *string { return &r.HIPAAZ }),
	textColumn("hipaa_m", func(r *Row) *string { return &r.HIPAAM }),
	textColumn("dicom_p15", func(r *Row) *string { return &r.DICOMP15 }),
	textColumn("dicom_iod", func(r *Row) *string { return &r.DICOMIOD }),
	textColumn("dicom_safe", func(r *Row) *string { return &r.DICOMSafe }),
	textColumn("tcia_ptkb", func(r *Row) *string { return &r.TCIAPTKB }),
	textColumn("tcia_p15", func(r *Row) *string { return &r.TCIAP15 }),
	textColumn("tcia_rev", func(r *Row) *string { return &r.TCIARev }),
	textColumn("prev_cat", func(r *Row) *string { return &r.PrevCat }),
	textColumn("modality", func(r *Row) *string { return &r.Modality }),
	textColumn("class", func(r *Row) *string { return &r.Class }),
	textColumn("patient", func(r *Row) *string { return &r.Patient }),
	textColumn("study", func(r *Row) *string { return &r.Study }),
	textColumn("series", func(r *Row) *string { return &r.Series }),
	textColumn("instance", func(r *Row) *string { return &r.Instance }),
	textColumn("file_name", func(r *Row) *string { return &r.FileName }),
	textColumn("file_path", func(r *Row) *string { return &r.FilePath }),
}

// Columns returns the names of the persisted columns, in order.
func Columns() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

// Records renders rows as text, header first, in column order.
func Records(rows []Row) [][]string {
	out := make([][]string, 0, len(rows)+1)
	out = append(out, Columns())
	for i := range rows {
		rec := make([]string, len(columns))
		for j, c := range columns {
			rec[j] = c.text(&rows[i])
		}
		out = append(out, rec)
	}
	return out
}

// FormatPassed renders an outcome as "true", "false" or "" when pending.
func FormatPassed(passed *bool) string {
	if passed == nil {
		return ""
	}
	return strconv.FormatBool(*passed)
}

// FormatScore renders a score, "" when pending.
func FormatScore(score *float64) string {
	if score == nil {
		return ""
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}

// ParsePassed reads an outcome written by FormatPassed or by a reviewer: true/false, 1/0,
// pass/fail. Blank is pending.
func ParsePassed(s string) (*bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var passed bool
	switch s {
	case "":
		return nil, nil
	case "pass", "passed", "yes", "y":
		passed = true
	case "fail", "failed", "no", "n":
		passed = false
	default:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errors.Errorf("invalid outcome %q", s)
		}
		passed = b
	}
	return &passed, nil
}

// ParseScore reads a score in [0, 1]. Blank is pending.
func ParseScore(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return nil, errors.Errorf("invalid score %q", s)
	}
	return &f, nil
}
