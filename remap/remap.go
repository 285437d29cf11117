// Package remap holds the identifier tables produced by the de-identification pipeline under audit:
// for each original identifier, the identifier it was replaced with.
package remap

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"

	"github.com/macadamian/deidaudit"
)

// Column names of a mapping file.
const (
	OldColumn = "id_old"
	NewColumn = "id_new"
)

// Map is an old → new identifier table. It is built once and only read afterwards, so it is safe
// to share between workers.
type Map map[string]string

// Lookup returns the new identifier for old. Brackets around old are ignored.
func (m Map) Lookup(old string) (string, bool) {
	v, ok := m[strings.TrimSpace(deidaudit.Unwrap(old))]
	return v, ok
}

// Load reads a mapping file from disk.
func Load(path string) (Map, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open mapping file %s", path)
	}
	defer f.Close()

	m, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read mapping file %s", path)
	}
	return m, nil
}

// Read parses a CSV mapping with id_old and id_new columns. Every value is kept as text, blank old
// identifiers are skipped and duplicate old identifiers keep their first mapping.
func Read(r io.Reader) (Map, error) {
	// Trim the Byte Order Marker spreadsheet exports tend to add
	df := dataframe.ReadCSV(utfbom.SkipOnly(r),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.NaNValues([]string{}))
	if df.Err != nil {
		return nil, df.Err
	}

	if err := requireColumns(df.Names(), OldColumn, NewColumn); err != nil {
		return nil, err
	}

	olds := df.Col(OldColumn).Records()
	news := df.Col(NewColumn).Records()

	m := make(Map, len(olds))
	for i, old := range olds {
		old = strings.TrimSpace(deidaudit.Unwrap(old))
		if old == "" {
			continue
		}
		if _, dup := m[old]; dup {
			continue
		}
		m[old] = strings.TrimSpace(deidaudit.Unwrap(news[i]))
	}
	return m, nil
}

func requireColumns(names []string, required ...string) error {
	have := make(map[string]struct{}, len(names))
	for _, n := range names {
		have[n] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return errors.Errorf("required column '%s' not found", r)
		}
	}
	return nil
}
