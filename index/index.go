// Package index lists the files of an input tree that an audit should decode.
package index

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/macadamian/deidaudit"
)

// Matcher selects files by their slash separated path relative to the input root. A file is
// selected when any pattern matches; "*" matches across directories.
type Matcher struct {
	patterns []glob.Glob
}

// NewMatcher compiles include patterns. No patterns selects every file.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid include pattern %q", p)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// Match reports whether the relative path rel is selected.
func (m *Matcher) Match(rel string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, g := range m.patterns {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Walk lists the selected regular files under root, sorted by path. Directories and files whose
// name starts with a dot are skipped.
func Walk(root string, m *Matcher) ([]deidaudit.FileInfo, error) {
	root = filepath.Clean(root)

	files := make([]deidaudit.FileInfo, 0, 128)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !m.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, deidaudit.FileInfo{
			Name: d.Name(),
			Path: path,
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to index %s", root)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
