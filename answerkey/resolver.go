package answerkey

import (
	"sort"

	"github.com/macadamian/deidaudit"
)

// Resolver finds the answer key entries that apply to a record. It is read-only once built and can
// be shared by every worker.
type Resolver struct {
	entries    []Entry
	byInstance map[string][]int
	bySeries   map[string][]int
	byStudy    map[string][]int
}

// NewResolver indexes entries by their remapped identifiers. Entries whose identifiers were not
// remapped are indexed nowhere and can never match a record.
func NewResolver(entries []Entry) *Resolver {
	r := &Resolver{
		entries:    entries,
		byInstance: map[string][]int{},
		bySeries:   map[string][]int{},
		byStudy:    map[string][]int{},
	}
	for i, e := range entries {
		switch e.Scope {
		case deidaudit.ScopeSeries:
			add(r.bySeries, e.NewSeries, i)
		case deidaudit.ScopeStudy, deidaudit.ScopePatient:
			add(r.byStudy, e.NewStudy, i)
		default:
			add(r.byInstance, e.NewInstance, i)
		}
	}
	return r
}

func add(index map[string][]int, key string, i int) {
	if key == "" {
		return
	}
	index[key] = append(index[key], i)
}

// Entries returns the indexed entries.
func (r *Resolver) Entries() []Entry {
	return r.entries
}

// Match returns, in answer key order, the positions of the entries applicable to id: instance
// entries whose remapped instance UID equals the record's, series entries whose remapped series UID
// equals the record's, and study or patient entries whose remapped study UID equals the record's.
func (r *Resolver) Match(id deidaudit.Identity) []int {
	var matched []int
	if id.Instance != "" {
		matched = append(matched, r.byInstance[id.Instance]...)
	}
	if id.Series != "" {
		matched = append(matched, r.bySeries[id.Series]...)
	}
	if id.Study != "" {
		matched = append(matched, r.byStudy[id.Study]...)
	}
	sort.Ints(matched)
	return matched
}

// Resolve returns the checks applicable to id, possibly none.
func (r *Resolver) Resolve(id deidaudit.Identity) []deidaudit.Check {
	return r.Checks(r.Match(id))
}

// Checks returns the checks of the entries at the given positions.
func (r *Resolver) Checks(matched []int) []deidaudit.Check {
	var checks []deidaudit.Check
	for _, i := range matched {
		checks = append(checks, r.entries[i].Checks...)
	}
	return checks
}
