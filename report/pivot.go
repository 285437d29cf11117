package report

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/results"
)

// Counts tallies outcomes. Blank counts pending results.
type Counts struct {
	Blank int
	Fail  int
	Pass  int
}

// Total is the number of results counted.
func (c Counts) Total() int {
	return c.Blank + c.Fail + c.Pass
}

// Score is the share of passing results, 0 when nothing was counted.
func (c Counts) Score() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Pass) / float64(c.Total())
}

func (c *Counts) add(passed *bool) {
	switch {
	case passed == nil:
		c.Blank++
	case *passed:
		c.Pass++
	default:
		c.Fail++
	}
}

func (c *Counts) merge(o Counts) {
	c.Blank += o.Blank
	c.Fail += o.Fail
	c.Pass += o.Pass
}

// PivotRow is one group of a pivot.
type PivotRow struct {
	Key []string
	Counts
}

// Pivot counts outcomes grouped by one or more key columns.
type Pivot struct {
	KeyNames []string
	Rows     []PivotRow
}

// Total sums every group.
func (p Pivot) Total() Counts {
	var t Counts
	for _, r := range p.Rows {
		t.merge(r.Counts)
	}
	return t
}

// Get returns the counts of the group with the given key.
func (p Pivot) Get(key ...string) (Counts, bool) {
	for _, r := range p.Rows {
		if equalKeys(r.Key, key) {
			return r.Counts, true
		}
	}
	return Counts{}, false
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pivot groups rows by key and sorts the groups by key.
func pivot(rows []results.Row, keyNames []string, key func(r *results.Row) []string) Pivot {
	groups := map[string]*PivotRow{}
	for i := range rows {
		k := key(&rows[i])
		id := fmt.Sprintf("%q", k)
		g, ok := groups[id]
		if !ok {
			g = &PivotRow{Key: k}
			groups[id] = g
		}
		g.add(rows[i].Passed)
	}

	p := Pivot{KeyNames: keyNames, Rows: make([]PivotRow, 0, len(groups))}
	for _, g := range groups {
		p.Rows = append(p.Rows, *g)
	}
	sort.Slice(p.Rows, func(i, j int) bool {
		a, b := p.Rows[i].Key, p.Rows[j].Key
		for n := range a {
			if a[n] != b[n] {
				return a[n] < b[n]
			}
		}
		return false
	})
	return p
}

// ByAction counts outcomes per action.
func ByAction(rows []results.Row) Pivot {
	return pivot(rows, []string{"Action"}, func(r *results.Row) []string {
		return []string{deidaudit.Wrap(string(r.Action))}
	})
}

// ByCategory counts outcomes per category and subcategory.
func ByCategory(rows []results.Row) Pivot {
	return pivot(rows, []string{"Category", "Subcategory"}, func(r *results.Row) []string {
		cat, sub := Categorize(r.Result)
		return []string{cat, sub}
	})
}

// Overall counts every outcome in a single "All" group.
func Overall(rows []results.Row) Pivot {
	return pivot(rows, []string{"Category"}, func(*results.Row) []string {
		return []string{"All"}
	})
}

// ByScoringCategory counts outcomes per weighted category (HIPAA, DICOM, TCIA).
func ByScoringCategory(rows []results.Row) Pivot {
	return pivot(rows, []string{"Category"}, func(r *results.Row) []string {
		cat, _ := Categorize(r.Result)
		return []string{cat}
	})
}

// WeightedScore combines the per category pass rates of a ByScoringCategory pivot with the
// category weights. Unknown categories carry no weight.
func WeightedScore(p Pivot) float64 {
	score := 0.0
	for _, r := range p.Rows {
		score += r.Score() * categoryWeights[r.Key[0]] / 100
	}
	return score
}

// Frame renders the pivot with Blank, Fail, Pass and Total columns and a closing Total row.
func (p Pivot) Frame() dataframe.DataFrame {
	header := append(append([]string{}, p.KeyNames...), "Blank", "Fail", "Pass", "Total")
	records := [][]string{header}
	for _, r := range p.Rows {
		records = append(records, countRecord(r.Key, r.Counts))
	}
	totalKey := make([]string, len(p.KeyNames))
	totalKey[0] = "Total"
	records = append(records, countRecord(totalKey, p.Total()))
	return load(records)
}

// ScoreFrame renders an Overall pivot with its pass rate.
func (p Pivot) ScoreFrame() dataframe.DataFrame {
	header := append(append([]string{}, p.KeyNames...), "Blank", "Fail", "Pass", "Total", "Score")
	records := [][]string{header}
	for _, r := range p.Rows {
		records = append(records, append(countRecord(r.Key, r.Counts), percent(r.Score())))
	}
	return load(records)
}

// WeightedFrame renders a ByScoringCategory pivot with weights, per category scores and the
// weighted total.
func (p Pivot) WeightedFrame() dataframe.DataFrame {
	records := [][]string{{"Category", "Blank", "Fail", "Pass", "Total", "Weight", "Score", "Weighted Score"}}
	for _, r := range p.Rows {
		label, ok := categoryLabels[r.Key[0]]
		if !ok {
			label = r.Key[0]
		}
		weight := categoryWeights[r.Key[0]]
		records = append(records, append(countRecord([]string{label}, r.Counts),
			strconv.FormatFloat(weight, 'f', -1, 64),
			percent(r.Score()),
			percent(r.Score()*weight/100)))
	}
	records = append(records, append(countRecord([]string{"Total"}, p.Total()), "", "", percent(WeightedScore(p))))
	return load(records)
}

func countRecord(key []string, c Counts) []string {
	rec := append([]string{}, key...)
	return append(rec, strconv.Itoa(c.Blank), strconv.Itoa(c.Fail), strconv.Itoa(c.Pass), strconv.Itoa(c.Total()))
}

func percent(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}

func load(records [][]string) dataframe.DataFrame {
	return dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.NaNValues([]string{}))
}
