// Package report summarizes a results table: pass/fail counts per action and per compliance
// category, the weighted overall score, and the lists of discrepancies to review.
package report

import (
	"sort"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/results"
)

// Compliance categories.
const (
	HIPAA   = "hipaa"
	DICOM   = "dicom"
	TCIA    = "tcia"
	Unknown = "unknown"
)

// Labels of the categories in the category scoring report, and their weight in the final score.
var (
	categoryLabels = map[string]string{
		HIPAA: "Category 1 - HIPAA",
		DICOM: "Category 2 - DICOM Standard",
		TCIA:  "Category 3 - Best Practice",
	}
	categoryWeights = map[string]float64{
		HIPAA: 70,
		DICOM: 20,
		TCIA:  10,
	}
)

// Categorize assigns a result to a compliance category and subcategory. Most actions map to a
// fixed subcategory; text checks take theirs from the answer key category columns.
func Categorize(r deidaudit.Result) (string, string) {
	switch r.Action {
	case deidaudit.TagRetained, deidaudit.TextNotNull:
		return DICOM, r.DICOMIOD
	case deidaudit.DateShifted:
		return HIPAA, "HIPAA-C"
	case deidaudit.UIDChanged:
		return HIPAA, "HIPAA-R"
	case deidaudit.PixelsHidden:
		return HIPAA, "HIPAA-A"
	case deidaudit.PatIDConsistent:
		return DICOM, "DICOM-P15-BASIC-C"
	case deidaudit.UIDConsistent:
		return DICOM, "DICOM-P15-BASIC-U"
	case deidaudit.PixelsRetained:
		return TCIA, "TCIA-P15-PIX-K"
	case deidaudit.TextRemoved:
		return firstCategory(
			[2]string{HIPAA, r.HIPAAM},
			[2]string{HIPAA, r.HIPAAZ},
			[2]string{TCIA, r.TCIAP15},
			[2]string{TCIA, r.TCIAPTKB},
			[2]string{TCIA, r.TCIARev},
		)
	case deidaudit.TextRetained:
		return firstCategory(
			[2]string{TCIA, r.TCIAP15},
			[2]string{TCIA, r.TCIAPTKB},
			[2]string{TCIA, r.TCIARev},
		)
	}
	return Unknown, Unknown
}

func firstCategory(candidates ...[2]string) (string, string) {
	for _, c := range candidates {
		if c[1] != "" {
			return c[0], c[1]
		}
	}
	return Unknown, Unknown
}

// DedupSeries keeps one row per action, tag, patient, study and series, preferring failures over
// passes over pending results. Rows come back failures first, then passes, then pending.
func DedupSeries(rows []results.Row) []results.Row {
	sorted := make([]results.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return outcomeRank(sorted[i].Passed) < outcomeRank(sorted[j].Passed)
	})

	type key struct {
		action                      deidaudit.CheckKind
		tag, patient, study, series string
	}
	seen := map[key]bool{}
	out := make([]results.Row, 0, len(sorted))
	for _, r := range sorted {
		k := key{r.Action, r.TagPath, r.Patient, r.Study, r.Series}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func outcomeRank(passed *bool) int {
	switch {
	case passed == nil:
		return 2
	case *passed:
		return 1
	}
	return 0
}
