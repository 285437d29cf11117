package check

import (
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/answerkey"
)

// Missing synthesizes the results of the answer key entries no record matched. Every check gets
// the outcome its kind has for an absent tag: checks that require something to be kept fail,
// checks that require something to be gone pass. matched holds the positions of the entries that
// matched at least one record.
func Missing(entries []answerkey.Entry, matched map[int]bool, logger logrus.FieldLogger) []deidaudit.Result {
	var results []deidaudit.Result
	for i, e := range entries {
		if matched[i] {
			continue
		}
		id := e.Identity()

		for _, c := range e.Checks {
			passed, err := Absent(c.Action)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"action":   c.Action,
					"instance": id.Instance,
					"tag":      c.TagPath,
				}).Error(err)
				continue
			}

			r := deidaudit.NewResult(c)
			r.Identity = id
			r.Passed, r.Score = deidaudit.Outcome(passed, score(passed))
			missing := deidaudit.MissingValue
			r.FileValue = &missing
			results = append(results, r)
		}
	}
	return results
}

func score(passed bool) float64 {
	if passed {
		return 1
	}
	return 0
}
