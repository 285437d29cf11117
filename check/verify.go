package check

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/match"
	"github.com/macadamian/deidaudit/remap"
)

var errNoExpected = errors.New("check has no expected value")

func verifyTagRetained(_ context.Context, _ Env, _ Subject, _ deidaudit.Check, value string) (outcome, error) {
	return boolean(true, &value), nil
}

func verifyTextRetained(_ context.Context, _ Env, _ Subject, c deidaudit.Check, value string) (outcome, error) {
	expected, err := expectedText(c)
	if err != nil {
		return outcome{}, err
	}
	passed, score := match.Match(value, expected, match.Retain)
	return decided(passed, score, &value), nil
}

func verifyTextRemoved(_ context.Context, _ Env, _ Subject, c deidaudit.Check, value string) (outcome, error) {
	if value == deidaudit.ElidedValue {
		return boolean(true, &value), nil
	}
	expected, err := expectedText(c)
	if err != nil {
		return outcome{}, err
	}
	passed, score := match.Match(value, expected, match.Remove)
	return decided(passed, score, &value), nil
}

// verifyChanged fails while the original value can still be read in the element. Backslash value
// separators are ignored on both sides.
func verifyChanged(_ context.Context, _ Env, _ Subject, c deidaudit.Check, value string) (outcome, error) {
	expected := stripSeparators(deidaudit.Unwrap(c.Value))
	if strings.TrimSpace(expected) == "" {
		return outcome{}, errNoExpected
	}
	still := strings.Contains(stripSeparators(deidaudit.Unwrap(value)), expected)
	return boolean(!still, &value), nil
}

func verifyUIDConsistent(_ context.Context, env Env, _ Subject, c deidaudit.Check, value string) (outcome, error) {
	return consistent(env.UIDs, c, value)
}

func verifyPatIDConsistent(_ context.Context, env Env, _ Subject, c deidaudit.Check, value string) (outcome, error) {
	return consistent(env.PatientIDs, c, value)
}

// consistent passes when the element holds exactly the identifier the original was mapped to. An
// original with no mapping fails.
func consistent(m remap.Map, c deidaudit.Check, value string) (outcome, error) {
	original := strings.TrimSpace(deidaudit.Unwrap(c.Value))
	if original == "" {
		return outcome{}, errNoExpected
	}
	mapped, ok := m.Lookup(original)
	if !ok {
		return boolean(false, &value), nil
	}
	return boolean(strings.TrimSpace(deidaudit.Unwrap(value)) == mapped, &value), nil
}

func verifyPixelsRetained(_ context.Context, _ Env, s Subject, c deidaudit.Check, value string) (outcome, error) {
	expected := strings.TrimSpace(deidaudit.Unwrap(c.Value))
	if expected == "" {
		return outcome{}, errNoExpected
	}
	digest := s.Record.Digest
	if digest == "" {
		return boolean(false, &value), nil
	}
	fileValue := deidaudit.Wrap(digest)
	return boolean(strings.EqualFold(digest, expected), &fileValue), nil
}

// expectedText is the text a text check looks for: action_text, or value when the answer key left
// action_text blank.
func expectedText(c deidaudit.Check) (string, error) {
	for _, v := range []string{c.ActionText, c.Value} {
		if strings.TrimSpace(deidaudit.Unwrap(v)) != "" {
			return v, nil
		}
	}
	return "", errNoExpected
}

func stripSeparators(v string) string {
	return strings.ReplaceAll(v, `\`, "")
}
