// Package match compares a value found in a record with the value an answer key expects, either to
// confirm it was kept or to confirm it is gone.
package match

import (
	"strconv"
	"strings"

	"github.com/blevesearch/segment"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/macadamian/deidaudit"
)

// Mode selects whether a match is expected to find the value (Retain) or not (Remove).
type Mode int

const (
	Retain Mode = iota
	Remove
)

func (m Mode) String() string {
	if m == Remove {
		return "remove"
	}
	return "retain"
}

// Match scores fileValue against expected. Numbers compare by value, text first as a whole phrase
// and then token by token. The score is the fraction of expected tokens found (Retain) or not found
// (Remove), and is 0 or 1 for numbers and whole phrases.
func Match(fileValue, expected string, mode Mode) (bool, float64) {
	fileValue = Normalize(fileValue)
	expected = Normalize(expected)

	if IsNumeric(fileValue) && IsNumeric(expected) {
		return matchNumber(fileValue, expected, mode)
	}

	if strings.Contains(fileValue, expected) {
		if mode == Retain {
			return true, 1.0
		}
		return false, 0.0
	}

	return matchTokens(fileValue, expected, mode)
}

// Normalize strips bracket markers and lowercases text.
func Normalize(v string) string {
	v = norm.NFC.String(deidaudit.Unwrap(v))
	return cases.Lower(language.Und).String(v)
}

// IsNumeric reports whether v is made of digits with at most one decimal point.
func IsNumeric(v string) bool {
	v = strings.Replace(v, ".", "", 1)
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func matchNumber(fileValue, expected string, mode Mode) (bool, float64) {
	f, errF := strconv.ParseFloat(fileValue, 64)
	e, errE := strconv.ParseFloat(expected, 64)
	equal := errF == nil && errE == nil && f == e

	if equal == (mode == Retain) {
		return true, 1.0
	}
	return false, 0.0
}

func matchTokens(fileValue, expected string, mode Mode) (bool, float64) {
	tokens := Tokenize(expected)
	total := len(tokens)
	if total == 0 {
		// Nothing but stop words and punctuation: there is nothing left to keep or to remove
		return true, 1.0
	}

	retained := 0
	for _, tok := range tokens {
		if strings.Contains(fileValue, tok) {
			retained++
		}
	}
	removed := total - retained

	if mode == Retain {
		return retained == total, float64(retained) / float64(total)
	}
	return removed == total, float64(removed) / float64(total)
}

// Tokenize splits text into words and numbers, dropping stop words and punctuation. Words joined
// by hyphens ("smith-jones", "72223-1234") stay one token.
func Tokenize(text string) []string {
	seg := segment.NewWordSegmenterDirect([]byte(text))

	var tokens []string
	var word strings.Builder
	// the run in word ends with a hyphen and waits for its next part
	joining := false
	flush := func() {
		tok := strings.TrimSuffix(word.String(), "-")
		word.Reset()
		joining = false
		if tok == "" {
			return
		}
		if _, ok := stopwords[tok]; ok {
			return
		}
		if _, ok := punctuation[tok]; ok {
			return
		}
		tokens = append(tokens, tok)
	}

	for seg.Segment() {
		text := seg.Text()
		switch {
		case seg.Type() != segment.None:
			if !joining {
				flush()
			}
			word.WriteString(text)
			joining = false
		case text == "-" && word.Len() > 0 && !joining:
			word.WriteString(text)
			joining = true
		default:
			flush()
		}
	}
	flush()
	return tokens
}
