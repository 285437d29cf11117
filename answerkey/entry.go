// Package answerkey loads the ground truth of an audit and decides which of its checks apply to
// which record.
package answerkey

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/remap"
)

// Entry is one row of the answer key: checks keyed to an original identity at a scope.
type Entry struct {
	// Original identifiers, as they were before de-identification.
	Study    string
	Series   string
	Instance string

	// Identifiers after remapping, empty when the mapping table has no entry for the original.
	NewStudy    string
	NewSeries   string
	NewInstance string

	Scope  deidaudit.Scope
	Checks []deidaudit.Check
}

// Remap fills the new identifiers of every entry from the UID table.
func Remap(entries []Entry, uids remap.Map) {
	for i := range entries {
		e := &entries[i]
		e.NewStudy, _ = uids.Lookup(e.Study)
		e.NewSeries, _ = uids.Lookup(e.Series)
		e.NewInstance, _ = uids.Lookup(e.Instance)
	}
}

// Identity is the identity results synthesized for the entry carry: remapped identifiers where the
// mapping is known, original ones otherwise.
func (e Entry) Identity() deidaudit.Identity {
	pick := func(remapped, original string) string {
		if remapped != "" {
			return remapped
		}
		return deidaudit.Unwrap(original)
	}
	return deidaudit.Identity{
		Study:    pick(e.NewStudy, e.Study),
		Series:   pick(e.NewSeries, e.Series),
		Instance: pick(e.NewInstance, e.Instance),
	}
}

// UnpackChecks decodes the packed check collection of an entry: a JSON object keyed by check index
// (or a JSON array). Checks come back in index order, tagged with the entry scope.
func UnpackChecks(packed string, scope deidaudit.Scope) ([]deidaudit.Check, error) {
	raw, err := decodePacked(packed)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return indexLess(keys[i], keys[j]) })

	checks := make([]deidaudit.Check, 0, len(keys))
	for _, k := range keys {
		var c deidaudit.Check
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &c,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.ComposeDecodeHookFunc(checkKindHook, coordinateHook),
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(raw[k]); err != nil {
			return nil, errors.Wrapf(err, "failed to decode check %s", k)
		}
		c.Index = k
		c.Scope = scope
		checks = append(checks, c)
	}
	return checks, nil
}

func decodePacked(packed string) (map[string]map[string]interface{}, error) {
	packed = strings.TrimSpace(packed)
	if packed == "" {
		return map[string]map[string]interface{}{}, nil
	}

	if strings.HasPrefix(packed, "[") {
		var list []map[string]interface{}
		if err := json.Unmarshal([]byte(packed), &list); err != nil {
			return nil, errors.Wrap(err, "failed to parse packed checks")
		}
		raw := make(map[string]map[string]interface{}, len(list))
		for i, c := range list {
			raw[strconv.Itoa(i)] = c
		}
		return raw, nil
	}

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(packed), &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse packed checks")
	}
	return raw, nil
}

// indexLess orders numeric keys numerically and everything else lexically after them.
func indexLess(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return ai < bi
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

var (
	checkKindType = reflect.TypeOf(deidaudit.CheckKind(""))
	intSliceType  = reflect.TypeOf([]int(nil))
)

// checkKindHook accepts the bracketed action names of the answer key. Unknown actions are kept as
// written so that the engine can reject the single check rather than the whole answer key.
func checkKindHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != checkKindType || from.Kind() != reflect.String {
		return data, nil
	}
	s := data.(string)
	if k, err := deidaudit.ParseCheckKind(s); err == nil {
		return k, nil
	}
	return deidaudit.CheckKind(strings.TrimSpace(deidaudit.Unwrap(s))), nil
}

// coordinateHook parses "[x, y]" and "x,y" strings into coordinates.
func coordinateHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != intSliceType || from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.Trim(strings.TrimSpace(data.(string)), "[]()<>")
	if s == "" {
		return []int(nil), nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid coordinate %q", data)
		}
		out = append(out, int(f))
	}
	return out, nil
}
