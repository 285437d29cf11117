package deidaudit

import (
	"fmt"
	"strings"
)

// Fact values are wrapped in angle brackets the same way answer key values are. These sentinels
// are the values that never come from an element's content.
const (
	// EmptyValue marks an element that is present in the record but carries no value.
	EmptyValue = "<>"
	// ElidedValue marks a bulk element (pixel payload, overlay payload, meta version) that is never
	// materialized by value, whether or not the original was populated.
	ElidedValue = "<REMOVED>"
	// MissingValue is the file value of every result synthesized for a record that was not found.
	MissingValue = "<MISSING>"
)

// Wrap brackets a raw value the way facts and answer key values are stored.
func Wrap(v string) string {
	return "<" + v + ">"
}

// Unwrap removes every bracket marker from a value.
func Unwrap(v string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(v)
}

// A CheckKind names one of the closed set of assertions an answer key can make about a tag.
type CheckKind string

const (
	TagRetained     CheckKind = "tag_retained"
	TextNotNull     CheckKind = "text_notnull"
	TextRetained    CheckKind = "text_retained"
	TextRemoved     CheckKind = "text_removed"
	DateShifted     CheckKind = "date_shifted"
	UIDChanged      CheckKind = "uid_changed"
	UIDConsistent   CheckKind = "uid_consistent"
	PatIDConsistent CheckKind = "patid_consistent"
	PixelsRetained  CheckKind = "pixels_retained"
	PixelsHidden    CheckKind = "pixels_hidden"
)

// CheckKinds lists every kind in the order the engine reports them.
var CheckKinds = []CheckKind{
	TagRetained, TextNotNull, TextRetained, TextRemoved, DateShifted,
	UIDChanged, UIDConsistent, PatIDConsistent, PixelsRetained, PixelsHidden,
}

// ParseCheckKind accepts both the bare name and the bracketed form used in answer keys ("<tag_retained>").
func ParseCheckKind(s string) (CheckKind, error) {
	k := CheckKind(strings.ToLower(strings.TrimSpace(Unwrap(s))))
	for _, known := range CheckKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown check action %q", s)
}

// Scope is the identity granularity at which an answer key entry applies.
type Scope string

const (
	ScopeInstance Scope = "Instance"
	ScopeSeries   Scope = "Series"
	ScopeStudy    Scope = "Study"
	ScopePatient  Scope = "Patient"
)

// ParseScope accepts "<Series>" as well as "Series". A blank scope means the entry is keyed to a
// single instance.
func ParseScope(s string) (Scope, error) {
	v := strings.TrimSpace(Unwrap(s))
	if v == "" {
		return ScopeInstance, nil
	}
	for _, sc := range []Scope{ScopeInstance, ScopeSeries, ScopeStudy, ScopePatient} {
		if strings.EqualFold(v, string(sc)) {
			return sc, nil
		}
	}
	return "", fmt.Errorf("unknown answer scope %q", s)
}

// Category carries the compliance taxonomy columns attached to every check. They are not used to
// evaluate a check, only to group results in reports.
type Category struct {
	// The category code assigned by the answer key author.
	AnswerCategory string `mapstructure:"answer_category"`
	// HIPAA Safe Harbor identifier codes.
	HIPAAZ string `mapstructure:"hipaa_z"`
	HIPAAM string `mapstructure:"hipaa_m"`
	// DICOM PS3.15 basic profile action, IOD attribute type and "safe private" flag.
	DICOMP15  string `mapstructure:"dicom_p15"`
	DICOMIOD  string `mapstructure:"dicom_iod"`
	DICOMSafe string `mapstructure:"dicom_safe"`
	// TCIA private tag knowledge base, PS3.15 option and manual review codes.
	TCIAPTKB string `mapstructure:"tcia_ptkb"`
	TCIAP15  string `mapstructure:"tcia_p15"`
	TCIARev  string `mapstructure:"tcia_rev"`
	PrevCat  string `mapstructure:"prev_cat"`
}

// A Check is one declarative assertion about the post-processing state of one tag. Checks are
// loaded once from the answer key and never modified.
type Check struct {
	// Index is the key of the check within its entry's packed check collection.
	Index string `mapstructure:"-"`
	// Scope of the answer key entry this check was unpacked from.
	Scope  Scope     `mapstructure:"-"`
	Action CheckKind `mapstructure:"action"`
	// Tag is the display form of the tag, TagPath the flattened tag path used to address the fact base.
	Tag     string `mapstructure:"tag"`
	TagPath string `mapstructure:"tag_ds"`
	TagName string `mapstructure:"tag_name"`
	// ActionText is the expected text for text and pixel checks.
	ActionText string `mapstructure:"action_text"`
	// Value is the expected (original) value: a date, UID, patient ID or digest.
	Value string `mapstructure:"value"`
	// TopLeft and BottomRight bound the pixel region of a pixels_hidden check as [x, y].
	TopLeft     []int `mapstructure:"top_left"`
	BottomRight []int `mapstructure:"bottom_right"`

	Category `mapstructure:",squash"`
}
