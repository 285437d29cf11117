package deidaudit

// Result is the outcome of one check against one record, or against the absence of a record.
// Passed and Score are nil when the check could not be decided automatically (pixel checks with no
// text recognizer); FileValue is nil when the check never looked at the record.
type Result struct {
	CheckIndex string
	Passed     *bool
	Score      *float64
	Action     CheckKind
	ActionText string
	Scope      Scope

	FileValue   *string
	AnswerValue string

	Tag     string
	TagPath string
	TagName string

	Category

	Identity
	FileName string
	FilePath string
}

// Outcome builds the passed/score pair of a result.
func Outcome(passed bool, score float64) (*bool, *float64) {
	return &passed, &score
}

// NewResult fills the check side of a result. The caller sets the outcome and record fields.
func NewResult(c Check) Result {
	return Result{
		CheckIndex:  c.Index,
		Action:      c.Action,
		ActionText:  c.ActionText,
		Scope:       c.Scope,
		AnswerValue: c.Value,
		Tag:         c.Tag,
		TagPath:     c.TagPath,
		TagName:     c.TagName,
		Category:    c.Category,
	}
}

// Subject ties a record's identity and file to its results.
func (r *Result) Subject(rec *Record) {
	r.Identity = rec.Identity
	r.FileName = rec.File.Name
	r.FilePath = rec.File.Path
}
