package database

import "gorm.io/gorm"

// LinkErrors is the defect list and manual override carried by every
// push↔commit and push↔issue link.
type LinkErrors struct {
	Errors       ErrorList `gorm:"column:errors_json;type:text" json:"errors"`
	IgnoreErrors bool      `gorm:"default:false" json:"ignore_errors"`
}

// SetErrorList replaces the defect list. Setting an identical set is a no-op;
// setting a different one clears the ignore flag, since ignoring applies to a
// specific defect configuration, not permanently.
func (l *LinkErrors) SetErrorList(list []string) {
	deduped := DedupErrors(list)
	if SameErrorSet(l.Errors, deduped) {
		return
	}
	l.Errors = deduped
	l.IgnoreErrors = false
}

// HasErrors reports whether the link carries any defects
func (l *LinkErrors) HasErrors() bool {
	return len(l.Errors) > 0
}

// HasUnignoredErrors reports whether the link carries defects that count
// toward the push verdict.
func (l *LinkErrors) HasUnignoredErrors() bool {
	return l.HasErrors() && !l.IgnoreErrors
}

// scopeWithErrors narrows a link-table query to rows with a non-empty defect
// list.
func scopeWithErrors(db *gorm.DB) *gorm.DB {
	return db.Where("errors_json IS NOT NULL AND errors_json != '' AND errors_json != '[]'")
}

// scopeWithUnignoredErrors further narrows to rows whose defects are not
// manually ignored.
func scopeWithUnignoredErrors(db *gorm.DB) *gorm.DB {
	return scopeWithErrors(db).Where("ignore_errors = ?", false)
}
