package todo

import "errors"

// Domain errors. They are shown to the user and never retried.
var (
	ErrBlankName     = errors.New("task name is required")
	ErrDateFormat    = errors.New("unparsable date")
	ErrDateRange     = errors.New("date is not in the future or too far ahead")
	ErrNotPositive   = errors.New("value must be a positive integer")
	ErrRemindOverlap = errors.New("pre-deadline reminders end after the deadline")
	ErrUnknownUnit   = errors.New("unknown repeat unit")
	ErrRepeatRange   = errors.New("repeat interval is longer than the planning horizon")
	ErrReservedName  = errors.New("task name uses a reserved prefix")
)

// IsDomain reports whether err is one of the package's domain errors.
func IsDomain(err error) bool {
	for _, d := range []error{ErrBlankName, ErrDateFormat, ErrDateRange, ErrNotPositive, ErrRemindOverlap, ErrUnknownUnit, ErrRepeatRange, ErrReservedName} {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
