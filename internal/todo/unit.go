package todo

import "strings"

// Unit is the repeat interval unit of a reminder.
type Unit string

const (
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
	Weeks   Unit = "weeks"
	Months  Unit = "months"
	Years   Unit = "years"
)

var unitMinutes = map[Unit]int{
	Minutes: 1,
	Hours:   60,
	Days:    24 * 60,
	Weeks:   7 * 24 * 60,
	Months:  30 * 24 * 60,
}

// ParseUnit accepts the unit names above, case-insensitively.
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := unitMinutes[u]; ok || u == Years {
		return u, nil
	}
	return "", ErrUnknownUnit
}

// Calendar reports whether the unit recurs on the calendar rather than at a
// fixed number of minutes.
func (u Unit) Calendar() bool { return u == Years }

// Minutes converts n units to minutes. Weeks are 7 days and months 30 days.
// Calendar units return 0.
func (u Unit) Minutes(n int) int { return unitMinutes[u] * n }
