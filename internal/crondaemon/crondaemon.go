// Package crondaemon answers "is this cron expression due right now",
// delegating field-parsing semantics to a third-party matcher per domain
// §4.K rather than re-deriving them.
package crondaemon

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule is one ".decree/cron/<name>.md" entry: its file name and the cron
// expression read from it.
type Schedule struct {
	Name string
	Expr string
}

// IsDue reports whether expr matches at t, per standard five-field cron
// syntax ("minute hour day-of-month month day-of-week").
func IsDue(expr string, t time.Time) (bool, error) {
	due, err := gronx.IsDue(expr, t)
	if err != nil {
		return false, fmt.Errorf("crondaemon: invalid cron expression %q: %w", expr, err)
	}
	return due, nil
}

// DueSchedules filters schedules to those due at t, skipping (and not
// failing the scan on) any with a malformed expression.
func DueSchedules(schedules []Schedule, t time.Time) []Schedule {
	var due []Schedule
	for _, s := range schedules {
		ok, err := IsDue(s.Expr, t)
		if err != nil {
			continue
		}
		if ok {
			due = append(due, s)
		}
	}
	return due
}
