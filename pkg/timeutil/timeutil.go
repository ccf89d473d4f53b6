package timeutil

import (
	"fmt"
	"time"
)

// AddDays returns t moved forward by days calendar days in t's location.
// Month and DST boundaries are handled by date normalization, not by adding
// 24-hour periods, so the wall-clock time of day is preserved.
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// Overdue reports whether an open loan has passed its due date.
// Loans without a due date, or already returned, are never overdue.
func Overdue(dueDate, returnedAt *time.Time, now time.Time) bool {
	if returnedAt != nil || dueDate == nil {
		return false
	}
	return dueDate.Before(now)
}

// Relative formats t relative to the current time.
func Relative(t time.Time) string {
	return relativeTo(t, time.Now())
}

func relativeTo(t, now time.Time) string {
	d := now.Sub(t)
	future := d < 0
	if future {
		d = -d
	}

	var phrase string
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		phrase = plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		phrase = plural(int(d/time.Hour), "hour")
	default:
		phrase = plural(int(d/(24*time.Hour)), "day")
	}

	if future {
		return "in " + phrase
	}
	return phrase + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
