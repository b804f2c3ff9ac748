// Package workday implements the weekend-aware deadline arithmetic used by
// snoozing and the auto-unassign sweep. Saturday and Sunday never count as
// elapsed time and no deadline may land on them.
package workday

import "time"

// RollForward advances a weekend timestamp to the following Monday,
// preserving the clock time. Weekday timestamps pass through unchanged.
func RollForward(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	default:
		return t
	}
}

// SnoozeTarget computes the wake-up time for a snooze of the given number of
// calendar days: the naive target day at local noon, rolled forward to Monday
// when it lands on a weekend.
func SnoozeTarget(from time.Time, days int) time.Time {
	if days < 1 {
		days = 1
	}
	target := from.AddDate(0, 0, days)
	target = time.Date(target.Year(), target.Month(), target.Day(), 12, 0, 0, 0, target.Location())
	return RollForward(target)
}

// AddBusinessDays advances t by n week days. A start on a weekend first rolls
// forward to Monday, so the count only ever spans working days.
func AddBusinessDays(t time.Time, n int) time.Time {
	t = RollForward(t)
	for i := 0; i < n; i++ {
		t = t.AddDate(0, 0, 1)
		t = RollForward(t)
	}
	return t
}
