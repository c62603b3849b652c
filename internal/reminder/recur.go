package reminder

import "time"

// NextFire computes the fire time that follows prev for the given recurrence.
// It returns false for RecurOnce (no successor).
//
// Monthly and yearly steps are calendar-aware: the day-of-month is preserved
// where the target month has it and clamped to the month's last day otherwise
// (Jan 31 -> Feb 29 in a leap year). Time-of-day is never touched.
func NextFire(prev time.Time, r Recurrence) (time.Time, bool) {
	switch r {
	case RecurDaily:
		return prev.AddDate(0, 0, 1), true
	case RecurWeekly:
		return prev.AddDate(0, 0, 7), true
	case RecurMonthly:
		return addMonths(prev, 1), true
	case RecurYearly:
		return addMonths(prev, 12), true
	default:
		return time.Time{}, false
	}
}

// addMonths is AddDate(0, n, 0) with clamping instead of Go's normalization
// (time.Time.AddDate would turn Jan 31 + 1 month into Mar 2/3).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	month := int(m) - 1 + n
	y += month / 12
	month = month % 12
	if month < 0 {
		month += 12
		y--
	}
	tm := time.Month(month + 1)
	if last := daysIn(y, tm); d > last {
		d = last
	}
	h, min, sec := t.Clock()
	return time.Date(y, tm, d, h, min, sec, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
