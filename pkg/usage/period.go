package usage

import "time"

// CurrentPeriod returns the calendar-month window containing now, in UTC.
// Quotas reset at the month boundary; the end bound is exclusive.
func CurrentPeriod(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
