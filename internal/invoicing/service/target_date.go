package service

import "time"

// TargetDate is the calendar date one month after recorded in loc. The day is
// clamped to the end of a shorter month, so Jan 31 becomes the last day of February.
func TargetDate(recorded time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := recorded.In(loc)
	year, month, day := local.Date()

	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, 0, 0, 0, 0, time.UTC)
}
