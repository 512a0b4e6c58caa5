package repository

import "time"

const dayLayout = "2006-01-02"

// TradingDay returns the calendar day (YYYY-MM-DD) of ts in loc.
// A nil loc means UTC.
func TradingDay(ts time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).Format(dayLayout)
}

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(dayLayout, s)
}
