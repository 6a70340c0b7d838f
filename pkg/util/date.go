package util

import (
	"fmt"
	"strconv"
	"time"
)

const DateLayout = "2006-01-02"

// timeLayouts are tried in order by ParseTime. Values without a zone are UTC.
var timeLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTime accepts a plain date, RFC3339 (with or without fraction), a
// space or T separated timestamp without zone, or positive unix seconds.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseDate is ParseTime with an error for unparseable input.
func ParseDate(s string) (time.Time, error) {
	t, ok := ParseTime(s)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// ClampRange bounds [start, end] to the data window and to at most maxLookbackDays
// before end. Either bound of the window may be zero to disable it.
func ClampRange(start, end, windowStart, windowEnd time.Time, maxLookbackDays int) (time.Time, time.Time) {
	if !windowStart.IsZero() && start.Before(windowStart) {
		start = windowStart
	}
	if !windowEnd.IsZero() && end.After(windowEnd) {
		end = windowEnd
	}
	if maxLookbackDays > 0 {
		if floor := end.AddDate(0, 0, -maxLookbackDays); start.Before(floor) {
			start = floor
		}
	}
	return start, end
}
