package provider

import (
	"fmt"
	"time"
)

const (
	localDateTimeLayout = "2006-01-02T15:04:05"
	dateOnlyLayout      = "2006-01-02"
)

// parseEventTime parses the datetime shapes the providers emit: RFC 3339
// with trailing Z or explicit offset (fractional seconds tolerated), local
// time plus a separate timezone id (Graph style, up to 7 fractional
// digits), or a bare date. Go's parser accepts a fractional second after
// the seconds element even when the layout omits it, so two layouts cover
// all timed variants.
//
// When tzID cannot be resolved the configured fallback location is used
// rather than failing the event.
func parseEventTime(value, tzID string, fallback *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}

	loc := fallback
	if tzID != "" {
		if l, err := time.LoadLocation(tzID); err == nil {
			loc = l
		}
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(localDateTimeLayout, value, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateOnlyLayout, value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", value)
}

// startOfDay synthesizes the all-day timestamp for a bare date in the
// configured timezone.
func startOfDay(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateOnlyLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable all-day date %q", date)
	}
	return t, nil
}
