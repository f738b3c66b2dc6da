package cmd

import (
	"fmt"
	"time"
)

// datePrecisions are the accepted date argument layouts, with the length of
// the period each one names.
var datePrecisions = []struct {
	layout string
	next   func(time.Time) time.Time
}{
	{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
	{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
	{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
}

// parseDateRangeFromArgs turns "yyyy", "yyyy-mm" or "yyyy-mm-dd" arguments
// into a window. A single argument covers the whole period it names; two
// arguments are the start and the end.
func parseDateRangeFromArgs(args []string) (start time.Time, end time.Time, err error) {
	switch len(args) {
	case 1:
		var next func(time.Time) time.Time
		start, next, err = parseSingleDatestring(args[0])
		if err != nil {
			return
		}
		end = next(start)

	case 2:
		if start, _, err = parseSingleDatestring(args[0]); err != nil {
			return
		}
		if end, _, err = parseSingleDatestring(args[1]); err != nil {
			return
		}
		if !end.After(start) {
			err = fmt.Errorf("End date %s is not after start date %s", args[1], args[0])
		}

	default:
		err = fmt.Errorf("Expected one or two date arguments")
	}
	return
}

func parseSingleDatestring(ds string) (time.Time, func(time.Time) time.Time, error) {
	for _, p := range datePrecisions {
		if len(ds) != len(p.layout) {
			continue
		}
		date, err := time.Parse(p.layout, ds)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("Invalid format: %q: %w", ds, err)
		}
		return date, p.next, nil
	}
	return time.Time{}, nil, fmt.Errorf("Invalid format: %q", ds)
}
