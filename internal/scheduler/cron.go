// Package scheduler drives per-schedule cron dispatch: a five-field
// cron grammar implemented directly (keeping timezone handling
// explicit and excluding L/# extensions) and a minute-granularity
// ticker.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldRange bounds valid values for one of the five cron fields.
type fieldRange struct {
	min, max int
}

var fieldRanges = [5]fieldRange{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 7},  // day of week (0 and 7 both Sunday)
}

// Schedule is a parsed five-field cron expression: each field holds
// the set of matching values.
type Schedule struct {
	minute, hour, dom, month, dow map[int]bool
	expr                          string
}

// Parse parses a five-field cron expression. Day-of-week 7 is folded
// into 0 (both mean Sunday).
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("scheduler: cron expression %q must have 5 fields, got %d", expr, len(fields))
	}

	sets := make([]map[int]bool, 5)
	for i, f := range fields {
		set, err := parseField(f, fieldRanges[i])
		if err != nil {
			return nil, fmt.Errorf("scheduler: cron expression %q field %d: %w", expr, i+1, err)
		}
		sets[i] = set
	}

	// Fold day-of-week 7 into 0.
	if sets[4][7] {
		sets[4][0] = true
		delete(sets[4], 7)
	}

	return &Schedule{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
		expr:   expr,
	}, nil
}

// Matches reports whether t (evaluated in its own location) satisfies
// every field of the schedule.
func (s *Schedule) Matches(t time.Time) bool {
	dow := int(t.Weekday())
	return s.minute[t.Minute()] &&
		s.hour[t.Hour()] &&
		s.dom[t.Day()] &&
		s.month[int(t.Month())] &&
		s.dow[dow]
}

// String returns the original expression.
func (s *Schedule) String() string { return s.expr }

// Next returns the first instant strictly after from that the schedule
// matches, evaluated in from's location. ok is false when no match
// exists within the next four years (e.g. "0 0 30 2 *").
func (s *Schedule) Next(from time.Time) (next time.Time, ok bool) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.month[int(t.Month())] || !s.dom[t.Day()] || !s.dow[int(t.Weekday())] {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !s.hour[t.Hour()] {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !s.minute[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// parseField parses one comma-separated list of literals, ranges,
// and step expressions into the set of values it matches.
func parseField(field string, bounds fieldRange) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, fmt.Errorf("empty field part")
		}

		base, step, err := splitStep(part)
		if err != nil {
			return nil, err
		}

		lo, hi, err := parseRange(base, bounds)
		if err != nil {
			return nil, err
		}

		for v := lo; v <= hi; v += step {
			if v < bounds.min || v > bounds.max {
				return nil, fmt.Errorf("value %d out of range [%d,%d]", v, bounds.min, bounds.max)
			}
			set[v] = true
		}
	}
	return set, nil
}

// splitStep splits "a-b/n" or "*/n" into its base ("a-b" or "*") and
// step n (1 when absent).
func splitStep(part string) (base string, step int, err error) {
	idx := strings.IndexByte(part, '/')
	if idx < 0 {
		return part, 1, nil
	}
	base = part[:idx]
	step, err = strconv.Atoi(part[idx+1:])
	if err != nil || step <= 0 {
		return "", 0, fmt.Errorf("invalid step in %q", part)
	}
	return base, step, nil
}

// parseRange parses "*", a literal "5", or a range "a-b" into bounds.
func parseRange(base string, bounds fieldRange) (lo, hi int, err error) {
	if base == "*" {
		return bounds.min, bounds.max, nil
	}
	if idx := strings.IndexByte(base, '-'); idx >= 0 {
		lo, err = strconv.Atoi(base[:idx])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range start %q", base)
		}
		hi, err = strconv.Atoi(base[idx+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range end %q", base)
		}
		if lo > hi {
			return 0, 0, fmt.Errorf("range %q is inverted", base)
		}
		return lo, hi, nil
	}
	v, err := strconv.Atoi(base)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q", base)
	}
	return v, v, nil
}
