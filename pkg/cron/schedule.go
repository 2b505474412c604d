// Package cron implements the interval scheduler: a parser for 5- and
// 6-field cron expressions (an optional leading seconds field before
// minute hour day-of-month month day-of-week), a job registry, and a
// single ticker that fires matching jobs.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Second is nil for a 5-field
// expression; MatchDate then matches only second 0 of each matching
// minute, so a 5-field job fires once per minute, not every second.
type Schedule struct {
	Second     []int // nil ⇒ 5-field form
	Minute     []int
	Hour       []int
	DayOfMonth []int
	Month      []int
	DayOfWeek  []int
}

// Parse accepts both field counts: when expr has more than 5
// whitespace-separated tokens it tries the 6-field interpretation
// first (s m h dom mon dow) and falls back to 5-field if that fails to
// parse; 5 tokens are always 5-field.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) == 5 {
		return parse5(fields)
	}
	if len(fields) > 5 {
		if s, err := parse6(fields[:6]); err == nil {
			return s, nil
		}
		if len(fields) >= 5 {
			return parse5(fields[:5])
		}
	}
	return nil, fmt.Errorf("cron: expected 5 or 6 fields, got %d", len(fields))
}

func parse5(fields []string) (*Schedule, error) {
	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cron: minute: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cron: hour: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-month: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cron: month: %w", err)
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-week: %w", err)
	}
	return &Schedule{Minute: minute, Hour: hour, DayOfMonth: dom, Month: month, DayOfWeek: dow}, nil
}

func parse6(fields []string) (*Schedule, error) {
	second, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cron: second: %w", err)
	}
	s, err := parse5(fields[1:])
	if err != nil {
		return nil, err
	}
	s.Second = second
	return s, nil
}

// MatchDate reports whether t falls on a tick this schedule should fire.
func (s *Schedule) MatchDate(t time.Time) bool {
	if s.Second == nil {
		if t.Second() != 0 {
			return false
		}
	} else if !contains(s.Second, t.Second()) {
		return false
	}
	return contains(s.Minute, t.Minute()) &&
		contains(s.Hour, t.Hour()) &&
		s.matchDay(t) &&
		contains(s.Month, int(t.Month()))
}

// matchDay applies cron's day rule: when both day-of-month and
// day-of-week are restricted, either one matching is enough.
func (s *Schedule) matchDay(t time.Time) bool {
	dom := contains(s.DayOfMonth, t.Day())
	dow := contains(s.DayOfWeek, int(t.Weekday()))
	if len(s.DayOfMonth) < 31 && len(s.DayOfWeek) < 7 {
		return dom || dow
	}
	return dom && dow
}

// Next returns the next fire time strictly after from.
func (s *Schedule) Next(from time.Time) time.Time {
	step := time.Minute
	if s.Second != nil {
		step = time.Second
	}
	t := from.Truncate(step).Add(step)
	limit := t.Add(4 * 365 * 24 * time.Hour)

	for t.Before(limit) {
		if !contains(s.Month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.matchDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !contains(s.Hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !contains(s.Minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		if s.Second != nil && !contains(s.Second, t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t
	}
	return time.Time{}
}

func contains(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

func parseField(field string, min, max int) ([]int, error) {
	var result []int
	seen := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		vals, err := parsePart(part, min, max)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				result = append(result, v)
			}
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty field")
	}
	sortInts(result)
	return result, nil
}

func parsePart(part string, min, max int) ([]int, error) {
	var step int
	if idx := strings.Index(part, "/"); idx >= 0 {
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step %q", part[idx+1:])
		}
		step = s
		part = part[:idx]
	}

	var low, high int
	switch {
	case part == "*":
		low, high = min, max
	case strings.Contains(part, "-"):
		idx := strings.Index(part, "-")
		var err error
		low, err = strconv.Atoi(part[:idx])
		if err != nil {
			return nil, fmt.Errorf("invalid range start %q", part[:idx])
		}
		high, err = strconv.Atoi(part[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid range end %q", part[idx+1:])
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		if step > 0 {
			low, high = v, max
		} else {
			if v < min || v > max {
				return nil, fmt.Errorf("value %d out of range [%d, %d]", v, min, max)
			}
			return []int{v}, nil
		}
	}

	if low < min || high > max || low > high {
		return nil, fmt.Errorf("range %d-%d out of bounds [%d, %d]", low, high, min, max)
	}
	if step == 0 {
		step = 1
	}

	var vals []int
	for i := low; i <= high; i += step {
		vals = append(vals, i)
	}
	return vals, nil
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		key := a[i]
		j := i - 1
		for j >= 0 && a[j] > key {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = key
	}
}
