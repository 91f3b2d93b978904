package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Schedule is the parsed form of a schedule string such as daily_reset.
// Exactly one of Cron or Every is set.
type Schedule struct {
	Cron  string
	Every time.Duration
}

// IsInterval reports whether the schedule is a fixed interval rather than a
// cron expression.
func (s Schedule) IsInterval() bool { return s.Every > 0 }

// ParseSchedule accepts three forms:
//   - cron expressions, including descriptors: "0 1 * * *", "@daily"
//   - Go durations: "55m", "2h30m"
//   - clock-style intervals "HH:MM": "01:30" means every ninety minutes
//
// A case-insensitive "cron:", "interval:" or "every:" prefix forces the form.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errors.New("schedule required")
	}

	if expr, ok := cutPrefixFold(s, "cron:"); ok {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			return Schedule{}, errors.New(`empty schedule after "cron:"`)
		}
		return Schedule{Cron: expr}, nil
	}
	for _, prefix := range []string{"interval:", "every:"} {
		if v, ok := cutPrefixFold(s, prefix); ok {
			d, err := parseInterval(strings.TrimSpace(v))
			if err != nil {
				return Schedule{}, err
			}
			return Schedule{Every: d}, nil
		}
	}

	// Bare cron expressions contain spaces or start with a descriptor.
	if strings.HasPrefix(s, "@") || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return Schedule{Cron: s}, nil
	}

	d, err := parseInterval(s)
	if err != nil {
		if isClockShaped(s) {
			return Schedule{}, err
		}
		return Schedule{}, fmt.Errorf(
			"invalid schedule %q (want cron like \"0 1 * * *\", HH:MM like \"02:30\", or a duration like \"55m\")", raw)
	}
	return Schedule{Every: d}, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, errors.New("interval required")
	}
	if isClockShaped(v) {
		return parseClock(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (want HH:MM or a duration like \"55m\")", v)
	}
	if d <= 0 {
		return 0, errors.New("interval must be > 0")
	}
	return d, nil
}

// isClockShaped matches "H:MM" through "HHH:MM" with digit-only parts.
func isClockShaped(v string) bool {
	hh, mm, found := strings.Cut(v, ":")
	return found && len(hh) >= 1 && len(hh) <= 3 && len(mm) == 2 &&
		allDigits(hh) && allDigits(mm)
}

// parseClock reads a clock-shaped string as an interval length, so "02:30"
// is two and a half hours, not a time of day.
func parseClock(v string) (time.Duration, error) {
	hh, mm, _ := strings.Cut(v, ":")
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if m > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	if d == 0 {
		return 0, errors.New("interval must be > 0")
	}
	return d, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
