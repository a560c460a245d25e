package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/IssueForge/internal/domain"
)

// resetTimePattern matches "5am", "5:30am", "12:16 PM", "07:05 Am" and an
// optional trailing zone such as "(Europe/Berlin)".
var resetTimePattern = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\.?\s*(?:\(([^)]+)\))?\s*$`)

// ResetTime is a wall-clock time of day reported by the agent when its usage
// window closes.
type ResetTime struct {
	Hour   int
	Minute int
	// Location is nil when the agent did not name a zone.
	Location *time.Location
}

// ParseResetTime parses a 12-hour clock time into a 24-hour ResetTime.
// An unknown zone name is ignored and local time is used instead.
func ParseResetTime(s string) (ResetTime, error) {
	m := resetTimePattern.FindStringSubmatch(s)
	if m == nil {
		return ResetTime{}, fmt.Errorf("parse reset time %q: %w", s, domain.ErrValidation)
	}

	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour < 1 || hour > 12 || minute > 59 {
		return ResetTime{}, fmt.Errorf("parse reset time %q: out of range: %w", s, domain.ErrValidation)
	}

	pm := strings.EqualFold(m[3], "p")
	switch {
	case hour == 12 && !pm:
		hour = 0
	case hour != 12 && pm:
		hour += 12
	}

	rt := ResetTime{Hour: hour, Minute: minute}
	if m[4] != "" {
		if loc, err := time.LoadLocation(strings.TrimSpace(m[4])); err == nil {
			rt.Location = loc
		}
	}
	return rt, nil
}

// CalculateWaitTime returns how long to wait from now until the next
// occurrence of rt. A time already past today rolls over to tomorrow.
func CalculateWaitTime(rt ResetTime, now time.Time) time.Duration {
	loc := rt.Location
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), rt.Hour, rt.Minute, 0, 0, loc)
	if !target.After(local) {
		target = target.AddDate(0, 0, 1)
	}
	return target.Sub(now)
}
