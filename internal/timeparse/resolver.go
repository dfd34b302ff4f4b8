// Package timeparse resolves natural-language time expressions from a raw
// transcript against a reference instant.
//
// The language model is never trusted with relative times, so the extraction
// stage re-derives every candidate's schedule through Resolve. The grammar is
// deliberately small: relative durations, "tomorrow [at ...]", "next week".
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativeRe = regexp.MustCompile(`(?i)\bin\s+(\d+|[a-z]+)\s+(minutes?|mins?|hours?|hrs?|days?)\b`)
	tomorrowRe = regexp.MustCompile(`(?i)\btomorrow(?:\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?\b`)
	nextWeekRe = regexp.MustCompile(`(?i)\bnext\s+week\b`)
)

// Spelled-out cardinals. Minutes go to twenty because "in fifteen minutes" is
// common speech; hours and days stop at twelve.
var cardinals = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
}

const defaultHour = 9 // 09:00 when no explicit time is spoken

// Resolve maps text plus a reference instant to an absolute timestamp.
// Patterns are tried in priority order and the first match wins. The second
// return value is false when no time expression is present, meaning no
// reminder scheduling was requested.
func Resolve(text string, ref time.Time) (time.Time, bool) {
	if m := relativeRe.FindStringSubmatch(text); m != nil {
		if t, ok := resolveRelative(m, ref); ok {
			return t, true
		}
	}
	if m := tomorrowRe.FindStringSubmatch(text); m != nil {
		return resolveTomorrow(m, ref), true
	}
	if nextWeekRe.MatchString(text) {
		next := ref.AddDate(0, 0, 7)
		return time.Date(next.Year(), next.Month(), next.Day(), defaultHour, 0, 0, 0, ref.Location()), true
	}
	return time.Time{}, false
}

func resolveRelative(m []string, ref time.Time) (time.Time, bool) {
	quantity := strings.ToLower(m[1])
	spelled := false
	n, err := strconv.Atoi(quantity)
	if err != nil {
		var ok bool
		n, ok = cardinals[quantity]
		if !ok {
			return time.Time{}, false
		}
		spelled = true
	}
	if n <= 0 {
		return time.Time{}, false
	}

	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "min"):
		return ref.Add(time.Duration(n) * time.Minute), true
	case strings.HasPrefix(unit, "h"):
		if spelled && n > 12 {
			return time.Time{}, false
		}
		return ref.Add(time.Duration(n) * time.Hour), true
	case strings.HasPrefix(unit, "day"):
		if spelled && n > 12 {
			return time.Time{}, false
		}
		return ref.AddDate(0, 0, n), true
	}
	return time.Time{}, false
}

func resolveTomorrow(m []string, ref time.Time) time.Time {
	hour, minute := defaultHour, 0
	if m[1] != "" {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch strings.ToLower(m[3]) {
		case "pm":
			if hour != 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
	}
	next := ref.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, ref.Location())
}
