package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
)

// ScheduleKind distinguishes the five schedule expression forms (spec §6).
type ScheduleKind int

const (
	// ScheduleDuration is "N seconds|minutes|hours|days|weeks|months|years|decades".
	ScheduleDuration ScheduleKind = iota
	// ScheduleNextTime is "HH:MM:SS": the next occurrence of that wall clock time.
	ScheduleNextTime
	// ScheduleNextMonthDayTime is "M/D HH:MM:SS".
	ScheduleNextMonthDayTime
	// ScheduleRandom is "Random N:M": uniform integer seconds in [N, M).
	ScheduleRandom
	// ScheduleOnce is "Once": a single immediate run at startup.
	ScheduleOnce
)

// Schedule is a parsed vacuum schedule expression. Exactly one of Wait,
// (RandomMin, RandomMax) is meaningful, selected by Kind; ScheduleOnce uses
// neither.
type Schedule struct {
	Kind      ScheduleKind
	Wait      time.Duration // time until the next run, for Duration/NextTime/NextMonthDayTime
	RandomMin int64         // seconds, for Random
	RandomMax int64         // seconds, for Random
}

// ParseSchedule parses a vacuum schedule expression (spec §6), ported from
// the original's parse_schedule: relative duration, "HH:MM:SS",
// "M/D HH:MM:SS", "Random N:M", or "Once", re-expressed with Go's time
// package instead of the original's manual duration arithmetic. now is
// passed in rather than read from the clock so the parser stays pure and
// testable.
func ParseSchedule(input string, now time.Time) (Schedule, error) {
	input = strings.TrimSpace(input)

	if sched, ok, err := parseRelativeDuration(input); ok || err != nil {
		return sched, err
	}
	if sched, ok := parseNextTime(input, now); ok {
		return sched, nil
	}
	if sched, ok, err := parseNextMonthDayTime(input, now); ok || err != nil {
		return sched, err
	}
	if sched, ok, err := parseRandom(input); ok || err != nil {
		return sched, err
	}
	if strings.EqualFold(input, "once") {
		return Schedule{Kind: ScheduleOnce}, nil
	}
	return Schedule{}, tytoerr.New(tytoerr.ScheduleParse, "database.ParseSchedule",
		fmt.Sprintf("unrecognized schedule expression %q", input))
}

func parseRelativeDuration(input string) (Schedule, bool, error) {
	numStr, unit, found := strings.Cut(input, " ")
	if !found {
		return Schedule{}, false, nil
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return Schedule{}, false, nil
	}
	if num <= 0 {
		return Schedule{}, true, tytoerr.New(tytoerr.ScheduleParse, "database.parseRelativeDuration",
			"duration count must be positive")
	}
	var d time.Duration
	switch strings.ToLower(unit) {
	case "seconds":
		d = time.Duration(num) * time.Second
	case "minutes":
		d = time.Duration(num) * time.Minute
	case "hours":
		d = time.Duration(num) * time.Hour
	case "days":
		d = time.Duration(num) * 24 * time.Hour
	case "weeks":
		d = time.Duration(num) * 7 * 24 * time.Hour
	case "months":
		d = time.Duration(num) * 30 * 24 * time.Hour
	case "years":
		d = time.Duration(num) * 365 * 24 * time.Hour
	case "decades":
		d = time.Duration(num) * 3650 * 24 * time.Hour
	default:
		return Schedule{}, false, nil
	}
	return Schedule{Kind: ScheduleDuration, Wait: d}, true, nil
}

const wallClockLayout = "15:04:05"

func parseNextTime(input string, now time.Time) (Schedule, bool) {
	t, err := time.Parse(wallClockLayout, input)
	if err != nil {
		return Schedule{}, false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return Schedule{Kind: ScheduleNextTime, Wait: target.Sub(now)}, true
}

func parseNextMonthDayTime(input string, now time.Time) (Schedule, bool, error) {
	dateStr, timeStr, found := strings.Cut(input, " ")
	if !found {
		return Schedule{}, false, nil
	}
	monthStr, dayStr, found := strings.Cut(dateStr, "/")
	if !found {
		return Schedule{}, false, nil
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return Schedule{}, false, nil
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return Schedule{}, false, nil
	}
	wallClock, err := time.Parse(wallClockLayout, timeStr)
	if err != nil {
		return Schedule{}, false, nil
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Schedule{}, true, tytoerr.New(tytoerr.ScheduleParse, "database.parseNextMonthDayTime",
			fmt.Sprintf("month/day out of range: %d/%d", month, day))
	}
	year := now.Year()
	target := time.Date(year, time.Month(month), day, wallClock.Hour(), wallClock.Minute(), wallClock.Second(), 0, now.Location())
	if !target.After(now) {
		target = time.Date(year+1, time.Month(month), day, wallClock.Hour(), wallClock.Minute(), wallClock.Second(), 0, now.Location())
	}
	return Schedule{Kind: ScheduleNextMonthDayTime, Wait: target.Sub(now)}, true, nil
}

func parseRandom(input string) (Schedule, bool, error) {
	rest, found := cutPrefixFold(input, "random ")
	if !found {
		return Schedule{}, false, nil
	}
	minStr, maxStr, found := strings.Cut(rest, ":")
	if !found {
		return Schedule{}, true, tytoerr.New(tytoerr.ScheduleParse, "database.parseRandom", "expected Random N:M")
	}
	min, err := strconv.ParseInt(minStr, 10, 64)
	if err != nil {
		return Schedule{}, true, tytoerr.New(tytoerr.ScheduleParse, "database.parseRandom", "invalid minimum")
	}
	max, err := strconv.ParseInt(maxStr, 10, 64)
	if err != nil {
		return Schedule{}, true, tytoerr.New(tytoerr.ScheduleParse, "database.parseRandom", "invalid maximum")
	}
	if min < 0 || min >= max {
		return Schedule{}, true, tytoerr.New(tytoerr.ScheduleParse, "database.parseRandom",
			"expected 0 <= N < M")
	}
	return Schedule{Kind: ScheduleRandom, RandomMin: min, RandomMax: max}, true, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
