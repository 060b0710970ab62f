package calendar

import (
	"fmt"
	"time"
)

// RecurrenceType enumerates the supported recurrence patterns. Grounded on
// original_source/src/recs.c's recurrence constants and the weekday-skipping
// loops in matchtime.
type RecurrenceType int

const (
	RecurrenceSingle RecurrenceType = iota
	RecurrenceDaily
	RecurrenceWeekly
	RecurrenceMonthly
	RecurrenceMonFri
	RecurrenceSatSun
	RecurrenceMonThu
)

// String renders the recurrence type for logging and journal serialization.
func (t RecurrenceType) String() string {
	switch t {
	case RecurrenceSingle:
		return "single"
	case RecurrenceDaily:
		return "daily"
	case RecurrenceWeekly:
		return "weekly"
	case RecurrenceMonthly:
		return "monthly"
	case RecurrenceMonFri:
		return "mon-fri"
	case RecurrenceSatSun:
		return "sat-sun"
	case RecurrenceMonThu:
		return "mon-thu"
	default:
		return "unknown"
	}
}

// ParseRecurrenceType parses the wire/journal representation produced by
// String back into a RecurrenceType.
func ParseRecurrenceType(s string) (RecurrenceType, error) {
	switch s {
	case "single":
		return RecurrenceSingle, nil
	case "daily":
		return RecurrenceDaily, nil
	case "weekly":
		return RecurrenceWeekly, nil
	case "monthly":
		return RecurrenceMonthly, nil
	case "mon-fri":
		return RecurrenceMonFri, nil
	case "sat-sun":
		return RecurrenceSatSun, nil
	case "mon-thu":
		return RecurrenceMonThu, nil
	default:
		return RecurrenceSingle, fmt.Errorf("calendar: unknown recurrence type %q", s)
	}
}

// ManglingMode selects how a recurring occurrence's title/filename is
// derived from the template's base name.
type ManglingMode int

const (
	ManglingDate   ManglingMode = iota // base + prefix + YYYY-MM-DD
	ManglingCount                      // base + prefix + NN-MM
	ManglingEpisode                    // base + "E" + NN
)

// IsWeekdayValid reports whether d is a day the recurrence type permits.
func IsWeekdayValid(t RecurrenceType, d time.Time) bool {
	switch t {
	case RecurrenceMonFri:
		wd := d.Weekday()
		return wd >= time.Monday && wd <= time.Friday
	case RecurrenceSatSun:
		wd := d.Weekday()
		return wd == time.Saturday || wd == time.Sunday
	case RecurrenceMonThu:
		wd := d.Weekday()
		return wd >= time.Monday && wd <= time.Thursday
	default:
		return true
	}
}

// AdjustInitial bumps (start, end) forward, preserving their duration and
// local wall-clock time-of-day, until start lands on a day the recurrence
// type permits. Non-weekday-constrained types are returned unchanged.
func AdjustInitial(t RecurrenceType, start, end time.Time) (time.Time, time.Time) {
	duration := end.Sub(start)
	for !IsWeekdayValid(t, start) {
		start = normalize(start.AddDate(0, 0, 1))
		end = start.Add(duration)
	}
	return start, end
}

// Advance computes the next (start, end) pair for the recurrence type,
// following the type-specific rule in the scheduler's recurrence expander:
// daily +1 day, weekly +7 days, monthly +1 calendar month (keep
// day-of-month), Mon-Fri/Sat-Sun/Mon-Thu skip to the next permitted weekday.
// All advances go through a broken-down -> instant -> broken-down
// normalization step so month/day wraparound and DST transitions are
// applied by the local calendar rather than by fixed-seconds arithmetic;
// the local wall-clock hour is preserved across DST transitions as
// specified, even though that means the elapsed real time may shift by an
// hour on the transition day.
func Advance(t RecurrenceType, start, end time.Time) (time.Time, time.Time) {
	duration := end.Sub(start)

	switch t {
	case RecurrenceDaily:
		start = normalize(start.AddDate(0, 0, 1))
	case RecurrenceWeekly:
		start = normalize(start.AddDate(0, 0, 7))
	case RecurrenceMonthly:
		// Advance by one month on the broken-down time, then renormalize,
		// rather than incrementing a raw month integer in place.
		start = normalize(start.AddDate(0, 1, 0))
	case RecurrenceMonFri, RecurrenceSatSun, RecurrenceMonThu:
		start = normalize(start.AddDate(0, 0, 1))
		for !IsWeekdayValid(t, start) {
			start = normalize(start.AddDate(0, 0, 1))
		}
	default:
		// RecurrenceSingle never advances; callers loop exactly once.
	}

	end = start.Add(duration)
	return start, end
}

// normalize forces a broken-down-time round trip through the local
// location, letting time.Date's internal renormalization resolve any
// month/day overflow (e.g. Jan 31 + 1 month) and DST fold/gap produced by
// the preceding arithmetic.
func normalize(t time.Time) time.Time {
	loc := t.Location()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// Mangle derives the concrete title/filename (base plus suffix) for
// occurrence index (1-based) out of total occurrences, under the given mode
// and date.
func Mangle(mode ManglingMode, prefix string, base string, index, total, startNumber int, date time.Time) string {
	switch mode {
	case ManglingCount:
		nn := index + startNumber - 1
		mm := total + startNumber - 1
		return fmt.Sprintf("%s%s%02d-%02d", base, prefix, nn, mm)
	case ManglingEpisode:
		nn := index + startNumber - 1
		return fmt.Sprintf("%sE%02d", base, nn)
	default: // ManglingDate
		return fmt.Sprintf("%s%s%s", base, prefix, date.Format("2006-01-02"))
	}
}
