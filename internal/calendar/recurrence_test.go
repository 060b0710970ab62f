package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceDaily(t *testing.T) {
	start := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	next, nextEnd := Advance(RecurrenceDaily, start, end)
	assert.Equal(t, time.Date(2026, 3, 3, 20, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Hour, nextEnd.Sub(next))
}

func TestAdvanceWeekly(t *testing.T) {
	start := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	next, _ := Advance(RecurrenceWeekly, start, end)
	assert.Equal(t, time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC), next)
}

func TestAdvanceMonthlyNormalizesDayOverflow(t *testing.T) {
	start := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	next, _ := Advance(RecurrenceMonthly, start, end)
	// January 31 + 1 month normalizes to March 3 (February has no 31st);
	// this is the documented renormalize-through-time.Date behavior rather
	// than a clamp to Feb 28/29.
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), next)
}

func TestAdvanceMonFriSkipsWeekend(t *testing.T) {
	friday := time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC)
	require.Equal(t, time.Friday, friday.Weekday())
	end := friday.Add(time.Hour)

	next, _ := Advance(RecurrenceMonFri, friday, end)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 20, next.Hour())
}

func TestAdvanceSatSunSkipsWeekdays(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Saturday, saturday.Weekday())
	end := saturday.Add(time.Hour)

	next, _ := Advance(RecurrenceSatSun, saturday, end)
	assert.Equal(t, time.Sunday, next.Weekday())
}

func TestAdvanceMonThuSkipsFriSatSun(t *testing.T) {
	thursday := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Thursday, thursday.Weekday())
	end := thursday.Add(time.Hour)

	next, _ := Advance(RecurrenceMonThu, thursday, end)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestAdjustInitialBumpsToValidWeekday(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 20, 0, 0, 0, time.UTC)
	end := saturday.Add(time.Hour)

	start, newEnd := AdjustInitial(RecurrenceMonFri, saturday, end)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, time.Hour, newEnd.Sub(start))
}

func TestAdjustInitialNoopForDaily(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 20, 0, 0, 0, time.UTC)
	end := saturday.Add(time.Hour)

	start, _ := AdjustInitial(RecurrenceDaily, saturday, end)
	assert.Equal(t, saturday, start)
}

func TestMangleDate(t *testing.T) {
	date := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)
	got := Mangle(ManglingDate, "_", "news", 1, 4, 1, date)
	assert.Equal(t, "news_2026-03-09", got)
}

func TestMangleCount(t *testing.T) {
	got := Mangle(ManglingCount, "_", "news", 2, 4, 1, time.Time{})
	assert.Equal(t, "news_02-04", got)
}

func TestMangleEpisode(t *testing.T) {
	got := Mangle(ManglingEpisode, "_", "news", 3, 4, 1, time.Time{})
	assert.Equal(t, "newsE03", got)
}

func TestParseRecurrenceTypeRoundTrip(t *testing.T) {
	for _, rt := range []RecurrenceType{
		RecurrenceSingle, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly,
		RecurrenceMonFri, RecurrenceSatSun, RecurrenceMonThu,
	} {
		parsed, err := ParseRecurrenceType(rt.String())
		require.NoError(t, err)
		assert.Equal(t, rt, parsed)
	}
}

func TestParseRecurrenceTypeUnknown(t *testing.T) {
	_, err := ParseRecurrenceType("fortnightly")
	assert.Error(t, err)
}
