package scheduler

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvcaptd/tvcaptd/internal/calendar"
	"github.com/tvcaptd/tvcaptd/internal/journal"
	"github.com/tvcaptd/tvcaptd/internal/models"
	"github.com/tvcaptd/tvcaptd/internal/profile"
	"github.com/tvcaptd/tvcaptd/internal/storage"
	"github.com/tvcaptd/tvcaptd/pkg/chanid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(noopWriter{}, nil))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestScheduler(t *testing.T, now time.Time, numDevices int) *Scheduler {
	t.Helper()
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	j := journal.New(sandbox, "journal.xml")

	registry := profile.NewRegistry("default")
	registry.Replace(map[string]*profile.Record{
		"default": {Name: "default"},
		"hq":      {Name: "hq"},
	})

	resolver := chanid.NewStaticResolver(map[string]string{"BBC1": "bbc1", "ITV": "itv"})

	cfg := Config{
		NumDevices:           numDevices,
		MaxEntriesPerDevice:  4,
		MaxPerJobProfiles:    2,
		MaxRecordingDuration: 4 * time.Hour,
		MissedThreshold:      10 * time.Minute,
	}
	return New(cfg, calendar.FixedClock{At: now}, resolver, registry, j, testLogger())
}

func TestInsertSingleJob(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 2)

	seq, err := s.Insert(InsertRequest{
		DeviceHint: DeviceAny,
		Title:      "News",
		Filename:   "news",
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	jobs := s.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "News", jobs[0].Title)
	assert.Equal(t, []string{"default"}, jobs[0].Profiles)
}

func TestInsertRejectsEndBeforeStart(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint: DeviceAny,
		Channel:    "BBC1",
		TsStart:    now.Add(2 * time.Hour),
		TsEnd:      now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrEndBeforeStart)
}

func TestInsertRejectsTooLong(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint: DeviceAny,
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(6 * time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrTooLong)
}

func TestInsertRejectsStartInPast(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint: DeviceAny,
		Channel:    "BBC1",
		TsStart:    now.Add(-time.Hour),
		TsEnd:      now,
	})
	assert.ErrorIs(t, err, models.ErrStartInPast)
}

func TestInsertRejectsUnknownChannel(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint: DeviceAny,
		Channel:    "NOPE",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrUnknownChannel)
}

func TestInsertRejectsUnknownProfile(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint: DeviceAny,
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
		Profiles:   []string{"nonexistent"},
	})
	assert.ErrorIs(t, err, models.ErrUnknownProfile)
}

func TestInsertEndpointInclusiveCollision(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	_, err = s.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "ITV",
		TsStart:    now.Add(2 * time.Hour),
		TsEnd:      now.Add(3 * time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrCollides, "endpoint-equal interval must be treated as collision")
}

func TestInsertDeviceAnyPicksLowestFreeDevice(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 2)

	_, err := s.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	seq, err := s.Insert(InsertRequest{
		DeviceHint: DeviceAny,
		Channel:    "ITV",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	jobs := s.List()
	var found bool
	for _, j := range jobs {
		if j.SeqNbr == seq {
			found = true
			assert.Equal(t, 1, j.Device)
		}
	}
	assert.True(t, found)
}

func TestInsertQueueFull(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	for i := 0; i < 4; i++ {
		start := now.Add(time.Duration(i+1) * 2 * time.Hour)
		_, err := s.Insert(InsertRequest{
			DeviceHint: 0,
			Channel:    "BBC1",
			TsStart:    start,
			TsEnd:      start.Add(time.Hour),
		})
		require.NoError(t, err)
	}

	start := now.Add(20 * time.Hour)
	_, err := s.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "BBC1",
		TsStart:    start,
		TsEnd:      start.Add(time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrQueueFull)
}

func TestInsertQueueFullOnRecurringBatchAgainstPartiallyFilledQueue(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1) // MaxEntriesPerDevice: 4

	// Two singles already queued, well clear of where the recurring batch
	// below will land, so nothing collides.
	for i := 0; i < 2; i++ {
		start := now.Add(time.Duration(i+1) * 3 * time.Hour)
		_, err := s.Insert(InsertRequest{
			DeviceHint: 0,
			Channel:    "BBC1",
			TsStart:    start,
			TsEnd:      start.Add(time.Hour),
		})
		require.NoError(t, err)
	}

	// A 3-occurrence recurring template: 2 slots already used + 3 more
	// needed > 4 available, so this must be rejected as QueueFull even
	// though none of the 3 occurrences collides with anything.
	_, err := s.Insert(InsertRequest{
		DeviceHint:      0,
		Title:           "Soap",
		Filename:        "soap",
		Channel:         "ITV",
		TsStart:         now.Add(20 * time.Hour),
		TsEnd:           now.Add(21 * time.Hour),
		Recurrence:      true,
		RecurrenceType:  calendar.RecurrenceDaily,
		RecurrenceCount: 3,
	})
	assert.ErrorIs(t, err, models.ErrQueueFull)
	assert.NotErrorIs(t, err, models.ErrCollides)
}

func TestInsertRecurringDailyExpandsAndMangles(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint:      0,
		Title:           "Nightly News",
		Filename:        "news",
		Channel:         "BBC1",
		TsStart:         now.Add(time.Hour),
		TsEnd:           now.Add(2 * time.Hour),
		Recurrence:      true,
		RecurrenceType:  calendar.RecurrenceDaily,
		RecurrenceCount: 3,
		RecurrenceMangling: calendar.ManglingCount,
	})
	require.NoError(t, err)

	jobs := s.List()
	require.Len(t, jobs, 3)
	for _, j := range jobs {
		assert.NotEqual(t, int64(0), j.RecurrenceID)
		assert.Equal(t, "daily", j.RecurrenceType)
	}
}

func TestDeleteThisOnlyRecordsExclusion(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint:      0,
		Title:           "Nightly News",
		Filename:        "news",
		Channel:         "BBC1",
		TsStart:         now.Add(time.Hour),
		TsEnd:           now.Add(2 * time.Hour),
		Recurrence:      true,
		RecurrenceType:  calendar.RecurrenceDaily,
		RecurrenceCount: 3,
	})
	require.NoError(t, err)

	jobs := s.List()
	require.Len(t, jobs, 3)
	firstSeq := jobs[0].SeqNbr
	recurrenceID := jobs[0].RecurrenceID

	require.NoError(t, s.Delete(firstSeq, DeleteThisOnly))

	remaining := s.List()
	assert.Len(t, remaining, 2)
	assert.True(t, s.exclusions.Contains(recurrenceID, 1))
}

func TestDeleteWholeSeriesRemovesAllAndPurgesExclusion(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint:      0,
		Title:           "Nightly News",
		Filename:        "news",
		Channel:         "BBC1",
		TsStart:         now.Add(time.Hour),
		TsEnd:           now.Add(2 * time.Hour),
		Recurrence:      true,
		RecurrenceType:  calendar.RecurrenceDaily,
		RecurrenceCount: 3,
	})
	require.NoError(t, err)

	jobs := s.List()
	require.Len(t, jobs, 3)
	recurrenceID := jobs[0].RecurrenceID

	require.NoError(t, s.Delete(jobs[0].SeqNbr, DeleteWholeSeries))

	assert.Empty(t, s.List())
	assert.Empty(t, s.exclusions.Indices(recurrenceID))
}

func TestDeleteNotFound(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)
	err := s.Delete(999, DeleteThisOnly)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateProfileReplacesPrimarySlot(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	seq, err := s.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	ok, err := s.UpdateProfile(seq, "hq")
	require.NoError(t, err)
	assert.True(t, ok)

	jobs := s.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "hq", jobs[0].Profiles[0])
}

func TestUpdateProfileUnknownRejected(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	seq, err := s.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	_, err = s.UpdateProfile(seq, "nonexistent")
	assert.ErrorIs(t, err, models.ErrUnknownProfile)
}

func TestNextScheduledTiesBrokenByDeviceIndex(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 2)

	start := now.Add(time.Hour)
	_, err := s.Insert(InsertRequest{DeviceHint: 1, Channel: "BBC1", TsStart: start, TsEnd: start.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.Insert(InsertRequest{DeviceHint: 0, Channel: "ITV", TsStart: start, TsEnd: start.Add(time.Hour)})
	require.NoError(t, err)

	device, at, _, ok := s.NextScheduled()
	require.True(t, ok)
	assert.Equal(t, 0, device)
	assert.Equal(t, start, at)
}

func TestLoadFromJournalRestoresPendingAndAdvancesCounters(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	_, err := s.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "BBC1",
		TsStart:    now.Add(time.Hour),
		TsEnd:      now.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	s2 := New(s.cfg, s.clock, s.resolver, s.profiles, s.journal, testLogger())
	require.NoError(t, s2.LoadFromJournal())

	jobs := s2.List()
	require.Len(t, jobs, 1)

	seq, err := s2.Insert(InsertRequest{
		DeviceHint: 0,
		Channel:    "ITV",
		TsStart:    now.Add(3 * time.Hour),
		TsEnd:      now.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	assert.Greater(t, seq, jobs[0].SeqNbr)
}

func TestAbortFlag(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)

	require.NoError(t, s.Abort(0))
	assert.True(t, s.AbortFlag(0).Load())
}

func TestAbortUnknownDevice(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, 1)
	assert.ErrorIs(t, s.Abort(5), models.ErrNotFound)
}
