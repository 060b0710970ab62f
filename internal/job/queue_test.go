package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tvcaptd/tvcaptd/internal/models"
)

func mkJob(seq int64, start time.Time, dur time.Duration) *Job {
	return &Job{SeqNbr: seq, TsStart: start, TsEnd: start.Add(dur)}
}

func TestQueueInsertKeepsSortOrder(t *testing.T) {
	q := NewPendingQueue(10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Insert(mkJob(2, base.Add(2*time.Hour), time.Hour)))
	require.NoError(t, q.Insert(mkJob(1, base, time.Hour)))
	require.NoError(t, q.Insert(mkJob(3, base.Add(time.Hour), time.Hour)))

	jobs := q.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, int64(1), jobs[0].SeqNbr)
	assert.Equal(t, int64(3), jobs[1].SeqNbr)
	assert.Equal(t, int64(2), jobs[2].SeqNbr)
}

func TestQueueInsertTieBreaksBySeq(t *testing.T) {
	q := NewPendingQueue(10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Insert(mkJob(5, base, time.Hour)))
	require.NoError(t, q.Insert(mkJob(2, base, time.Hour)))

	jobs := q.Jobs()
	assert.Equal(t, int64(2), jobs[0].SeqNbr)
	assert.Equal(t, int64(5), jobs[1].SeqNbr)
}

func TestQueueFull(t *testing.T) {
	q := NewPendingQueue(1)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, q.Insert(mkJob(1, base, time.Hour)))

	err := q.Insert(mkJob(2, base.Add(5*time.Hour), time.Hour))
	assert.ErrorIs(t, err, models.ErrQueueFull)
}

func TestQueueCollisionEndpointInclusive(t *testing.T) {
	q := NewPendingQueue(10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, q.Insert(mkJob(1, base, time.Hour)))

	candidate := mkJob(2, base.Add(time.Hour), time.Hour)
	assert.True(t, q.CollidesJob(candidate), "endpoint-equal interval must collide")
}

func TestQueueRemoveBySeqCompactsAndSorts(t *testing.T) {
	q := NewPendingQueue(10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, q.Insert(mkJob(1, base, time.Hour)))
	require.NoError(t, q.Insert(mkJob(2, base.Add(2*time.Hour), time.Hour)))
	require.NoError(t, q.Insert(mkJob(3, base.Add(4*time.Hour), time.Hour)))

	removed := q.RemoveBySeq(2)
	require.NotNil(t, removed)
	assert.Equal(t, int64(2), removed.SeqNbr)
	assert.Len(t, q.Jobs(), 2)
}

func TestQueueRemoveHead(t *testing.T) {
	q := NewPendingQueue(10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, q.Insert(mkJob(1, base, time.Hour)))
	require.NoError(t, q.Insert(mkJob(2, base.Add(2*time.Hour), time.Hour)))

	h := q.RemoveHead()
	require.NotNil(t, h)
	assert.Equal(t, int64(1), h.SeqNbr)
	assert.Equal(t, int64(2), q.Head().SeqNbr)
}

func TestQueueRemoveByRecurrenceID(t *testing.T) {
	q := NewPendingQueue(10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	j1 := mkJob(1, base, time.Hour)
	j1.Recurrence, j1.RecurrenceID = true, 7
	j2 := mkJob(2, base.Add(2*time.Hour), time.Hour)
	j2.Recurrence, j2.RecurrenceID = true, 7
	j3 := mkJob(3, base.Add(4*time.Hour), time.Hour)

	require.NoError(t, q.Insert(j1))
	require.NoError(t, q.Insert(j2))
	require.NoError(t, q.Insert(j3))

	removed := q.RemoveByRecurrenceID(7)
	assert.Len(t, removed, 2)
	assert.Len(t, q.Jobs(), 1)
	assert.Equal(t, int64(3), q.Jobs()[0].SeqNbr)
}
