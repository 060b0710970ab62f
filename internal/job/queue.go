package job

import (
	"sort"

	"github.com/tvcaptd/tvcaptd/internal/models"
)

// DefaultMaxEntries is the default bound on pending jobs per device.
const DefaultMaxEntries = 256

// PendingQueue is the ordered list of pending jobs for a single device,
// kept sorted by TsStart ascending (ties broken by SeqNbr) after every
// insert and removal, per the per-device queue ordering rule. Callers are
// expected to hold the scheduler's global lock around every method; the
// queue itself performs no locking.
type PendingQueue struct {
	MaxEntries int
	jobs       []*Job
}

// NewPendingQueue constructs an empty queue bounded at maxEntries (or
// DefaultMaxEntries when maxEntries <= 0).
func NewPendingQueue(maxEntries int) *PendingQueue {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &PendingQueue{MaxEntries: maxEntries}
}

// Len returns the number of pending jobs.
func (q *PendingQueue) Len() int { return len(q.jobs) }

// Full reports whether the queue is at its configured capacity.
func (q *PendingQueue) Full() bool { return len(q.jobs) >= q.MaxEntries }

// Jobs returns the queue's jobs in order. The returned slice is owned by
// the caller to read, not to mutate.
func (q *PendingQueue) Jobs() []*Job {
	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// Head returns the earliest-start pending job, or nil if the queue is
// empty.
func (q *PendingQueue) Head() *Job {
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

// CollidesJob reports whether candidate overlaps any job already in the
// queue, endpoints inclusive, per the collision rule in §4.1.
func (q *PendingQueue) CollidesJob(candidate *Job) bool {
	for _, existing := range q.jobs {
		if Overlaps(candidate.TsStart, candidate.TsEnd, existing.TsStart, existing.TsEnd) {
			return true
		}
	}
	return false
}

// Insert adds j to the queue in sorted order. Returns ErrQueueFull without
// mutating the queue if it is already at capacity.
func (q *PendingQueue) Insert(j *Job) error {
	if q.Full() {
		return models.ErrQueueFull
	}
	q.jobs = append(q.jobs, j)
	q.resort()
	return nil
}

// RemoveHead removes and returns the earliest-start job, or nil if empty.
func (q *PendingQueue) RemoveHead() *Job {
	if len(q.jobs) == 0 {
		return nil
	}
	h := q.jobs[0]
	q.jobs = append(q.jobs[:0:0], q.jobs[1:]...)
	return h
}

// RemoveBySeq removes the job with the given sequence number, compacting
// the queue (no holes) and preserving sort order. Returns the removed job,
// or nil if not found.
func (q *PendingQueue) RemoveBySeq(seq int64) *Job {
	for i, existing := range q.jobs {
		if existing.SeqNbr == seq {
			removed := existing
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return removed
		}
	}
	return nil
}

// RemoveByRecurrenceID removes every job sharing recurrenceID, compacting
// and re-sorting the queue. Returns the removed jobs in their original
// relative order.
func (q *PendingQueue) RemoveByRecurrenceID(recurrenceID int64) []*Job {
	var removed []*Job
	kept := q.jobs[:0:0]
	for _, existing := range q.jobs {
		if existing.Recurrence && existing.RecurrenceID == recurrenceID {
			removed = append(removed, existing)
			continue
		}
		kept = append(kept, existing)
	}
	q.jobs = kept
	return removed
}

// ReplaceHead swaps the current head job for replacement, used when
// update_profile rewrites the primary profile slot of the earliest job.
// The job's position never changes since replacement keeps the same
// TsStart/SeqNbr, so no re-sort is needed.
func (q *PendingQueue) ReplaceHead(replacement *Job) {
	if len(q.jobs) == 0 {
		return
	}
	q.jobs[0] = replacement
}

// FindBySeq returns the job with the given sequence number, or nil.
func (q *PendingQueue) FindBySeq(seq int64) *Job {
	for _, existing := range q.jobs {
		if existing.SeqNbr == seq {
			return existing
		}
	}
	return nil
}

// Clear empties the queue.
func (q *PendingQueue) Clear() { q.jobs = nil }

func (q *PendingQueue) resort() {
	sort.SliceStable(q.jobs, func(i, k int) bool {
		if q.jobs[i].TsStart.Equal(q.jobs[k].TsStart) {
			return q.jobs[i].SeqNbr < q.jobs[k].SeqNbr
		}
		return q.jobs[i].TsStart.Before(q.jobs[k].TsStart)
	})
}
