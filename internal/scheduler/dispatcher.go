package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/tvcaptd/tvcaptd/internal/job"
)

// DefaultTickInterval is the dispatcher's default period, within the
// configurable 1-10s range.
const DefaultTickInterval = 3 * time.Second

// DefaultMissedThreshold is how far past a job's start the dispatcher will
// tolerate before dropping it as missed.
const DefaultMissedThreshold = 10 * time.Minute

// CaptureLauncher spawns a detached capture worker pinned to device for j.
// The dispatcher calls this after moving j into the in-flight slot and
// releasing the lock, per §4.4 step "release the lock, spawn a capture
// worker".
type CaptureLauncher func(device int, j *job.Job)

// PowerGate is the subsystem the power controller implements; it runs once
// per tick before the per-device scan, as specified.
type PowerGate interface {
	Tick(now time.Time)
}

// Dispatcher is the single control task that promotes due jobs from
// pending to in-flight on a fixed period. Grounded on spec.md §4.4 and on
// the teacher's time.Ticker-driven control-loop shape (no cron dependency
// drives this loop; no package in this module imports robfig/cron).
type Dispatcher struct {
	sched           *Scheduler
	tickInterval    time.Duration
	missedThreshold time.Duration
	clock           clockFunc
	launch          CaptureLauncher
	power           PowerGate
	logger          *slog.Logger
}

type clockFunc func() time.Time

// NewDispatcher constructs a Dispatcher over sched. tickInterval and
// missedThreshold fall back to their package defaults when zero. power may
// be nil when auto-shutdown is disabled.
func NewDispatcher(sched *Scheduler, tickInterval, missedThreshold time.Duration, power PowerGate, launch CaptureLauncher, logger *slog.Logger) *Dispatcher {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	if missedThreshold <= 0 {
		missedThreshold = DefaultMissedThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sched:           sched,
		tickInterval:    tickInterval,
		missedThreshold: missedThreshold,
		clock:           time.Now,
		launch:          launch,
		power:           power,
		logger:          logger,
	}
}

// Run blocks, ticking every tickInterval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick runs one dispatch pass: the power controller first, then a
// promote-or-drop scan of every device's head.
func (d *Dispatcher) tick() {
	now := d.clock()

	if d.power != nil {
		d.power.Tick(now)
	}

	for device := 0; device < d.sched.NumDevices(); device++ {
		action := d.sched.promote(device, now, d.missedThreshold, d.tickInterval)
		switch action.kind {
		case promotionStarted:
			d.logger.Info("dispatcher: promoting job to in-flight",
				"device", device, "seq_nbr", action.job.SeqNbr, "title", action.job.Title)
			d.launch(device, action.job)
		case promotionDropped:
			d.logger.Warn("dispatcher: dropping missed job",
				"device", device, "seq_nbr", action.job.SeqNbr, "title", action.job.Title,
				"delta", now.Sub(action.job.TsStart))
		case promotionDeferred:
			d.logger.Warn("dispatcher: in-flight slot occupied, deferring promotion",
				"device", device, "seq_nbr", action.job.SeqNbr)
		case promotionNone:
			// Nothing due on this device.
		}
	}
}

type promotionKind int

const (
	promotionNone promotionKind = iota
	promotionStarted
	promotionDropped
	promotionDeferred
)

type promotionAction struct {
	kind promotionKind
	job  *job.Job
}

// promote examines device's head under the scheduler's lock and either
// drops a missed job, defers on an occupied in-flight slot, or moves the
// head into in-flight and returns it for the dispatcher to launch a
// capture worker for (outside the lock). It is an unexported Scheduler
// method since it is dispatcher-internal machinery, not part of the
// frontend-facing admission surface.
func (s *Scheduler) promote(device int, now time.Time, missedThreshold, tickInterval time.Duration) promotionAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.pending[device].Head()
	if h == nil {
		return promotionAction{kind: promotionNone}
	}

	delta := now.Sub(h.TsStart)
	if delta > missedThreshold {
		s.pending[device].RemoveHead()
		s.journalLocked()
		return promotionAction{kind: promotionDropped, job: h}
	}

	if delta < -(tickInterval - time.Second) {
		// Not yet time to start.
		return promotionAction{kind: promotionNone}
	}

	if s.inFlight[device] != nil {
		return promotionAction{kind: promotionDeferred, job: h}
	}

	s.pending[device].RemoveHead()
	s.inFlight[device] = h
	s.journalLocked()
	return promotionAction{kind: promotionStarted, job: h}
}

// CompleteCapture clears device's in-flight slot and abort flag once a
// capture worker has finished (normally or aborted). It writes no journal:
// promote already journaled the pending state when it removed the job from
// the queue, so the completed job appears in neither. Per
// spec.md §4.5, the in-flight slot is cleared on normal exit paths only:
// a worker crash that never calls this leaves the device unavailable until
// restart, a deliberate conservative failure mode.
func (s *Scheduler) CompleteCapture(device int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[device] = nil
	s.abortFlags[device].Store(false)
}
