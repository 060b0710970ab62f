// Package lifecycle implements the daemon's signal-driven termination
// sequence: block for SIGTERM/SIGHUP, mark every device for abort, wait
// for capture workers to release their handles, tear down any running
// transcode, and exit. Segmentation/bus-error signals are deliberately
// left unhandled: Go's runtime already turns those into a crash and core
// dump, which is the behavior wanted here.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tvcaptd/tvcaptd/internal/scheduler"
)

// Scheduler is the subset of *scheduler.Scheduler the termination sequence
// drives directly: abort every device, then confirm each has gone idle.
type Scheduler interface {
	NumDevices() int
	Abort(device int) error
	InFlight(device int) (scheduler.JobSummary, bool, error)
	KillAllTranscodes(onShutdown bool)
}

// Flusher is a component with persisted state to reconcile one last time
// before exit. The journal and history ledger already write atomically on
// every mutation, so in practice this is a belt-and-braces hook rather
// than a required step.
type Flusher interface {
	Flush() error
}

// Manager runs the termination sequence described in the daemon's signal
// and lifecycle design.
type Manager struct {
	sched      Scheduler
	waitTimeout time.Duration
	devicePoll time.Duration
	flushers   []Flusher
	logger     *slog.Logger
	sleep      func(time.Duration)

	shutdownRequested atomic.Bool
}

// New constructs a Manager. waitTimeout bounds how long the sequence waits
// for capture workers to release their device handles before proceeding
// anyway (logging a warning).
func New(sched Scheduler, waitTimeout time.Duration, logger *slog.Logger, flushers ...Flusher) *Manager {
	if waitTimeout <= 0 {
		waitTimeout = 15 * time.Second
	}
	return &Manager{
		sched:       sched,
		waitTimeout: waitTimeout,
		devicePoll:  100 * time.Millisecond,
		flushers:    flushers,
		logger:      logger,
		sleep:       time.Sleep,
	}
}

// ShutdownRequested reports whether termination has begun. Capture
// workers may poll this in addition to their own per-device abort flag.
func (m *Manager) ShutdownRequested() bool { return m.shutdownRequested.Load() }

// Run blocks until ctx is canceled or a SIGTERM/SIGHUP arrives, then runs
// the termination sequence and returns.
func (m *Manager) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info("lifecycle: received signal", "signal", sig.String())
	case <-ctx.Done():
		m.logger.Info("lifecycle: context canceled")
	}

	m.shutdown()
}

func (m *Manager) shutdown() {
	m.shutdownRequested.Store(true)

	for d := 0; d < m.sched.NumDevices(); d++ {
		if err := m.sched.Abort(d); err != nil {
			m.logger.Warn("lifecycle: aborting device", "device", d, "error", err)
		}
	}

	deadline := time.Now().Add(m.waitTimeout)
	for time.Now().Before(deadline) && m.anyInFlight() {
		m.sleep(m.devicePoll)
	}
	if m.anyInFlight() {
		m.logger.Warn("lifecycle: capture workers did not release their devices within the wait timeout", "timeout", m.waitTimeout)
	}

	m.sched.KillAllTranscodes(true)

	for _, f := range m.flushers {
		if err := f.Flush(); err != nil {
			m.logger.Error("lifecycle: flush failed", "error", err)
		}
	}

	m.logger.Info("lifecycle: termination sequence complete")
}

func (m *Manager) anyInFlight() bool {
	for d := 0; d < m.sched.NumDevices(); d++ {
		if _, ok, err := m.sched.InFlight(d); err == nil && ok {
			return true
		}
	}
	return false
}
