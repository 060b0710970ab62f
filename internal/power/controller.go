// Package power implements the shutdown-gate controller the dispatcher
// runs once per tick: when every gate condition holds, it invokes the
// configured shutdown script with a delay argument.
package power

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/load"

	"github.com/tvcaptd/tvcaptd/internal/scheduler"
	"github.com/tvcaptd/tvcaptd/internal/scripts"
)

// Scheduler is the subset of *scheduler.Scheduler the controller needs to
// evaluate two of its gates: no in-flight capture, and time to next job.
type Scheduler interface {
	AnyInFlight() bool
	NextScheduled() (device int, at time.Time, summary scheduler.JobSummary, ok bool)
}

// LoadAverager reports the 5-minute system load average.
type LoadAverager func() (float64, error)

func systemLoadAvg() (float64, error) {
	stat, err := load.Avg()
	if err != nil {
		return 0, err
	}
	return stat.Load5, nil
}

// TranscodeActivity reports whether any transcode is currently running.
type TranscodeActivity interface {
	ActiveCount() int
}

// UserLoginChecker reports whether a user is interactively logged into
// the host. Kept as an injected collaborator since the real check (utmp
// inspection) is platform-specific and out of scope here.
type UserLoginChecker func() (loggedIn bool, err error)

// NoUserLoginCheck is the default UserLoginChecker used when the
// require-no-login gate is disabled: it always reports no user logged in.
func NoUserLoginCheck() (bool, error) { return false, nil }

// Config configures the shutdown gate thresholds.
type Config struct {
	AutoShutdown      bool
	RequireNoLogin    bool
	ShutdownMaxLoad   float64
	ShutdownMinTime   time.Duration
	WakeupMargin      time.Duration
	SignalWaitTimeout time.Duration
}

// Controller evaluates the shutdown gate conditions once per dispatcher
// tick and requests a shutdown when every one of them holds.
type Controller struct {
	cfg        Config
	sched      Scheduler
	transcodes TranscodeActivity
	userLogin  UserLoginChecker
	loadAvg    LoadAverager
	scr        *scripts.Runner
	logger     *slog.Logger

	lastRequestAt time.Time
}

// New constructs a Controller. userLogin may be nil when RequireNoLogin is
// false; it is never called in that case.
func New(cfg Config, sched Scheduler, transcodes TranscodeActivity, userLogin UserLoginChecker, scr *scripts.Runner, logger *slog.Logger) *Controller {
	if userLogin == nil {
		userLogin = NoUserLoginCheck
	}
	return &Controller{
		cfg:        cfg,
		sched:      sched,
		transcodes: transcodes,
		userLogin:  userLogin,
		loadAvg:    systemLoadAvg,
		scr:        scr,
		logger:     logger,
	}
}

// Tick evaluates the gate conditions at now and requests shutdown if every
// one holds. It satisfies scheduler.PowerGate.
func (c *Controller) Tick(now time.Time) {
	if !c.cfg.AutoShutdown {
		return
	}
	if !c.scr.ShutdownEnabled() {
		return
	}

	if c.cfg.RequireNoLogin {
		loggedIn, err := c.userLogin()
		if err != nil {
			c.logger.Warn("power: checking interactive login", "error", err)
			return
		}
		if loggedIn {
			return
		}
	}

	if c.sched.AnyInFlight() {
		return
	}
	if c.transcodes != nil && c.transcodes.ActiveCount() > 0 {
		return
	}

	avg, err := c.loadAvg()
	if err != nil {
		c.logger.Warn("power: reading load average", "error", err)
		return
	}
	if avg > c.cfg.ShutdownMaxLoad {
		return
	}

	_, at, _, ok := c.sched.NextScheduled()
	if ok && at.Sub(now) < c.cfg.ShutdownMinTime {
		return
	}

	delay := c.cfg.WakeupMargin
	if delay <= 0 {
		delay = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.scr.RunShutdown(ctx, delay); err != nil {
		c.logger.Error("power: shutdown script failed", "error", err)
		return
	}
	c.lastRequestAt = now
	c.logger.Info("power: shutdown requested", "delay", delay)
}

// LastRequestAt returns the time of the most recent shutdown request, the
// zero value if none has happened yet.
func (c *Controller) LastRequestAt() time.Time { return c.lastRequestAt }
