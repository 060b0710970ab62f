// Package transcode implements the bounded transcode worker pool: load-gated
// admission, external-transcoder invocation in its own process group, a
// watchdog, and output placement into the finished-recordings tree.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/load"

	"github.com/tvcaptd/tvcaptd/internal/ffmpeg"
	"github.com/tvcaptd/tvcaptd/internal/history"
	"github.com/tvcaptd/tvcaptd/internal/job"
	"github.com/tvcaptd/tvcaptd/internal/profile"
	"github.com/tvcaptd/tvcaptd/internal/storage"
)

// ErrBusy is returned when the pool is already running MaxThreads
// transcodes; the caller does not queue the request.
var ErrBusy = errors.New("transcode: pool at capacity")

// ErrOverLoaded is returned when the 5-minute load average stays above
// MaxLoadForTranscode longer than MaxWaitingTime.
var ErrOverLoaded = errors.New("transcode: aborted, system overloaded")

// ErrOutputExhausted is returned when every _NNN collision suffix is taken.
var ErrOutputExhausted = errors.New("transcode: output name space exhausted")

const maxOutputAttempts = 999
const watchdogPollInterval = time.Minute

// LoadAverager reports the 5-minute system load average; satisfied by
// gopsutil's load.Avg, kept as an interface so tests don't touch /proc.
type LoadAverager func() (float64, error)

func systemLoadAvg() (float64, error) {
	stat, err := load.Avg()
	if err != nil {
		return 0, err
	}
	return stat.Load5, nil
}

// Config configures admission gating, the watchdog, and output placement.
type Config struct {
	MaxThreads          int
	MaxLoadForTranscode float64
	Backoff             time.Duration
	MaxWaitingTime      time.Duration
	Watchdog            time.Duration
	BinaryPath          string
	ProfileDirectories  bool
}

// Pool is the bounded transcode worker pool.
type Pool struct {
	cfg     Config
	sandbox *storage.Sandbox
	history *history.Ledger
	loadAvg LoadAverager
	logger  *slog.Logger
	sleep   func(time.Duration)

	sem chan struct{}

	mu     sync.Mutex
	active map[*exec.Cmd]struct{}
}

// New constructs a Pool with the given configuration and collaborators.
func New(cfg Config, sandbox *storage.Sandbox, hist *history.Ledger, logger *slog.Logger) *Pool {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 10
	}
	return &Pool{
		cfg:     cfg,
		sandbox: sandbox,
		history: hist,
		loadAvg: systemLoadAvg,
		logger:  logger,
		sleep:   time.Sleep,
		sem:     make(chan struct{}, cfg.MaxThreads),
		active:  make(map[*exec.Cmd]struct{}),
	}
}

// Submit runs one (source file, profile) transcode, blocking until it
// completes, is aborted by overload, or is rejected for lack of capacity.
// It satisfies internal/capture.Transcoder.
func (p *Pool) Submit(ctx context.Context, j *job.Job, prof *profile.Record, sourcePath string, device int) error {
	if !prof.UseTranscoding {
		return nil
	}

	select {
	case p.sem <- struct{}{}:
	default:
		return ErrBusy
	}
	defer func() { <-p.sem }()

	if err := p.awaitLoadAdmission(ctx); err != nil {
		return err
	}

	workDir, err := p.createWorkDir(device, j.SeqNbr, prof.Name)
	if err != nil {
		return fmt.Errorf("transcode: creating working directory: %w", err)
	}

	linkPath, err := p.sandbox.ResolvePath(filepath.Join(workDir, filepath.Base(sourcePath)))
	if err != nil {
		return fmt.Errorf("transcode: resolving symlink target: %w", err)
	}
	sourceAbs, err := p.sandbox.ResolvePath(sourcePath)
	if err != nil {
		return fmt.Errorf("transcode: resolving source path: %w", err)
	}
	if err := symlink(sourceAbs, linkPath); err != nil {
		return fmt.Errorf("transcode: symlinking source into working directory: %w", err)
	}

	outputRel := filepath.Join(workDir, "output"+containerExt(prof))
	outputAbs, err := p.sandbox.ResolvePath(outputRel)
	if err != nil {
		return fmt.Errorf("transcode: resolving output path: %w", err)
	}

	passes := prof.Passes
	if passes < 1 {
		passes = 1
	}
	for pass := 1; pass <= passes; pass++ {
		cmd := p.buildCommand(linkPath, outputAbs, prof, pass, passes)
		if err := p.runWatched(ctx, cmd); err != nil {
			return fmt.Errorf("transcode: pass %d/%d: %w", pass, passes, err)
		}
	}

	finalRel, err := p.placeOutput(outputAbs, prof)
	if err != nil {
		return fmt.Errorf("transcode: placing output: %w", err)
	}

	if p.history != nil {
		rec := history.Record{
			Title:          j.Title,
			TimestampStart: j.TsStart,
			TimestampEnd:   j.TsEnd,
			FilePath:       finalRel,
			FileDir:        filepath.Dir(finalRel),
			Profile:        prof.Name,
		}
		if err := p.history.Append(rec); err != nil {
			p.logger.Error("transcode: recording history", "error", err)
		}
	}

	return p.sandbox.RemoveAll(workDir)
}

func containerExt(prof *profile.Record) string {
	if prof.ContainerExt == "" {
		return ".mp4"
	}
	if prof.ContainerExt[0] != '.' {
		return "." + prof.ContainerExt
	}
	return prof.ContainerExt
}

// awaitLoadAdmission blocks while the 5-minute load average exceeds the
// configured ceiling, backing off 300s -> 600s -> 1200s -> 1800s (capped),
// aborting with ErrOverLoaded once the cumulative wait exceeds
// MaxWaitingTime.
func (p *Pool) awaitLoadAdmission(ctx context.Context) error {
	if p.cfg.MaxLoadForTranscode <= 0 {
		return nil
	}
	backoff := p.cfg.Backoff
	if backoff <= 0 {
		backoff = 300 * time.Second
	}
	maxWait := p.cfg.MaxWaitingTime
	if maxWait <= 0 {
		maxWait = 1800 * time.Second
	}

	var waited time.Duration
	for {
		avg, err := p.loadAvg()
		if err != nil || avg <= p.cfg.MaxLoadForTranscode {
			return nil
		}
		if waited >= maxWait {
			return ErrOverLoaded
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.sleep(backoff)
		waited += backoff
		if backoff < 1800*time.Second {
			backoff *= 2
			if backoff > 1800*time.Second {
				backoff = 1800 * time.Second
			}
		}
	}
}

func (p *Pool) createWorkDir(device int, seqNbr int64, profileName string) (string, error) {
	rel := filepath.Join("vtmp", "transc", fmt.Sprintf("vid%d_%d_%s", device, seqNbr, profileName))
	if err := p.sandbox.MkdirAll(rel); err != nil {
		return "", err
	}
	return rel, nil
}

func (p *Pool) buildCommand(input, output string, prof *profile.Record, pass, totalPasses int) *exec.Cmd {
	binary := p.cfg.BinaryPath
	if binary == "" {
		binary = "ffmpeg"
	}
	builder := ffmpeg.NewCommandBuilder(binary).
		HideBanner().
		Overwrite().
		Input(input).
		VideoCodec(prof.VideoCodec).
		AudioCodec(prof.AudioCodec)

	if prof.TranscodeBitrate > 0 {
		builder = builder.VideoBitrate(fmt.Sprintf("%dk", prof.TranscodeBitrate))
	}
	if prof.Crop != nil {
		builder = builder.VideoFilter(fmt.Sprintf("crop=%d:%d:%d:%d", prof.Crop.Width, prof.Crop.Height, prof.Crop.X, prof.Crop.Y))
	}
	if prof.ExtraArgs != "" {
		builder = builder.ApplyCustomOutputOptions(prof.ExtraArgs)
	}
	if totalPasses == 2 {
		builder = builder.OutputArgs("-pass", fmt.Sprintf("%d", pass))
	}
	ffCmd := builder.Output(output).Build()

	cmd := exec.Command(binary, ffCmd.Args...)
	setNewProcessGroup(cmd)
	return cmd
}

// runWatched starts cmd in its own process group, polls for completion
// once a minute, and kills the group if the watchdog expires first.
func (p *Pool) runWatched(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	p.active[cmd] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, cmd)
		p.mu.Unlock()
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	watchdog := p.cfg.Watchdog
	if watchdog <= 0 {
		watchdog = 24 * time.Hour
	}
	deadline := time.Now().Add(watchdog)
	ticker := time.NewTicker(watchdogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			if time.Now().After(deadline) {
				p.logger.Error("transcode: watchdog expired, killing process group", "pid", cmd.Process.Pid)
				_ = killProcessGroup(cmd.Process.Pid, syscall.SIGKILL)
				<-done
				return fmt.Errorf("transcode: watchdog expired after %s", watchdog)
			}
		case <-ctx.Done():
			_ = killProcessGroup(cmd.Process.Pid, syscall.SIGKILL)
			<-done
			return ctx.Err()
		}
	}
}

// placeOutput moves outputAbs into <data>/mp4/<profile>/ (or <data>/mp4/
// when profile directories are disabled), appending a _NNN collision
// suffix and aborting after 999 attempts.
func (p *Pool) placeOutput(outputAbs string, prof *profile.Record) (string, error) {
	dir := "mp4"
	if p.cfg.ProfileDirectories {
		dir = filepath.Join("mp4", prof.Name)
	}
	ext := filepath.Ext(outputAbs)
	base := "output"

	candidate := filepath.Join(dir, base+ext)
	if moved, err := p.tryRename(outputAbs, candidate); err != nil {
		return "", err
	} else if moved {
		return candidate, nil
	}

	for n := 1; n <= maxOutputAttempts; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%03d%s", base, n, ext))
		moved, err := p.tryRename(outputAbs, candidate)
		if err != nil {
			return "", err
		}
		if moved {
			return candidate, nil
		}
	}
	return "", ErrOutputExhausted
}

// PlaceKeptSource moves a raw captured file into the finished-recordings
// tree untranscoded, using the same profile-subdirectory layout and
// collision-suffix rename policy as a transcoded output. It satisfies
// internal/capture.Transcoder for profiles that request keep-source (or
// disable transcoding outright).
func (p *Pool) PlaceKeptSource(sourceAbs string, prof *profile.Record) (string, error) {
	return p.placeOutput(sourceAbs, prof)
}

func (p *Pool) tryRename(srcAbs, destRel string) (bool, error) {
	exists, err := p.sandbox.Exists(destRel)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	destAbs, err := p.sandbox.ResolvePath(destRel)
	if err != nil {
		return false, err
	}
	if err := renameFile(srcAbs, destAbs); err != nil {
		return false, err
	}
	return true, nil
}

// ActiveCount returns the number of transcodes currently running, used by
// the power controller's shutdown gate.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// KillAll terminates every active transcode's process group. onShutdown
// selects the daemon-shutdown sequence (SIGSTOP, pause, SIGKILL) rather
// than an immediate kill.
func (p *Pool) KillAll(onShutdown bool) {
	p.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(p.active))
	for cmd := range p.active {
		cmds = append(cmds, cmd)
	}
	p.mu.Unlock()

	for _, cmd := range cmds {
		if cmd.Process == nil {
			continue
		}
		if onShutdown {
			_ = killProcessGroup(cmd.Process.Pid, syscall.SIGSTOP)
			p.sleep(600 * time.Millisecond)
		}
		_ = killProcessGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
}
