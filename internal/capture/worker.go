// Package capture implements the per-device capture worker the dispatcher
// launches when a job's start time arrives: device and channel setup, the
// raw capture loop, post-recording script invocation, and handing the
// captured file off to the transcode pool.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tvcaptd/tvcaptd/internal/devicepool"
	"github.com/tvcaptd/tvcaptd/internal/job"
	"github.com/tvcaptd/tvcaptd/internal/profile"
	"github.com/tvcaptd/tvcaptd/internal/scripts"
	"github.com/tvcaptd/tvcaptd/internal/storage"
)

// DefaultSelectTimeout is the device-readiness poll timeout; a timeout
// elapsing with no data ready is treated as a device stall and aborts
// the recording.
const DefaultSelectTimeout = 10 * time.Second

// DefaultChunkSize is the read buffer size, within the 4-16 MiB range.
const DefaultChunkSize = 4 * 1024 * 1024

// maxWorkdirAttempts bounds the _NN collision-suffix search for a
// recording's working directory (01..99 per occurrence).
const maxWorkdirAttempts = 99

// ErrWorkdirExhausted is returned when every _NN suffix up to 99 is taken.
var ErrWorkdirExhausted = errors.New("capture: working directory name space exhausted")

const fileCreateFlags = os.O_CREATE | os.O_EXCL | os.O_WRONLY

// Transcoder is the narrow collaborator a finished capture hands off to,
// one call per profile in the job's profile list. Satisfied by
// *internal/transcode.Pool; kept as an interface so this package never
// depends on the transcoder's load-admission or process-group internals.
type Transcoder interface {
	Submit(ctx context.Context, j *job.Job, prof *profile.Record, sourcePath string, device int) error

	// PlaceKeptSource moves a raw captured file (absolute path) into the
	// finished-recordings tree without transcoding it, returning the
	// sandbox-relative final path.
	PlaceKeptSource(sourceAbs string, prof *profile.Record) (string, error)
}

// Coordinator is the subset of the scheduler a capture worker needs to
// synchronize abort/completion with the dispatcher.
type Coordinator interface {
	AbortFlag(device int) *atomic.Bool
	CompleteCapture(device int)
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Worker runs the capture algorithm for one job at a time, on whichever
// device the dispatcher assigns it to.
type Worker struct {
	DeviceFor     func(device int) (devicepool.Device, error)
	Profiles      *profile.Registry
	Scripts       *scripts.Runner
	Sandbox       *storage.Sandbox
	Coordinator   Coordinator
	Transcoder    Transcoder
	SelectTimeout time.Duration
	ChunkSize     int
	Now           Clock
	Logger        *slog.Logger

	// retryDelay is overridden in tests to avoid real sleeps.
	retryDelay time.Duration
}

// NewWorker constructs a Worker with the given collaborators and defaults
// for select timeout, chunk size, and clock.
func NewWorker(deviceFor func(device int) (devicepool.Device, error), profiles *profile.Registry, scr *scripts.Runner, sandbox *storage.Sandbox, coord Coordinator, transcoder Transcoder, logger *slog.Logger) *Worker {
	return &Worker{
		DeviceFor:     deviceFor,
		Profiles:      profiles,
		Scripts:       scr,
		Sandbox:       sandbox,
		Coordinator:   coord,
		Transcoder:    transcoder,
		SelectTimeout: DefaultSelectTimeout,
		ChunkSize:     DefaultChunkSize,
		Now:           time.Now,
		Logger:        logger,
		retryDelay:    200 * time.Millisecond,
	}
}

// Launch starts the capture algorithm for j on device in its own
// goroutine, matching scheduler.CaptureLauncher's signature.
func (w *Worker) Launch(device int, j *job.Job) {
	go w.run(device, j)
}

func (w *Worker) run(device int, j *job.Job) {
	logger := w.Logger.With("device", device, "seq_nbr", j.SeqNbr, "title", j.Title)

	// CompleteCapture clears in_flight; an abort-flag exit must leave it
	// set (the job was aborted, not finished), so this is skipped only
	// on that one path below.
	completeCapture := true
	defer func() {
		if completeCapture {
			w.Coordinator.CompleteCapture(device)
		}
	}()

	prof, err := w.selectPrimaryProfile(j)
	if err != nil {
		logger.Error("capture: resolving primary profile", "error", err)
		return
	}

	dev, err := w.DeviceFor(device)
	if err != nil {
		logger.Error("capture: no device bound", "error", err)
		return
	}

	ctx := context.Background()
	if err := dev.Open(ctx); err != nil {
		logger.Error("capture: opening device", "error", err)
		return
	}
	defer dev.Close()

	if err := w.selectChannel(ctx, dev, j.Channel); err != nil {
		logger.Error("capture: selecting channel", "error", err)
		return
	}

	if err := w.applyEncoderParams(dev, prof); err != nil {
		logger.Error("capture: applying encoder parameters", "error", err)
		return
	}

	workDir, err := w.createWorkDir(device, j)
	if err != nil {
		logger.Error("capture: creating working directory", "error", err)
		return
	}

	sourcePath := filepath.Join(workDir, j.Filename)
	file, err := w.Sandbox.OpenFile(sourcePath, fileCreateFlags, 0o644)
	if err != nil {
		logger.Error("capture: opening working file", "error", err)
		return
	}

	abortFlag := w.Coordinator.AbortFlag(device)
	started := w.Now()
	outcome := w.captureLoop(ctx, dev, file, j, abortFlag, logger)
	file.Close()
	duration := w.Now().Sub(started)

	if outcome == captureAbortedByFlag {
		completeCapture = false
		logger.Warn("capture: abort flag set, in-flight state preserved", "work_dir", workDir)
		return
	}
	if outcome == captureAbortedByFailure {
		logger.Warn("capture: recording aborted, leaving working file in place", "work_dir", workDir)
		return
	}

	if w.Scripts.PostRecordingEnabled() {
		if err := w.Scripts.RunPostRecording(ctx, sourcePath, duration); err != nil {
			logger.Warn("capture: post-recording script failed", "error", err)
		}
	}

	w.runTranscodes(ctx, device, j, sourcePath, logger)

	profiles := w.resolveProfiles(j)
	if anyKeepSource(profiles) {
		if err := w.moveToKeepLocation(workDir, sourcePath, j, profiles); err != nil {
			logger.Warn("capture: moving source to keep location", "error", err)
		}
		return
	}
	if err := w.Sandbox.RemoveAll(workDir); err != nil {
		logger.Warn("capture: removing working directory", "error", err)
	}
}

// selectPrimaryProfile resolves the job's highest-transcode-bitrate
// profile; its encoder settings configure the hardware for capture.
func (w *Worker) selectPrimaryProfile(j *job.Job) (*profile.Record, error) {
	profiles := w.resolveProfiles(j)
	if len(profiles) == 0 {
		return nil, fmt.Errorf("capture: job %d has no resolvable profiles", j.SeqNbr)
	}
	best := profiles[0]
	for _, p := range profiles[1:] {
		if p.TranscodeVideoBitrate() > best.TranscodeVideoBitrate() {
			best = p
		}
	}
	return best, nil
}

func (w *Worker) resolveProfiles(j *job.Job) []*profile.Record {
	out := make([]*profile.Record, 0, len(j.TranscodingProfiles))
	for _, name := range j.TranscodingProfiles {
		if rec, ok := w.Profiles.Lookup(name); ok {
			out = append(out, rec)
		}
	}
	return out
}

func anyKeepSource(profiles []*profile.Record) bool {
	for _, p := range profiles {
		if p.KeepSource || !p.UseTranscoding {
			return true
		}
	}
	return false
}

// keepSourceProfile returns the profile whose keep-source (or
// disabled-transcoding) request governs the destination subdirectory for
// moveToKeepLocation.
func keepSourceProfile(profiles []*profile.Record) *profile.Record {
	for _, p := range profiles {
		if p.KeepSource || !p.UseTranscoding {
			return p
		}
	}
	return profiles[0]
}

// moveToKeepLocation moves the raw captured file at sourcePath into the
// finished-recordings tree (§4.5 step 11), then removes the now-empty
// working directory.
func (w *Worker) moveToKeepLocation(workDir, sourcePath string, j *job.Job, profiles []*profile.Record) error {
	sourceAbs, err := w.Sandbox.ResolvePath(sourcePath)
	if err != nil {
		return fmt.Errorf("capture: resolving source path: %w", err)
	}
	finalRel, err := w.Transcoder.PlaceKeptSource(sourceAbs, keepSourceProfile(profiles))
	if err != nil {
		return fmt.Errorf("capture: placing kept source: %w", err)
	}
	w.Logger.Info("capture: kept source recording", "seq_nbr", j.SeqNbr, "path", finalRel)
	return w.Sandbox.RemoveAll(workDir)
}

const maxBusyRetries = 3

func (w *Worker) selectChannel(ctx context.Context, dev devicepool.Device, channel string) error {
	if w.Scripts.ChannelSwitchEnabled() {
		return w.Scripts.SwitchChannel(ctx, channel)
	}
	return w.retryOnBusy(func() error { return dev.SetChannel(channel) })
}

func (w *Worker) applyEncoderParams(dev devicepool.Device, prof *profile.Record) error {
	steps := []func() error{
		func() error { return dev.SetVideoBitrate(prof.VideoBitrateAvg, prof.VideoBitratePeak) },
		func() error { return dev.SetAudioBitrate(prof.AudioSampling, prof.AudioBitrate) },
		func() error { return dev.SetAspect(prof.Aspect) },
		func() error { return dev.SetFrameSize(prof.FrameSize) },
	}
	for _, step := range steps {
		if err := w.retryOnBusy(step); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, devicepool.ErrBusy) {
			return err
		}
		time.Sleep(w.retryDelay)
	}
	return err
}

func (w *Worker) createWorkDir(device int, j *job.Job) (string, error) {
	base := strings.TrimSuffix(j.Filename, filepath.Ext(j.Filename))
	parent := fmt.Sprintf("vtmp/vid%d", device)

	candidate := filepath.Join(parent, base)
	if ok, err := w.mkdirIfFree(candidate); err != nil {
		return "", err
	} else if ok {
		return candidate, nil
	}

	for n := 1; n <= maxWorkdirAttempts; n++ {
		candidate = filepath.Join(parent, fmt.Sprintf("%s_%02d", base, n))
		ok, err := w.mkdirIfFree(candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", ErrWorkdirExhausted
}

func (w *Worker) mkdirIfFree(relPath string) (bool, error) {
	exists, err := w.Sandbox.Exists(relPath)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := w.Sandbox.MkdirAll(relPath); err != nil {
		return false, err
	}
	return true, nil
}

// captureOutcome classifies how captureLoop stopped. The distinction
// between the two abort kinds matters to the caller: an operator abort
// must leave in_flight set (§8 scenario 5), while a device failure is
// treated like any other persistent device failure and clears it (§7).
type captureOutcome int

const (
	captureCompleted captureOutcome = iota
	captureAbortedByFlag
	captureAbortedByFailure
)

// captureLoop runs the read/write cycle until ts_end, an abort, or an
// unrecoverable error.
func (w *Worker) captureLoop(ctx context.Context, dev devicepool.Device, out io.Writer, j *job.Job, abortFlag *atomic.Bool, logger *slog.Logger) captureOutcome {
	buf := make([]byte, w.ChunkSize)
	for {
		if !w.Now().Before(j.TsEnd) {
			return captureCompleted
		}
		if abortFlag != nil && abortFlag.Load() {
			logger.Warn("capture: abort flag set")
			return captureAbortedByFlag
		}

		if err := dev.SelectReadable(ctx, w.SelectTimeout); err != nil {
			if errors.Is(err, devicepool.ErrTimeout) {
				logger.Error("capture: device stalled, select timed out")
			} else {
				logger.Error("capture: select error", "error", err)
			}
			return captureAbortedByFailure
		}

		n, err := dev.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				logger.Error("capture: write error", "error", werr)
				return captureAbortedByFailure
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return captureCompleted
			}
			logger.Error("capture: read error", "error", err)
			return captureAbortedByFailure
		}
	}
}

func (w *Worker) runTranscodes(ctx context.Context, device int, j *job.Job, sourcePath string, logger *slog.Logger) {
	profiles := w.resolveProfiles(j)
	if len(profiles) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, prof := range profiles {
		if !prof.UseTranscoding {
			continue
		}
		wg.Add(1)
		go func(p *profile.Record) {
			defer wg.Done()
			if err := w.Transcoder.Submit(ctx, j, p, sourcePath, device); err != nil {
				logger.Error("capture: transcode failed", "profile", p.Name, "error", err)
			}
		}(prof)
	}
	wg.Wait()
}
