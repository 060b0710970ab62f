// Package scripts runs the external collaborator scripts the capture and
// power subsystems invoke (channel switch, post-recording, shutdown,
// startup), each with the argument grammar fixed by the external
// interfaces contract. A configured path of "" means the collaborator is
// disabled: callers skip invoking it entirely rather than running an empty
// command.
package scripts

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Runner invokes the four external scripts. Grounded on internal/ffmpeg's
// os/exec usage pattern (the teacher's only other process-spawning code),
// generalized to plain one-shot scripts instead of a long-running encoder.
type Runner struct {
	ChannelSwitch string
	PostRecording string
	Shutdown      string
	Startup       string
}

// NewRunner constructs a Runner from the four configured script paths.
func NewRunner(channelSwitch, postRecording, shutdown, startup string) *Runner {
	return &Runner{
		ChannelSwitch: channelSwitch,
		PostRecording: postRecording,
		Shutdown:      shutdown,
		Startup:       startup,
	}
}

// ChannelSwitchEnabled reports whether a channel-switch script is configured.
func (r *Runner) ChannelSwitchEnabled() bool { return r.ChannelSwitch != "" }

// SwitchChannel runs "channel_switch.sh <station>". Exit status 0 is success.
func (r *Runner) SwitchChannel(ctx context.Context, station string) error {
	if r.ChannelSwitch == "" {
		return fmt.Errorf("scripts: channel switch script not configured")
	}
	return run(ctx, r.ChannelSwitch, station)
}

// PostRecordingEnabled reports whether a post-recording script is configured.
func (r *Runner) PostRecordingEnabled() bool { return r.PostRecording != "" }

// RunPostRecording runs the post-recording script with "-f <file> -t <duration_seconds>".
func (r *Runner) RunPostRecording(ctx context.Context, filePath string, duration time.Duration) error {
	if r.PostRecording == "" {
		return nil
	}
	seconds := strconv.Itoa(int(duration.Seconds()))
	return run(ctx, r.PostRecording, "-f", filePath, "-t", seconds)
}

// ShutdownEnabled reports whether a shutdown script is configured.
func (r *Runner) ShutdownEnabled() bool { return r.Shutdown != "" }

// RunShutdown runs the shutdown script with "-t <delay_seconds>".
func (r *Runner) RunShutdown(ctx context.Context, delay time.Duration) error {
	if r.Shutdown == "" {
		return fmt.Errorf("scripts: shutdown script not configured")
	}
	seconds := strconv.Itoa(int(delay.Seconds()))
	return run(ctx, r.Shutdown, "-t", seconds)
}

// RunStartup runs the startup script with "-d <datadir> -c <confdir> -a <autoshutdown_yes_or_no>".
func (r *Runner) RunStartup(ctx context.Context, dataDir, confDir string, autoShutdown bool) error {
	if r.Startup == "" {
		return nil
	}
	flag := "no"
	if autoShutdown {
		flag = "yes"
	}
	return run(ctx, r.Startup, "-d", dataDir, "-c", confDir, "-a", flag)
}

func run(ctx context.Context, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("scripts: running %s: %w (output: %s)", path, err, trimOutput(out))
	}
	return nil
}

func trimOutput(out []byte) string {
	const maxLen = 512
	if len(out) > maxLen {
		return string(out[:maxLen]) + "...(truncated)"
	}
	return string(out)
}
