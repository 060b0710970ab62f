//go:build v4l2

package devicepool

import (
	"context"
	"fmt"
	"time"
)

// V4L2Device is where real V4L2 ioctl plumbing (tuner frequency maps,
// xawtv channel files, VIDIOC_S_FREQUENCY / VIDIOC_S_FMT ioctls) would
// attach. Out of scope per the capture-card control-plane carve-out; this
// stub exists only to make the seam concrete and buildable under the
// v4l2 tag.
type V4L2Device struct {
	DevicePath  string
	TunerPath   string
	ChannelFile string
}

// NewV4L2Device constructs a device bound to the given /dev node paths.
func NewV4L2Device(devicePath, tunerPath, channelFile string) *V4L2Device {
	return &V4L2Device{DevicePath: devicePath, TunerPath: tunerPath, ChannelFile: channelFile}
}

func (d *V4L2Device) Open(ctx context.Context) error {
	return fmt.Errorf("devicepool: v4l2 support not implemented in this build")
}

func (d *V4L2Device) Close() error { return nil }

func (d *V4L2Device) SelectReadable(ctx context.Context, timeout time.Duration) error {
	return fmt.Errorf("devicepool: v4l2 support not implemented in this build")
}

func (d *V4L2Device) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("devicepool: v4l2 support not implemented in this build")
}

func (d *V4L2Device) SetChannel(name string) error           { return ErrBusy }
func (d *V4L2Device) SetVideoBitrate(avg, peak int) error     { return ErrBusy }
func (d *V4L2Device) SetAudioBitrate(sampling, kbps int) error { return ErrBusy }
func (d *V4L2Device) SetAspect(aspect string) error           { return ErrBusy }
func (d *V4L2Device) SetFrameSize(name string) error          { return ErrBusy }
func (d *V4L2Device) SetInput(index int) error                { return ErrBusy }
