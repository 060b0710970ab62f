// Package devicepool provides the capture device abstraction: opaque
// handles for capture and tuner devices, channel selection, encoder
// parameter application, and blocking reads of an encoded byte stream.
// V4L2 ioctl plumbing itself is out of scope (spec carve-out); this
// package specifies only the capability surface the scheduler needs.
package devicepool

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBusy is returned by any device-control operation that should be
// retried by the caller after a short backoff.
var ErrBusy = errors.New("devicepool: device busy")

// Device is the capability surface a capture worker needs from a tuner
// and encoder pair. Each device-control method may return ErrBusy, in
// which case the caller retries (up to 3 attempts, per the capture worker
// steps).
type Device interface {
	// Open acquires the device and tuner handles for exclusive use.
	Open(ctx context.Context) error

	// Close releases the device and tuner handles. Safe to call after a
	// failed Open.
	Close() error

	// SelectReadable blocks until the device has data ready to read or
	// timeout elapses, returning ErrTimeout on timeout. Modeled after a select()-with-timeout call
	// on the underlying device descriptor.
	SelectReadable(ctx context.Context, timeout time.Duration) error

	// Read reads one chunk of encoded bytes into p, blocking until data
	// is available or EOF. Mirrors io.Reader semantics.
	io.Reader

	// SetChannel tunes to the named channel or station.
	SetChannel(name string) error

	// SetVideoBitrate sets the average/peak video bitrate in kbps.
	SetVideoBitrate(avgKbps, peakKbps int) error

	// SetAudioBitrate sets the audio bitrate in kbps and sampling rate in Hz.
	SetAudioBitrate(sampling, bitrateKbps int) error

	// SetAspect sets the aspect ratio code (e.g. "4:3", "16:9").
	SetAspect(aspect string) error

	// SetFrameSize sets the named frame size (e.g. "cif", "sif", "full").
	SetFrameSize(name string) error

	// SetInput selects the input source index (tuner, composite, s-video).
	SetInput(index int) error
}

// ErrTimeout is returned by SelectReadable when the timeout elapses
// without data becoming ready; treated by the capture worker as a device
// stall and aborted.
var ErrTimeout = errors.New("devicepool: select timeout")
