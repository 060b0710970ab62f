package devicepool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// FileDevice is a Device implementation that reads from a looping local
// file instead of real hardware, for local development and CI. It is also
// writable by tests: SetBusyCount makes the next N device-control calls
// return ErrBusy before succeeding, exercising the capture worker's
// retry-on-Busy path without real hardware.
type FileDevice struct {
	SourcePath string

	mu       sync.Mutex
	file     *os.File
	offset   int64
	opened   bool
	channel  string
	input    int
	busyLeft atomic.Int32
}

// NewFileDevice constructs a FileDevice reading from sourcePath.
func NewFileDevice(sourcePath string) *FileDevice {
	return &FileDevice{SourcePath: sourcePath}
}

// SetBusyCount arranges for the next n device-control calls (SetChannel,
// SetVideoBitrate, SetAudioBitrate, SetAspect, SetFrameSize, SetInput) to
// return ErrBusy.
func (d *FileDevice) SetBusyCount(n int) { d.busyLeft.Store(int32(n)) }

func (d *FileDevice) maybeBusy() error {
	for {
		cur := d.busyLeft.Load()
		if cur <= 0 {
			return nil
		}
		if d.busyLeft.CompareAndSwap(cur, cur-1) {
			return ErrBusy
		}
	}
}

// Open opens the backing source file for reading.
func (d *FileDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}
	f, err := os.Open(d.SourcePath)
	if err != nil {
		return fmt.Errorf("devicepool: opening source %s: %w", d.SourcePath, err)
	}
	d.file = f
	d.opened = true
	d.offset = 0
	return nil
}

// Close releases the backing file handle.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	err := d.file.Close()
	d.file = nil
	return err
}

// SelectReadable always reports readiness immediately for a file-backed
// device; real hardware would block on descriptor readiness here.
func (d *FileDevice) SelectReadable(ctx context.Context, timeout time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Read reads the next chunk from the source file, looping back to the
// start on EOF so a short sample file can serve an arbitrarily long
// simulated capture.
func (d *FileDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return 0, fmt.Errorf("devicepool: read on unopened device")
	}

	n, err := d.file.ReadAt(p, d.offset)
	if n == 0 && err != nil && d.offset > 0 {
		d.offset = 0
		n, err = d.file.ReadAt(p, 0)
	}
	d.offset += int64(n)
	if err != nil {
		if _, seekErr := d.file.Seek(0, 0); seekErr == nil {
			d.offset = 0
		}
	}
	return n, nil
}

// SetChannel records the selected channel name.
func (d *FileDevice) SetChannel(name string) error {
	if err := d.maybeBusy(); err != nil {
		return err
	}
	d.mu.Lock()
	d.channel = name
	d.mu.Unlock()
	return nil
}

// Channel returns the last channel set, for assertions in tests.
func (d *FileDevice) Channel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

// SetVideoBitrate is a no-op beyond busy simulation for the fake device.
func (d *FileDevice) SetVideoBitrate(avgKbps, peakKbps int) error { return d.maybeBusy() }

// SetAudioBitrate is a no-op beyond busy simulation for the fake device.
func (d *FileDevice) SetAudioBitrate(sampling, bitrateKbps int) error { return d.maybeBusy() }

// SetAspect is a no-op beyond busy simulation for the fake device.
func (d *FileDevice) SetAspect(aspect string) error { return d.maybeBusy() }

// SetFrameSize is a no-op beyond busy simulation for the fake device.
func (d *FileDevice) SetFrameSize(name string) error { return d.maybeBusy() }

// SetInput records the selected input index.
func (d *FileDevice) SetInput(index int) error {
	if err := d.maybeBusy(); err != nil {
		return err
	}
	d.mu.Lock()
	d.input = index
	d.mu.Unlock()
	return nil
}
