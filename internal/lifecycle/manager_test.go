package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvcaptd/tvcaptd/internal/scheduler"
)

type fakeScheduler struct {
	mu        sync.Mutex
	numDevices int
	aborted   []int
	inFlight  map[int]bool
	killed    []bool
}

func newFakeScheduler(n int) *fakeScheduler {
	return &fakeScheduler{numDevices: n, inFlight: map[int]bool{}}
}

func (f *fakeScheduler) NumDevices() int { return f.numDevices }
func (f *fakeScheduler) Abort(device int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, device)
	return nil
}
func (f *fakeScheduler) InFlight(device int) (scheduler.JobSummary, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scheduler.JobSummary{}, f.inFlight[device], nil
}
func (f *fakeScheduler) KillAllTranscodes(onShutdown bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, onShutdown)
}
func (f *fakeScheduler) setInFlight(device int, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[device] = v
}

type fakeFlusher struct{ flushed int }

func (f *fakeFlusher) Flush() error { f.flushed++; return nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunCompletesOnContextCancel(t *testing.T) {
	sched := newFakeScheduler(2)
	flusher := &fakeFlusher{}
	m := New(sched, time.Second, testLogger(), flusher)
	m.devicePoll = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete after context cancel")
	}

	assert.ElementsMatch(t, []int{0, 1}, sched.aborted)
	assert.Equal(t, []bool{true}, sched.killed)
	assert.Equal(t, 1, flusher.flushed)
	assert.True(t, m.ShutdownRequested())
}

func TestShutdownWaitsForDevicesToGoIdle(t *testing.T) {
	sched := newFakeScheduler(1)
	sched.setInFlight(0, true)
	m := New(sched, time.Second, testLogger())
	m.devicePoll = 5 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		sched.setInFlight(0, false)
	}()

	start := time.Now()
	m.shutdown()
	elapsed := time.Since(start)

	require.True(t, elapsed < time.Second, "shutdown should return once the device goes idle, not wait the full timeout")
	assert.Equal(t, []bool{true}, sched.killed)
}

func TestShutdownProceedsAfterTimeoutIfDeviceStaysBusy(t *testing.T) {
	sched := newFakeScheduler(1)
	sched.setInFlight(0, true)
	m := New(sched, 20*time.Millisecond, testLogger())
	m.devicePoll = 5 * time.Millisecond

	m.shutdown()
	assert.Equal(t, []bool{true}, sched.killed)
}

func TestRunOnSignal(t *testing.T) {
	sched := newFakeScheduler(0)
	m := New(sched, time.Second, testLogger())
	m.devicePoll = time.Millisecond

	done := make(chan struct{})
	go func() { m.Run(context.Background()); close(done) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete after SIGHUP")
	}
}
