package capture

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvcaptd/tvcaptd/internal/devicepool"
	"github.com/tvcaptd/tvcaptd/internal/job"
	"github.com/tvcaptd/tvcaptd/internal/profile"
	"github.com/tvcaptd/tvcaptd/internal/scripts"
	"github.com/tvcaptd/tvcaptd/internal/storage"
)

type fakeDevice struct {
	mu       sync.Mutex
	chunks   [][]byte
	idx      int
	opened   bool
	channel  string
	closed   bool
	selectErr error
}

func (d *fakeDevice) Open(ctx context.Context) error  { d.opened = true; return nil }
func (d *fakeDevice) Close() error                    { d.closed = true; return nil }
func (d *fakeDevice) SelectReadable(ctx context.Context, timeout time.Duration) error {
	if d.selectErr != nil {
		return d.selectErr
	}
	return nil
}
func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.chunks) {
		return 0, io.EOF
	}
	n := copy(p, d.chunks[d.idx])
	d.idx++
	return n, nil
}
func (d *fakeDevice) SetChannel(name string) error                    { d.channel = name; return nil }
func (d *fakeDevice) SetVideoBitrate(avg, peak int) error              { return nil }
func (d *fakeDevice) SetAudioBitrate(sampling, bitrate int) error      { return nil }
func (d *fakeDevice) SetAspect(aspect string) error                    { return nil }
func (d *fakeDevice) SetFrameSize(name string) error                   { return nil }
func (d *fakeDevice) SetInput(index int) error                         { return nil }

type fakeCoordinator struct {
	flags     map[int]*atomic.Bool
	completed []int
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{flags: map[int]*atomic.Bool{}}
}
func (c *fakeCoordinator) AbortFlag(device int) *atomic.Bool {
	if c.flags[device] == nil {
		c.flags[device] = &atomic.Bool{}
	}
	return c.flags[device]
}
func (c *fakeCoordinator) CompleteCapture(device int) { c.completed = append(c.completed, device) }

type fakeTranscoder struct {
	mu        sync.Mutex
	calls     []string
	keptPaths []string
}

func (f *fakeTranscoder) Submit(ctx context.Context, j *job.Job, prof *profile.Record, sourcePath string, device int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, prof.Name)
	return nil
}

func (f *fakeTranscoder) PlaceKeptSource(sourceAbs string, prof *profile.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keptPaths = append(f.keptPaths, sourceAbs)
	return filepath.Join("mp4", prof.Name, filepath.Base(sourceAbs)), nil
}

func testWorker(t *testing.T, dev devicepool.Device, coord *fakeCoordinator, transcoder *fakeTranscoder, profiles map[string]*profile.Record, now time.Time) *Worker {
	t.Helper()
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	reg := profile.NewRegistry("default")
	reg.Replace(profiles)

	scr := scripts.NewRunner("", "", "", "")

	w := NewWorker(func(device int) (devicepool.Device, error) { return dev, nil }, reg, scr, sandbox, coord, transcoder, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.SelectTimeout = time.Millisecond
	w.retryDelay = time.Millisecond
	w.Now = func() time.Time { return now }
	return w
}

func TestRunCapturesWritesDataAndCompletes(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	dev := &fakeDevice{chunks: [][]byte{[]byte("hello"), []byte("world")}}
	coord := newFakeCoordinator()
	transcoder := &fakeTranscoder{}
	profiles := map[string]*profile.Record{
		"default": {Name: "default", TranscodeBitrate: 1000, UseTranscoding: true},
	}
	w := testWorker(t, dev, coord, transcoder, profiles, now)

	j := &job.Job{
		SeqNbr:              1,
		Title:               "News",
		Filename:            "news.ts",
		Channel:             "BBC1",
		TsStart:             now,
		TsEnd:               now.Add(time.Hour), // clock is fixed, so the loop runs until Read hits EOF
		Device:              0,
		TranscodingProfiles: []string{"default"},
	}

	w.run(0, j)

	assert.True(t, dev.opened)
	assert.True(t, dev.closed)
	assert.Equal(t, "BBC1", dev.channel)
	assert.Equal(t, []int{0}, coord.completed)
	assert.Equal(t, []string{"default"}, transcoder.calls)
}

func TestRunAbortsOnSelectTimeout(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	dev := &fakeDevice{selectErr: devicepool.ErrTimeout}
	coord := newFakeCoordinator()
	transcoder := &fakeTranscoder{}
	profiles := map[string]*profile.Record{
		"default": {Name: "default"},
	}
	w := testWorker(t, dev, coord, transcoder, profiles, now)

	j := &job.Job{
		SeqNbr:              2,
		Filename:            "movie.ts",
		Channel:             "ITV",
		TsStart:             now,
		TsEnd:               now.Add(time.Hour),
		TranscodingProfiles: []string{"default"},
	}

	w.run(0, j)

	assert.Equal(t, []int{0}, coord.completed)
	assert.Empty(t, transcoder.calls)
}

func TestRunHonorsAbortFlag(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	dev := &fakeDevice{chunks: [][]byte{[]byte("x")}}
	coord := newFakeCoordinator()
	coord.AbortFlag(0).Store(true)
	transcoder := &fakeTranscoder{}
	profiles := map[string]*profile.Record{"default": {Name: "default"}}
	w := testWorker(t, dev, coord, transcoder, profiles, now)

	j := &job.Job{
		SeqNbr:              3,
		Filename:            "show.ts",
		Channel:             "BBC1",
		TsStart:             now,
		TsEnd:               now.Add(time.Hour),
		TranscodingProfiles: []string{"default"},
	}

	w.run(0, j)
	assert.Empty(t, transcoder.calls)
	// An operator abort leaves in_flight set: the dispatcher/lifecycle
	// manager decide what happens next, not the capture worker.
	assert.Empty(t, coord.completed)
}

func TestRunKeepSourceMovesFileInsteadOfTranscoding(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	dev := &fakeDevice{chunks: [][]byte{[]byte("raw-bytes")}}
	coord := newFakeCoordinator()
	transcoder := &fakeTranscoder{}
	profiles := map[string]*profile.Record{
		"archive": {Name: "archive", KeepSource: true, UseTranscoding: false},
	}
	w := testWorker(t, dev, coord, transcoder, profiles, now)

	j := &job.Job{
		SeqNbr:              4,
		Filename:            "film.ts",
		Channel:             "BBC1",
		TsStart:             now,
		TsEnd:               now.Add(time.Hour),
		TranscodingProfiles: []string{"archive"},
	}

	w.run(0, j)

	assert.Equal(t, []int{0}, coord.completed)
	assert.Empty(t, transcoder.calls, "profiles with transcoding disabled never go through Submit")
	require.Len(t, transcoder.keptPaths, 1)
	assert.Contains(t, transcoder.keptPaths[0], filepath.Join("vtmp", "vid0", "film", "film.ts"))

	exists, err := w.Sandbox.Exists("vtmp/vid0/film")
	require.NoError(t, err)
	assert.False(t, exists, "working directory must be removed once the source is moved to its keep location")
}

func TestSelectPrimaryProfileChoosesHighestBitrate(t *testing.T) {
	now := time.Now()
	dev := &fakeDevice{}
	coord := newFakeCoordinator()
	transcoder := &fakeTranscoder{}
	profiles := map[string]*profile.Record{
		"low":  {Name: "low", TranscodeBitrate: 500},
		"high": {Name: "high", TranscodeBitrate: 4000},
	}
	w := testWorker(t, dev, coord, transcoder, profiles, now)

	j := &job.Job{TranscodingProfiles: []string{"low", "high"}}
	prof, err := w.selectPrimaryProfile(j)
	require.NoError(t, err)
	assert.Equal(t, "high", prof.Name)
}

func TestCreateWorkDirAppendsCollisionSuffix(t *testing.T) {
	now := time.Now()
	dev := &fakeDevice{}
	coord := newFakeCoordinator()
	w := testWorker(t, dev, coord, &fakeTranscoder{}, map[string]*profile.Record{"default": {Name: "default"}}, now)

	j := &job.Job{Filename: "movie.ts"}
	first, err := w.createWorkDir(0, j)
	require.NoError(t, err)
	assert.Equal(t, "vtmp/vid0/movie", first)

	second, err := w.createWorkDir(0, j)
	require.NoError(t, err)
	assert.Equal(t, "vtmp/vid0/movie_01", second)
}

func TestCaptureLoopCompletesOnEOF(t *testing.T) {
	now := time.Now()
	dev := &fakeDevice{}
	w := testWorker(t, dev, newFakeCoordinator(), &fakeTranscoder{}, map[string]*profile.Record{"default": {Name: "default"}}, now)

	var buf bytes.Buffer
	j := &job.Job{TsEnd: now.Add(time.Hour)}
	flag := &atomic.Bool{}

	// No chunks queued means Read returns io.EOF immediately, a normal
	// (non-aborted) stop.
	outcome := w.captureLoop(context.Background(), dev, &buf, j, flag, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, captureCompleted, outcome)
}

func TestRetryOnBusyGivesUpAfterThreeAttempts(t *testing.T) {
	w := testWorker(t, &fakeDevice{}, newFakeCoordinator(), &fakeTranscoder{}, map[string]*profile.Record{"default": {Name: "default"}}, time.Now())
	attempts := 0
	err := w.retryOnBusy(func() error {
		attempts++
		return devicepool.ErrBusy
	})
	assert.ErrorIs(t, err, devicepool.ErrBusy)
	assert.Equal(t, 3, attempts)
}
