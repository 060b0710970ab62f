package transcode

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvcaptd/tvcaptd/internal/history"
	"github.com/tvcaptd/tvcaptd/internal/job"
	"github.com/tvcaptd/tvcaptd/internal/profile"
	"github.com/tvcaptd/tvcaptd/internal/storage"
)

func testPool(t *testing.T, cfg Config) (*Pool, *storage.Sandbox) {
	t.Helper()
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	hist := history.New(sandbox, "history.xml", 64, nil)
	p := New(cfg, sandbox, hist, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.sleep = func(time.Duration) {}
	return p, sandbox
}

func TestSubmitSkipsDisabledProfile(t *testing.T) {
	p, _ := testPool(t, Config{})
	j := &job.Job{SeqNbr: 1, Title: "News"}
	prof := &profile.Record{Name: "raw", UseTranscoding: false}
	assert.NoError(t, p.Submit(context.Background(), j, prof, "vtmp/vid0/news/news.ts", 0))
}

func TestSubmitReturnsBusyAtCapacity(t *testing.T) {
	p, _ := testPool(t, Config{MaxThreads: 1})
	p.sem <- struct{}{} // occupy the only slot
	j := &job.Job{SeqNbr: 1}
	prof := &profile.Record{Name: "default", UseTranscoding: true}
	err := p.Submit(context.Background(), j, prof, "vtmp/vid0/x/x.ts", 0)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestAwaitLoadAdmissionPassesWhenBelowThreshold(t *testing.T) {
	p, _ := testPool(t, Config{MaxLoadForTranscode: 4.0})
	p.loadAvg = func() (float64, error) { return 1.0, nil }
	err := p.awaitLoadAdmission(context.Background())
	assert.NoError(t, err)
}

func TestAwaitLoadAdmissionAbortsOnOverload(t *testing.T) {
	p, _ := testPool(t, Config{
		MaxLoadForTranscode: 1.0,
		Backoff:             300 * time.Second,
		MaxWaitingTime:      600 * time.Second,
	})
	p.loadAvg = func() (float64, error) { return 10.0, nil }
	err := p.awaitLoadAdmission(context.Background())
	assert.ErrorIs(t, err, ErrOverLoaded)
}

func TestContainerExtDefaultsToMp4(t *testing.T) {
	assert.Equal(t, ".mp4", containerExt(&profile.Record{}))
	assert.Equal(t, ".mkv", containerExt(&profile.Record{ContainerExt: "mkv"}))
	assert.Equal(t, ".mkv", containerExt(&profile.Record{ContainerExt: ".mkv"}))
}

func TestPlaceOutputAppendsCollisionSuffix(t *testing.T) {
	p, sandbox := testPool(t, Config{})
	require.NoError(t, sandbox.WriteFile("scratch/a.mp4", []byte("a")))
	require.NoError(t, sandbox.WriteFile("scratch/b.mp4", []byte("b")))

	outputA, err := sandbox.ResolvePath("scratch/a.mp4")
	require.NoError(t, err)
	destA, err := p.placeOutput(outputA, &profile.Record{Name: "default"})
	require.NoError(t, err)
	assert.Equal(t, "mp4/output.mp4", destA)

	outputB, err := sandbox.ResolvePath("scratch/b.mp4")
	require.NoError(t, err)
	destB, err := p.placeOutput(outputB, &profile.Record{Name: "default"})
	require.NoError(t, err)
	assert.Equal(t, "mp4/output_001.mp4", destB)
}

func TestPlaceOutputUsesProfileDirectoryWhenEnabled(t *testing.T) {
	p, sandbox := testPool(t, Config{ProfileDirectories: true})
	require.NoError(t, sandbox.WriteFile("scratch/a.mp4", []byte("a")))
	outputA, err := sandbox.ResolvePath("scratch/a.mp4")
	require.NoError(t, err)

	dest, err := p.placeOutput(outputA, &profile.Record{Name: "hq"})
	require.NoError(t, err)
	assert.Equal(t, "mp4/hq/output.mp4", dest)
}

func TestKillAllWithNoActiveProcessesIsNoOp(t *testing.T) {
	p, _ := testPool(t, Config{})
	assert.NotPanics(t, func() { p.KillAll(true) })
}
