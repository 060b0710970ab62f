package httpadmin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvcaptd/tvcaptd/internal/models"
	"github.com/tvcaptd/tvcaptd/internal/scheduler"
)

// fakeScheduler implements Scheduler against an in-memory job list, enough
// to exercise the handler layer without a real *scheduler.Scheduler.
type fakeScheduler struct {
	numDevices int
	jobs       []scheduler.JobSummary
	nextSeq    int64

	insertErr          error
	deleteErr          error
	updateProfileErr   error
	refreshErr         error
	lastKillOnShutdown *bool
}

func newFakeScheduler(numDevices int) *fakeScheduler {
	return &fakeScheduler{numDevices: numDevices}
}

func (f *fakeScheduler) Insert(req scheduler.InsertRequest) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextSeq++
	f.jobs = append(f.jobs, scheduler.JobSummary{
		SeqNbr:   f.nextSeq,
		Device:   0,
		Title:    req.Title,
		Channel:  req.Channel,
		Filename: req.Filename,
		TsStart:  req.TsStart,
		TsEnd:    req.TsEnd,
		Profiles: req.Profiles,
	})
	return f.nextSeq, nil
}

func (f *fakeScheduler) Delete(seqNbr int64, scope scheduler.DeleteScope) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, j := range f.jobs {
		if j.SeqNbr == seqNbr {
			f.jobs = append(f.jobs[:i], f.jobs[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeScheduler) UpdateProfile(seqNbr int64, profileName string) (bool, error) {
	if f.updateProfileErr != nil {
		return false, f.updateProfileErr
	}
	for i, j := range f.jobs {
		if j.SeqNbr == seqNbr {
			if len(j.Profiles) == 0 {
				j.Profiles = []string{profileName}
			} else {
				j.Profiles[0] = profileName
			}
			f.jobs[i] = j
			return true, nil
		}
	}
	return false, models.ErrNotFound
}

func (f *fakeScheduler) List() []scheduler.JobSummary { return append([]scheduler.JobSummary{}, f.jobs...) }

func (f *fakeScheduler) ListWithTimestamps() []scheduler.JobSummary { return f.List() }

func (f *fakeScheduler) Head(device int) (scheduler.JobSummary, bool, error) {
	for _, j := range f.jobs {
		if j.Device == device && !j.InFlight {
			return j, true, nil
		}
	}
	return scheduler.JobSummary{}, false, nil
}

func (f *fakeScheduler) InFlight(device int) (scheduler.JobSummary, bool, error) {
	for _, j := range f.jobs {
		if j.Device == device && j.InFlight {
			return j, true, nil
		}
	}
	return scheduler.JobSummary{}, false, nil
}

func (f *fakeScheduler) NextScheduled() (int, time.Time, scheduler.JobSummary, bool) {
	if len(f.jobs) == 0 {
		return 0, time.Time{}, scheduler.JobSummary{}, false
	}
	best := f.jobs[0]
	for _, j := range f.jobs[1:] {
		if j.TsStart.Before(best.TsStart) {
			best = j
		}
	}
	return best.Device, best.TsStart, best, true
}

func (f *fakeScheduler) Abort(device int) error {
	if device < 0 || device >= f.numDevices {
		return models.ErrNotFound
	}
	return nil
}

func (f *fakeScheduler) RefreshProfiles() error { return f.refreshErr }

func (f *fakeScheduler) KillAllTranscodes(onShutdown bool) { f.lastKillOnShutdown = &onShutdown }

func (f *fakeScheduler) NumDevices() int { return f.numDevices }

type fakeTranscodes struct{ active int }

func (f *fakeTranscodes) ActiveCount() int { return f.active }

func TestAddJobAndList(t *testing.T) {
	sched := newFakeScheduler(2)
	h := New(sched, &fakeTranscodes{}, nil)

	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)
	out, err := h.AddJob(context.Background(), &AddJobInput{Body: AddJobRequest{
		Title:    "News",
		Filename: "news",
		Channel:  "BBC1",
		TsStart:  start,
		TsEnd:    end,
		Profiles: []string{"default"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Body.SeqNbr)

	list, err := h.ListJobs(context.Background(), &ListJobsInput{})
	require.NoError(t, err)
	require.Len(t, list.Body.Jobs, 1)
	assert.Equal(t, "News", list.Body.Jobs[0].Title)
}

func TestAddJobCollisionMapsTo422(t *testing.T) {
	sched := newFakeScheduler(1)
	sched.insertErr = models.ErrCollides
	h := New(sched, nil, nil)

	_, err := h.AddJob(context.Background(), &AddJobInput{Body: AddJobRequest{
		Title: "X", Filename: "x", Channel: "BBC1",
		TsStart: time.Now().Add(time.Hour), TsEnd: time.Now().Add(2 * time.Hour),
	}})
	require.Error(t, err)
}

func TestDeleteJobNotFoundMapsTo404(t *testing.T) {
	sched := newFakeScheduler(1)
	h := New(sched, nil, nil)

	_, err := h.DeleteJob(context.Background(), &DeleteJobInput{Seq: 999})
	require.Error(t, err)
}

func TestAbortDeviceOutOfRange(t *testing.T) {
	sched := newFakeScheduler(1)
	h := New(sched, nil, nil)

	_, err := h.AbortDevice(context.Background(), &AbortDeviceInput{Device: 5})
	require.Error(t, err)

	out, err := h.AbortDevice(context.Background(), &AbortDeviceInput{Device: 0})
	require.NoError(t, err)
	assert.True(t, out.Body.Aborted)
}

func TestGetStatusReportsActiveTranscodes(t *testing.T) {
	sched := newFakeScheduler(1)
	h := New(sched, &fakeTranscodes{active: 3}, nil)

	out, err := h.GetStatus(context.Background(), &StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Body.ActiveTranscodes)
	require.Len(t, out.Body.Devices, 1)
}

func TestRefreshProfiles(t *testing.T) {
	sched := newFakeScheduler(1)
	h := New(sched, nil, nil)

	out, err := h.RefreshProfiles(context.Background(), &RefreshProfilesInput{})
	require.NoError(t, err)
	assert.True(t, out.Body.Refreshed)
}
