package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/tvcaptd/tvcaptd/internal/scheduler"
)

type fakeSchedulerStats struct {
	numDevices int
	jobs       []scheduler.JobSummary
}

func (f *fakeSchedulerStats) NumDevices() int              { return f.numDevices }
func (f *fakeSchedulerStats) List() []scheduler.JobSummary { return f.jobs }

type fakeTranscodeStats struct{ active int }

func (f *fakeTranscodeStats) ActiveCount() int { return f.active }

func gather(t *testing.T, c *Collector) []*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	mfs, err := reg.Gather()
	require.NoError(t, err)
	return mfs
}

func findMetric(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestCollectReportsQueueDepthAndInFlightPerDevice(t *testing.T) {
	sched := &fakeSchedulerStats{
		numDevices: 2,
		jobs: []scheduler.JobSummary{
			{Device: 0, InFlight: false},
			{Device: 0, InFlight: false},
			{Device: 1, InFlight: true},
		},
	}
	c := NewCollector(sched, &fakeTranscodeStats{active: 3})
	mfs := gather(t, c)

	depth := findMetric(mfs, "tvcaptd_device_queue_depth")
	require.NotNil(t, depth)
	require.Len(t, depth.Metric, 2)

	busy := findMetric(mfs, "tvcaptd_device_in_flight")
	require.NotNil(t, busy)
	require.Len(t, busy.Metric, 2)

	pool := findMetric(mfs, "tvcaptd_transcode_pool_active_count")
	require.NotNil(t, pool)
	require.Equal(t, float64(3), pool.Metric[0].GetGauge().GetValue())
}

func TestCollectWithNilTranscodeStatsReportsZero(t *testing.T) {
	sched := &fakeSchedulerStats{numDevices: 1}
	c := NewCollector(sched, nil)
	mfs := gather(t, c)

	pool := findMetric(mfs, "tvcaptd_transcode_pool_active_count")
	require.NotNil(t, pool)
	require.Equal(t, float64(0), pool.Metric[0].GetGauge().GetValue())
}

func TestCollectSkipsOutOfRangeDeviceIndexes(t *testing.T) {
	sched := &fakeSchedulerStats{
		numDevices: 1,
		jobs: []scheduler.JobSummary{
			{Device: 5, InFlight: true},
		},
	}
	c := NewCollector(sched, &fakeTranscodeStats{})
	mfs := gather(t, c)

	depth := findMetric(mfs, "tvcaptd_device_queue_depth")
	require.Len(t, depth.Metric, 1)
	require.Equal(t, float64(0), depth.Metric[0].GetGauge().GetValue())
}
