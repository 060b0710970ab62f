package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tvcaptd/tvcaptd/internal/scheduler"
)

// SchedulerStats is the subset of *scheduler.Scheduler the collector reads
// at scrape time to report per-device queue depth and occupancy.
type SchedulerStats interface {
	NumDevices() int
	List() []scheduler.JobSummary
}

// TranscodeStats is the subset of *transcode.Pool the collector reads at
// scrape time to report pool occupancy.
type TranscodeStats interface {
	ActiveCount() int
}

// Collector implements prometheus.Collector to read live scheduler and
// transcode pool state at scrape time rather than on every mutation.
type Collector struct {
	sched      SchedulerStats
	transcodes TranscodeStats

	queueDepth    *prometheus.Desc
	deviceBusy    *prometheus.Desc
	transcodeBusy *prometheus.Desc
}

// NewCollector constructs a Collector. transcodes may be nil if the
// transcode pool hasn't started yet; occupancy reports zero in that case.
func NewCollector(sched SchedulerStats, transcodes TranscodeStats) *Collector {
	return &Collector{
		sched:      sched,
		transcodes: transcodes,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "queue_depth"),
			"Number of pending jobs queued on a device.",
			[]string{"device"}, nil,
		),
		deviceBusy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "in_flight"),
			"Whether a device currently has a capture in flight (1) or not (0).",
			[]string{"device"}, nil,
		),
		transcodeBusy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "transcode_pool", "active_count"),
			"Number of transcode processes currently running.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.deviceBusy
	ch <- c.transcodeBusy
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	n := c.sched.NumDevices()
	depth := make([]int, n)
	busy := make([]bool, n)
	for _, s := range c.sched.List() {
		if s.Device < 0 || s.Device >= n {
			continue
		}
		if s.InFlight {
			busy[s.Device] = true
		} else {
			depth[s.Device]++
		}
	}
	for d := 0; d < n; d++ {
		label := strconv.Itoa(d)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth[d]), label)
		busyVal := 0.0
		if busy[d] {
			busyVal = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.deviceBusy, prometheus.GaugeValue, busyVal, label)
	}

	active := 0
	if c.transcodes != nil {
		active = c.transcodes.ActiveCount()
	}
	ch <- prometheus.MustNewConstMetric(c.transcodeBusy, prometheus.GaugeValue, float64(active))
}
