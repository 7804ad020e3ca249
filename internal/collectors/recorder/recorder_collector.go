// Package recorder exposes the SMRA recording core's counters and buffer
// occupancy as Prometheus metrics.
package recorder

import (
	"strconv"

	"smra_exporter/internal/logger"
	"smra_exporter/internal/smra"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements prometheus.Collector for the recording session.
// Lifetime counters come from the session's lock-free atomics; per-target
// gauges are read under the registry lock at scrape time, mirroring how the
// post-processor snapshots buffers (brief lock, no work under it).
type Collector struct {
	session *smra.Session
	log     log.Logger

	recordedDesc  *prometheus.Desc
	droppedDesc   *prometheus.Desc
	untrackedDesc *prometheus.Desc
	skippedDesc   *prometheus.Desc
	enabledDesc   *prometheus.Desc
	targetsDesc   *prometheus.Desc
	usedDesc      *prometheus.Desc
	capacityDesc  *prometheus.Desc
}

// NewCollector creates a collector bound to one session.
func NewCollector(session *smra.Session) *Collector {
	return &Collector{
		session: session,
		log:     logger.New("recorder_collector"),
		recordedDesc: prometheus.NewDesc(
			"smra_faults_recorded_total",
			"Fault events appended to a target buffer.",
			nil, nil),
		droppedDesc: prometheus.NewDesc(
			"smra_faults_dropped_total",
			"Fault events dropped because the target buffer was full.",
			nil, nil),
		untrackedDesc: prometheus.NewDesc(
			"smra_faults_untracked_total",
			"Fault events for processes with no registered target.",
			nil, nil),
		skippedDesc: prometheus.NewDesc(
			"smra_faults_skipped_total",
			"Fault events seen while recording was disabled or without a backing file.",
			nil, nil),
		enabledDesc: prometheus.NewDesc(
			"smra_recording_enabled",
			"Whether the recorder currently accepts fault events.",
			nil, nil),
		targetsDesc: prometheus.NewDesc(
			"smra_targets",
			"Registered recording targets.",
			nil, nil),
		// A pid can be registered more than once, the slot label keeps
		// duplicate targets apart.
		usedDesc: prometheus.NewDesc(
			"smra_buffer_used_records",
			"Records currently held in a target's buffer.",
			[]string{"slot", "pid"}, nil),
		capacityDesc: prometheus.NewDesc(
			"smra_buffer_capacity_records",
			"Record capacity of a target's buffer.",
			[]string{"slot", "pid"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordedDesc
	ch <- c.droppedDesc
	ch <- c.untrackedDesc
	ch <- c.skippedDesc
	ch <- c.enabledDesc
	ch <- c.targetsDesc
	ch <- c.usedDesc
	ch <- c.capacityDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.session.Stats()
	ch <- prometheus.MustNewConstMetric(c.recordedDesc, prometheus.CounterValue, float64(stats.Recorded))
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(stats.Dropped))
	ch <- prometheus.MustNewConstMetric(c.untrackedDesc, prometheus.CounterValue, float64(stats.Untracked))
	ch <- prometheus.MustNewConstMetric(c.skippedDesc, prometheus.CounterValue, float64(stats.Skipped))

	enabled := 0.0
	if c.session.Enabled() {
		enabled = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.enabledDesc, prometheus.GaugeValue, enabled)
	ch <- prometheus.MustNewConstMetric(c.targetsDesc, prometheus.GaugeValue, float64(c.session.TargetCount()))

	c.session.RangeTargets(func(slot int, pid int32, used, capacity int) bool {
		slotStr := strconv.Itoa(slot)
		pidStr := strconv.FormatInt(int64(pid), 10)
		ch <- prometheus.MustNewConstMetric(c.usedDesc, prometheus.GaugeValue, float64(used), slotStr, pidStr)
		ch <- prometheus.MustNewConstMetric(c.capacityDesc, prometheus.GaugeValue, float64(capacity), slotStr, pidStr)
		return true
	})

	c.log.Debug().Msg("Collected recorder metrics")
}
