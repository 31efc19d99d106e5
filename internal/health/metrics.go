// SPDX-License-Identifier: MIT

package health

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernbank/camguard/internal/storage"
	"github.com/fernbank/camguard/internal/transcode"
)

// metricsSet holds the Prometheus collectors for camguard's health
// surface.
type metricsSet struct {
	registry *prometheus.Registry

	sourceHealthy *prometheus.GaugeVec
	sourceUptime  *prometheus.GaugeVec

	diskTotalBytes prometheus.Gauge
	diskFreeBytes  prometheus.Gauge
	diskUsedFrac   prometheus.Gauge

	transcodeSucceeded prometheus.Gauge
	transcodeFailed    prometheus.Gauge
	transcodeOriginalB prometheus.Gauge
	transcodeReplacedB prometheus.Gauge
}

func newMetricsSet() *metricsSet {
	reg := prometheus.NewRegistry()

	m := &metricsSet{
		registry: reg,
		sourceHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camguard_source_healthy",
			Help: "1 if the source's capture supervisor is running, 0 otherwise.",
		}, []string{"source"}),
		sourceUptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camguard_source_uptime_seconds",
			Help: "Seconds since the current supervised child started.",
		}, []string{"source"}),
		diskTotalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camguard_disk_total_bytes",
			Help: "Total capacity of the recordings volume.",
		}),
		diskFreeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camguard_disk_free_bytes",
			Help: "Free space remaining on the recordings volume.",
		}),
		diskUsedFrac: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camguard_disk_used_fraction",
			Help: "Fraction of the recordings volume currently used.",
		}),
		transcodeSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camguard_transcode_succeeded_total",
			Help: "Cumulative count of successful re-encodes.",
		}),
		transcodeFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camguard_transcode_failed_total",
			Help: "Cumulative count of failed re-encode attempts.",
		}),
		transcodeOriginalB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camguard_transcode_original_bytes_total",
			Help: "Cumulative bytes occupied by originals before re-encoding.",
		}),
		transcodeReplacedB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camguard_transcode_replaced_bytes_total",
			Help: "Cumulative bytes occupied by re-encoded replacements.",
		}),
	}

	reg.MustRegister(
		m.sourceHealthy,
		m.sourceUptime,
		m.diskTotalBytes,
		m.diskFreeBytes,
		m.diskUsedFrac,
		m.transcodeSucceeded,
		m.transcodeFailed,
		m.transcodeOriginalB,
		m.transcodeReplacedB,
	)

	return m
}

func (m *metricsSet) setSourceHealthy(sourceID string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.sourceHealthy.WithLabelValues(sourceID).Set(v)
}

func (m *metricsSet) setSourceUptime(sourceID string, d time.Duration) {
	m.sourceUptime.WithLabelValues(sourceID).Set(d.Seconds())
}

func (m *metricsSet) setDiskUsage(u storage.Usage) {
	m.diskTotalBytes.Set(float64(u.TotalBytes))
	m.diskFreeBytes.Set(float64(u.FreeBytes))
	m.diskUsedFrac.Set(u.UsedFraction)
}

func (m *metricsSet) setTranscodeStats(s transcode.Stats) {
	m.transcodeSucceeded.Set(float64(s.Succeeded))
	m.transcodeFailed.Set(float64(s.Failed))
	m.transcodeOriginalB.Set(float64(s.OriginalBytes))
	m.transcodeReplacedB.Set(float64(s.ReplacedBytes))
}

func (m *metricsSet) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
