package metrics

/*
crtshadow — certificate transparency hostname extractor
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registry          = prometheus.NewRegistry()
	defaultRegisterer = promauto.With(registry)
	metricsEnabled    bool
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Upstream request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	FallbacksTotal  prometheus.Counter
	ResponseBytes   prometheus.Histogram

	// Pipeline metrics
	RecordsReceived  prometheus.Gauge
	HostnamesFound   prometheus.Gauge
	HostnamesEmitted prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled = true
}

// Registry exposes the private registry so callers can gather or dump it.
func Registry() *prometheus.Registry {
	return registry
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	byteBuckets := []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 100 * 1024 * 1024}

	return &Metrics{
		RequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crtshadow_requests_total",
				Help: "Requests sent to the CT search service, by scheme and response status",
			},
			[]string{"scheme", "status"},
		),
		RequestDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crtshadow_request_duration_seconds",
				Help:    "Duration of single request attempts",
				Buckets: buckets,
			},
			[]string{"scheme"},
		),
		RetriesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crtshadow_retries_total",
				Help: "Attempts repeated after a retryable status or transport error",
			},
			[]string{"scheme"},
		),
		FallbacksTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "crtshadow_http_fallbacks_total",
				Help: "HTTPS request sequences that were re-issued over plain HTTP",
			},
		),
		ResponseBytes: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crtshadow_response_bytes",
				Help:    "Size of successful response bodies",
				Buckets: byteBuckets,
			},
		),
		RecordsReceived: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "crtshadow_records_received",
				Help: "Certificate records returned by the last fetch",
			},
		),
		HostnamesFound: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "crtshadow_hostnames_found",
				Help: "Distinct normalized hostnames before filtering",
			},
		),
		HostnamesEmitted: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "crtshadow_hostnames_emitted",
				Help: "Lines written after filtering and trimming",
			},
		),
		LastRunTimestamp: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "crtshadow_last_run_timestamp_seconds",
				Help: "Unix time the last run completed",
			},
		),
	}
}

// StatusLabel renders a response status for the status label; 0 means no response.
func StatusLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}

// ObserveRequest records one finished request attempt.
func (m *Metrics) ObserveRequest(scheme string, status int, d time.Duration) {
	if !metricsEnabled {
		return
	}
	m.RequestsTotal.WithLabelValues(scheme, StatusLabel(status)).Inc()
	m.RequestDuration.WithLabelValues(scheme).Observe(d.Seconds())
}

// ObserveRetry records a repeated attempt.
func (m *Metrics) ObserveRetry(scheme string) {
	if !metricsEnabled {
		return
	}
	m.RetriesTotal.WithLabelValues(scheme).Inc()
}

// ObserveFallback records an HTTPS to HTTP downgrade.
func (m *Metrics) ObserveFallback() {
	if !metricsEnabled {
		return
	}
	m.FallbacksTotal.Inc()
}

// ObserveResponseSize records the size of a successful body.
func (m *Metrics) ObserveResponseSize(n int) {
	if !metricsEnabled {
		return
	}
	m.ResponseBytes.Observe(float64(n))
}

// ObserveRun records the cardinalities of a completed pipeline run.
func (m *Metrics) ObserveRun(records, found, emitted int) {
	if !metricsEnabled {
		return
	}
	m.RecordsReceived.Set(float64(records))
	m.HostnamesFound.Set(float64(found))
	m.HostnamesEmitted.Set(float64(emitted))
	m.LastRunTimestamp.SetToCurrentTime()
}

// WriteTextfile dumps the registry in the Prometheus text format, suitable for the
// node_exporter textfile collector. The write is atomic.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("error writing metrics to %s: %w", path, err)
	}
	return nil
}
