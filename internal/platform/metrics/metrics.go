// Package metrics exposes Prometheus instrumentation for the packetizer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters updated by the packetization pipeline.
type Metrics struct {
	registry              *prometheus.Registry
	chunksPushedTotal     *prometheus.CounterVec
	segmentsTotal         *prometheus.CounterVec
	segmentBytesTotal     *prometheus.CounterVec
	finalizeFailuresTotal prometheus.Counter
	droppedNoticesTotal   prometheus.Counter
	manifestRequestsTotal prometheus.Counter
}

// New creates and registers the packetizer metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		chunksPushedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmaf_chunks_pushed_total",
			Help: "Low-latency chunks forwarded to the transfer sink",
		}, []string{"kind"}),
		segmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmaf_segments_finalized_total",
			Help: "Segments finalized and persisted",
		}, []string{"kind"}),
		segmentBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmaf_segment_bytes_total",
			Help: "Total bytes of finalized segment payloads",
		}, []string{"kind"}),
		finalizeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmaf_finalize_failures_total",
			Help: "Finalize attempts rejected by the segment store",
		}),
		droppedNoticesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmaf_sink_notices_dropped_total",
			Help: "Sink notifications dropped because the dispatch queue was full",
		}),
		manifestRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmaf_manifest_requests_total",
			Help: "Manifest retrievals served",
		}),
	}
	registry.MustRegister(
		m.chunksPushedTotal,
		m.segmentsTotal,
		m.segmentBytesTotal,
		m.finalizeFailuresTotal,
		m.droppedNoticesTotal,
		m.manifestRequestsTotal,
	)
	return m
}

func (m *Metrics) IncChunksPushed(kind string) { m.chunksPushedTotal.WithLabelValues(kind).Inc() }

func (m *Metrics) IncSegments(kind string, bytes int) {
	m.segmentsTotal.WithLabelValues(kind).Inc()
	m.segmentBytesTotal.WithLabelValues(kind).Add(float64(bytes))
}

func (m *Metrics) IncFinalizeFailures() { m.finalizeFailuresTotal.Inc() }

func (m *Metrics) IncDroppedNotices() { m.droppedNoticesTotal.Inc() }

func (m *Metrics) IncManifestRequests() { m.manifestRequestsTotal.Inc() }

// Handler serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
