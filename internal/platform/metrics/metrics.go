package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors shared by both binaries (HTTP
// traffic) plus the submission pipeline collectors of the server.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	errorsTotal   prometheus.Counter

	submissionsTotal  prometheus.Counter
	rejectedTotal     prometheus.Counter
	synthFailedTotal  prometheus.Counter
	synthDuration     prometheus.Histogram
	playlistRecords   prometheus.Gauge
	synthJobsInFlight prometheus.Gauge
}

// New creates and registers the HTTP and submission metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framecast_http_requests_total",
			Help: "Total number of HTTP requests received, by status class",
		}, []string{"class"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		submissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_submissions_total",
			Help: "Submissions that produced a playlist record",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_submissions_rejected_total",
			Help: "Submissions rejected because the completion claim was false",
		}),
		synthFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_synthesis_failures_total",
			Help: "Synthesis jobs that ended in failure",
		}),
		synthDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "framecast_synthesis_duration_seconds",
			Help:    "Wall time of successful synthesis jobs",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		playlistRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "framecast_playlist_records",
			Help: "Number of records in the playlist store",
		}),
		synthJobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "framecast_synthesis_jobs_in_flight",
			Help: "Synthesis jobs queued or running",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.submissionsTotal,
		m.rejectedTotal,
		m.synthFailedTotal,
		m.synthDuration,
		m.playlistRecords,
		m.synthJobsInFlight,
	)
	return m
}

// Registry exposes the private registry so other collector sets (the display
// metrics) can register on it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest counts one HTTP response.
func (m *Metrics) ObserveRequest(status int) {
	m.requestsTotal.WithLabelValues(statusClass(status)).Inc()
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

// IncSubmissions increments the accepted submissions counter.
func (m *Metrics) IncSubmissions() {
	m.submissionsTotal.Inc()
}

// IncRejected increments the rejected claims counter.
func (m *Metrics) IncRejected() {
	m.rejectedTotal.Inc()
}

// IncSynthFailed increments the synthesis failure counter.
func (m *Metrics) IncSynthFailed() {
	m.synthFailedTotal.Inc()
}

// ObserveSynthesis records the duration of a successful synthesis.
func (m *Metrics) ObserveSynthesis(d time.Duration) {
	m.synthDuration.Observe(d.Seconds())
}

// SetPlaylistRecords sets the playlist size gauge.
func (m *Metrics) SetPlaylistRecords(n int) {
	m.playlistRecords.Set(float64(n))
}

// AddJobsInFlight moves the in-flight synthesis gauge by delta.
func (m *Metrics) AddJobsInFlight(delta int) {
	m.synthJobsInFlight.Add(float64(delta))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
