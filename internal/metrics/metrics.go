package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fmueller/holaamigo/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so every server (and every test) starts from zero.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inferenceDuration *prometheus.HistogramVec
	inferenceFailures *prometheus.CounterVec
	inferenceInFlight prometheus.Gauge
	silenceSkips      *prometheus.CounterVec
	buildInfo         *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holaamigo_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "holaamigo_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
			},
			[]string{"method"},
		),
		inferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "holaamigo_inference_duration_seconds",
				Help:    "Wall-clock duration of a whisper inference call",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"quality"},
		),
		inferenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holaamigo_inference_failures_total",
				Help: "Number of failed whisper inference calls",
			},
			[]string{"quality"},
		),
		inferenceInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "holaamigo_inference_in_flight",
				Help: "Number of inference calls currently running",
			},
		),
		silenceSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holaamigo_silence_skips_total",
				Help: "Requests answered by the silence gate without running whisper",
			},
			[]string{"quality"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "holaamigo_build_info",
				Help: "Always 1; labeled with the running version",
			},
			[]string{"version"},
		),
	}
	m.buildInfo.WithLabelValues(version.Resolve()).Set(1)

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.inferenceDuration,
		m.inferenceFailures,
		m.inferenceInFlight,
		m.silenceSkips,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// StartInference marks an inference as running; the returned func records its
// outcome and must be called exactly once.
func (m *Metrics) StartInference(quality string) func(elapsed time.Duration, err error) {
	if m == nil {
		return func(time.Duration, error) {}
	}
	m.inferenceInFlight.Inc()
	return func(elapsed time.Duration, err error) {
		m.inferenceInFlight.Dec()
		if err != nil {
			m.inferenceFailures.WithLabelValues(quality).Inc()
			return
		}
		m.inferenceDuration.WithLabelValues(quality).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveSilenceSkip(quality string) {
	if m == nil {
		return
	}
	m.silenceSkips.WithLabelValues(quality).Inc()
}
