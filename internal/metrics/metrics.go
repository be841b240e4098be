package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classcast"

// Translation outcomes
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultCanceled = "canceled"
)

// Metrics holds every collector on a private registry so that tests can
// build as many instances as they like. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive      prometheus.Gauge
	sessionTransitions  *prometheus.CounterVec
	transcriptsIngested prometheus.Counter
	translations        *prometheus.CounterVec
	translationDuration prometheus.Histogram
	broadcasts          prometheus.Counter
	channelsOpen        prometheus.Gauge
	channelsPruned      prometheus.Counter
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently ACTIVE.",
		}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session lifecycle transitions by action.",
		}, []string{"action"}),
		transcriptsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_ingested_total",
			Help:      "Transcript segments accepted and sequenced.",
		}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Translation tasks by result.",
		}, []string{"result"}),
		translationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_duration_seconds",
			Help:      "Latency of the translation collaborator.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Events broadcast to sessions.",
		}),
		channelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_open",
			Help:      "Open push channels.",
		}),
		channelsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_pruned_total",
			Help:      "Channels removed after a failed write.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsActive,
		m.sessionTransitions,
		m.transcriptsIngested,
		m.translations,
		m.translationDuration,
		m.broadcasts,
		m.channelsOpen,
		m.channelsPruned,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetSessionsActive(n int) {
	if m != nil {
		m.sessionsActive.Set(float64(n))
	}
}

func (m *Metrics) SessionTransition(action string) {
	if m != nil {
		m.sessionTransitions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) TranscriptIngested() {
	if m != nil {
		m.transcriptsIngested.Inc()
	}
}

// Translation records one translation task outcome and its latency
func (m *Metrics) Translation(result string, took time.Duration) {
	if m != nil {
		m.translations.WithLabelValues(result).Inc()
		m.translationDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) Broadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

func (m *Metrics) ChannelOpened() {
	if m != nil {
		m.channelsOpen.Inc()
	}
}

func (m *Metrics) ChannelClosed() {
	if m != nil {
		m.channelsOpen.Dec()
	}
}

func (m *Metrics) ChannelPruned() {
	if m != nil {
		m.channelsPruned.Inc()
	}
}
