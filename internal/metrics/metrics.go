// Package metrics exposes scheduler, dispatcher and telemetry counters to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radio-control/siggen/internal/dispatch"
)

const namespace = "siggen"

// Metrics holds all collectors. It implements transmit.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec // State changes (by from, to, trigger)
	staleTimers  prometheus.Counter     // Timer firings discarded by token check
	staleStreams prometheus.Counter     // Stream completions for runs no longer live
	restarts     prometheus.Counter     // File restarts after end of file
	faults       *prometheus.CounterVec // Surfaced errors (by code)
	progress     prometheus.Gauge       // Bytes written by the live run
}

// New creates the collectors on a private registry, together with Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Controller state transitions",
			},
			[]string{"from", "to", "trigger"},
		),
		staleTimers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_timer_firings_total",
			Help:      "Timer firings discarded because their token was no longer live",
		}),
		staleStreams: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_stream_completions_total",
			Help:      "Stream completions discarded because their run was no longer live",
		}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_restarts_total",
			Help:      "Waveform restarts after end of file",
		}),
		faults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "faults_total",
				Help:      "Errors surfaced to the operator",
			},
			[]string{"code"},
		),
		progress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_progress_bytes",
			Help:      "Bytes written by the live run",
		}),
	}
}

func (m *Metrics) ObserveTransition(from, to, trigger string) {
	m.transitions.WithLabelValues(from, to, trigger).Inc()
}

func (m *Metrics) IncStaleTimer()  { m.staleTimers.Inc() }
func (m *Metrics) IncStaleStream() { m.staleStreams.Inc() }
func (m *Metrics) IncRestart()     { m.restarts.Inc() }

func (m *Metrics) IncFault(code string) {
	m.faults.WithLabelValues(code).Inc()
}

func (m *Metrics) SetProgress(bytes int64) {
	m.progress.Set(float64(bytes))
}

// WatchDispatcher exports the dispatcher's counters and queue depth. They
// are read at scrape time.
func (m *Metrics) WatchDispatcher(d *dispatch.Dispatcher) {
	factory := promauto.With(m.registry)

	counter := func(name, help string, read func(dispatch.Stats) uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(d.Stats())) })
	}

	counter("posted_total", "Messages accepted onto the queue",
		func(s dispatch.Stats) uint64 { return s.Posted })
	counter("interrupt_posted_total", "Messages posted from timer or stream callbacks",
		func(s dispatch.Stats) uint64 { return s.Interrupt })
	counter("delivered_total", "Messages delivered to a handler",
		func(s dispatch.Stats) uint64 { return s.Delivered })
	counter("unhandled_total", "Messages with no registered handler",
		func(s dispatch.Stats) uint64 { return s.Unhandled })
	counter("rejected_total", "Posts refused because the queue was full or stopped",
		func(s dispatch.Stats) uint64 { return s.Rejected })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "queue_depth",
		Help:      "Messages waiting on the queue",
	}, func() float64 { return float64(d.Pending()) })
}

// TelemetrySource is the part of the telemetry hub exported as metrics.
type TelemetrySource interface {
	ClientCount() int
	Dropped() uint64
}

// WatchTelemetry exports subscriber count and dropped events.
func (m *Metrics) WatchTelemetry(src TelemetrySource) {
	factory := promauto.With(m.registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "clients",
		Help:      "Connected telemetry subscribers",
	}, func() float64 { return float64(src.ClientCount()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "dropped_events_total",
		Help:      "Events lost to slow subscribers",
	}, func() float64 { return float64(src.Dropped()) })
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
