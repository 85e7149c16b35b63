// Package metrics exposes registration metrics and health endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"nodeagent/internal/registration"
)

const namespace = "nodeagent"

// Recorder turns registration events into prometheus metrics. It implements
// registration.Observer.
type Recorder struct {
	registry    *prometheus.Registry
	attempts    *prometheus.CounterVec
	cycles      *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// NewRecorder registers the agent's collectors on a private registry, plus
// the standard process and Go collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registration",
				Name:      "attempts_total",
				Help:      "Registration send attempts by result.",
			},
			[]string{"result"}),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registration",
				Name:      "cycles_total",
				Help:      "Registration cycles by outcome: 0 attempts means the payload could not be built.",
			},
			[]string{"outcome"}),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "registration",
				Name:      "cycle_duration_seconds",
				Help:      "Time spent in one registration cycle.",
				Buckets:   prometheus.DefBuckets,
			}),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_registration_success_timestamp_seconds",
				Help:      "Unix time of the last accepted registration.",
			}),
	}
	r.registry.MustRegister(
		r.attempts,
		r.cycles,
		r.duration,
		r.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry is the registry backing /metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveAttempt(result string) {
	r.attempts.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveCycle(o registration.Outcome) {
	r.duration.Observe(o.Duration.Seconds())
	switch {
	case o.OK():
		r.cycles.WithLabelValues("success").Inc()
		end := o.Started.Add(o.Duration)
		r.lastSuccess.Set(float64(end.UnixNano()) / 1e9)
	case o.Attempts == 0:
		r.cycles.WithLabelValues("payload_error").Inc()
	default:
		r.cycles.WithLabelValues("send_error").Inc()
	}
}
