// Package metrics holds the Prometheus collectors for the order-call flow.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ivr"

type Metrics struct {
	reg *prometheus.Registry

	CallsScheduled *prometheus.CounterVec
	Compensations  *prometheus.CounterVec
	Triggers       *prometheus.CounterVec
	Jobs           *prometheus.CounterVec
	JobDuration    prometheus.Histogram
	Webhooks       *prometheus.CounterVec
	Outcomes       *prometheus.CounterVec
	Swept          prometheus.Counter
	QueueDepth     *prometheus.GaugeVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		CallsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "calls_scheduled_total",
			Help: "Call records created and enqueued, by call type.",
		}, []string{"type"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "schedule_compensations_total",
			Help: "Scheduling rollbacks after an enqueue failure, by outcome.",
		}, []string{"outcome"}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trigger_attempts_total",
			Help: "Call trigger job deliveries, by outcome.",
		}, []string{"provider", "outcome"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_total",
			Help: "Queue job results, by outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Time spent handling successful call trigger jobs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhooks_total",
			Help: "DTMF webhooks received, by how they were matched.",
		}, []string{"match"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "call_outcomes_total",
			Help: "Keypress results applied, by result.",
		}, []string{"result"}),
		Swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_failed_total",
			Help: "Call records moved to failed by the stale-call sweep.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_jobs",
			Help: "Jobs in the call queue, by state.",
		}, []string{"state"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CallsScheduled, m.Compensations, m.Triggers, m.Jobs, m.JobDuration,
		m.Webhooks, m.Outcomes, m.Swept, m.QueueDepth,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CallScheduled(callType string) {
	if m == nil {
		return
	}
	m.CallsScheduled.WithLabelValues(callType).Inc()
}

func (m *Metrics) Compensation(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.Compensations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Trigger(provider, outcome string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Job(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		m.JobDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) Webhook(match string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(match).Inc()
}

func (m *Metrics) Outcome(result string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) SweptCalls(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Swept.Add(float64(n))
}

func (m *Metrics) SetQueueDepth(delayed, waiting, active, failed int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	m.QueueDepth.WithLabelValues("waiting").Set(float64(waiting))
	m.QueueDepth.WithLabelValues("active").Set(float64(active))
	m.QueueDepth.WithLabelValues("failed").Set(float64(failed))
}
