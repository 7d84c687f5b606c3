package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the queues do with change events, labelled by queue
// name.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	delivered *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_queue_enqueued_total",
			Help: "Change events accepted by a queue.",
		}, []string{"queue"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_queue_dropped_total",
			Help: "Change events dropped because a queue was full.",
		}, []string{"queue"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_queue_delivered_total",
			Help: "Change events handled successfully.",
		}, []string{"queue"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_queue_retried_total",
			Help: "Failed delivery attempts that were retried.",
		}, []string{"queue"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_queue_failed_total",
			Help: "Change events given up on after the retry budget was exhausted.",
		}, []string{"queue"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_queue_delivery_seconds",
			Help:    "Time from dequeue to final outcome, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.dropped, m.delivered, m.retried, m.failed, m.duration)
	}
	return m
}

func (m *Metrics) incEnqueued(queue string) {
	if m != nil {
		m.enqueued.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) incDropped(queue string) {
	if m != nil {
		m.dropped.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) incRetried(queue string) {
	if m != nil {
		m.retried.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) observe(queue string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	if ok {
		m.delivered.WithLabelValues(queue).Inc()
	} else {
		m.failed.WithLabelValues(queue).Inc()
	}
	m.duration.WithLabelValues(queue).Observe(elapsed.Seconds())
}
