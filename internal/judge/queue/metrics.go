package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks queue pressure. A nil *Metrics records nothing.
type Metrics struct {
	queued    prometheus.Gauge
	running   prometheus.Gauge
	enqueued  *prometheus.CounterVec
	completed *prometheus.CounterVec
	retries   prometheus.Counter
	dropped   prometheus.Counter
}

// NewMetrics registers queue metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codeduel", Subsystem: "judge_queue", Name: "queued",
			Help: "Jobs waiting for a worker.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codeduel", Subsystem: "judge_queue", Name: "running",
			Help: "Jobs being evaluated.",
		}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeduel", Subsystem: "judge_queue", Name: "enqueue_total",
			Help: "Enqueue attempts by result.",
		}, []string{"result"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeduel", Subsystem: "judge_queue", Name: "completed_total",
			Help: "Finished jobs by verdict.",
		}, []string{"status"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codeduel", Subsystem: "judge_queue", Name: "retries_total",
			Help: "Jobs retried after a judge infrastructure error.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codeduel", Subsystem: "judge_queue", Name: "dropped_total",
			Help: "Jobs dropped because their duel ended.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queued, m.running, m.enqueued, m.completed, m.retries, m.dropped)
	}
	return m
}

func (m *Metrics) setDepth(queued, running int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(queued))
	m.running.Set(float64(running))
}

func (m *Metrics) enqueue(result string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(result).Inc()
}

func (m *Metrics) complete(status string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(status).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
