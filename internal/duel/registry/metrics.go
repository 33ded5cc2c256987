package registry

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks live duels. A nil *Metrics records nothing.
type Metrics struct {
	live    *prometheus.GaugeVec
	opened  *prometheus.CounterVec
	evicted prometheus.Counter
}

// NewMetrics registers registry metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "codeduel", Subsystem: "registry", Name: "duels",
			Help: "Duels held in memory by status.",
		}, []string{"status"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeduel", Subsystem: "registry", Name: "opened_total",
			Help: "Duel creations by result.",
		}, []string{"result"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codeduel", Subsystem: "registry", Name: "evicted_total",
			Help: "Terminal duels removed from memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.live, m.opened, m.evicted)
	}
	return m
}

func (m *Metrics) setLive(byStatus map[string]int) {
	if m == nil {
		return
	}
	m.live.Reset()
	for status, n := range byStatus {
		m.live.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) open(result string) {
	if m == nil {
		return
	}
	m.opened.WithLabelValues(result).Inc()
}

func (m *Metrics) evict(n int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(n))
}
