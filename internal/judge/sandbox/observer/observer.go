// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64)
	ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryKB int64)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryKB int64) {
}

// PrometheusRecorder exports sandbox timings as prometheus histograms.
type PrometheusRecorder struct {
	compileSeconds *prometheus.HistogramVec
	runSeconds     *prometheus.HistogramVec
	runMemory      *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the sandbox collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compileSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codeduel",
			Subsystem: "sandbox",
			Name:      "compile_seconds",
			Help:      "Compilation time per language.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language", "ok"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codeduel",
			Subsystem: "sandbox",
			Name:      "run_seconds",
			Help:      "CPU time of one test execution.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"language", "outcome"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codeduel",
			Subsystem: "sandbox",
			Name:      "run_memory_kb",
			Help:      "Peak memory of one test execution.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 10),
		}, []string{"language"}),
	}
	for _, c := range []prometheus.Collector{r.compileSeconds, r.runSeconds, r.runMemory} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
	r.compileSeconds.WithLabelValues(languageID, strconv.FormatBool(ok)).Observe(float64(timeMs) / 1000)
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryKB int64) {
	r.runSeconds.WithLabelValues(languageID, outcome).Observe(float64(timeMs) / 1000)
	r.runMemory.WithLabelValues(languageID).Observe(float64(memoryKB))
}
