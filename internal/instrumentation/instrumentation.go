// Package instrumentation is an in-process Prometheus registry of run
// counters/gauges, gathered to a metrics.prom artifact at run close. No
// HTTP server is exposed — that surface is out of scope for this
// offline engine. Grounded on the teacher's internal/monitoring
// (dashboard.go/performance.go promauto.NewCounter/NewGauge usage).
package instrumentation

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Recorder owns a private (non-default-global) Prometheus registry so
// concurrent runs in the same process never collide on metric names.
type Recorder struct {
	registry *prometheus.Registry

	FitsEvaluated     prometheus.Counter
	FitFailures       prometheus.Counter
	BankruptcyRate    prometheus.Gauge
	GridWorkersActive prometheus.Gauge
	PathsGenerated    prometheus.Counter
	StageDuration     *prometheus.HistogramVec
}

// NewRecorder constructs a fresh registry and its fixed metric set.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		FitsEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Name: "qscenario_fits_evaluated_total",
			Help: "Number of distribution fit attempts performed.",
		}),
		FitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "qscenario_fit_failures_total",
			Help: "Number of distribution fit attempts that failed to converge.",
		}),
		BankruptcyRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qscenario_bankruptcy_rate",
			Help: "Fraction of generated paths that crossed the bankruptcy/overflow boundary in the most recent generation.",
		}),
		GridWorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qscenario_grid_workers_active",
			Help: "Number of grid workers currently processing a config.",
		}),
		PathsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "qscenario_paths_generated_total",
			Help: "Total simulated price paths generated across all runs in this process.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qscenario_stage_duration_seconds",
			Help:    "Wall-clock duration of each orchestrator DAG stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// WriteTextfile gathers the registry's current metric families and writes
// them in Prometheus text exposition format to path (the conventional
// metrics.prom run artifact).
func (r *Recorder) WriteTextfile(path string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
