// Package metrics records run and test counters for one analysis and can
// export them in the Prometheus text format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "testanalyzer"

// Recorder collects the metrics of one tool invocation. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	runs           *prometheus.CounterVec
	tests          *prometheus.CounterVec
	runDuration    prometheus.Histogram
	passRate       prometheus.Gauge
	stabilityScore prometheus.Gauge
}

// New creates a recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runner executions by status (completed, failed).",
		}, []string{"status"}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Per-run test outcomes (passed, failed).",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single runner execution.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		passRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pass_rate",
			Help:      "Percentage of tests that passed in every run.",
		}),
		stabilityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stability_score",
			Help:      "Percentage of tests that are not flaky.",
		}),
	}
	r.registry.MustRegister(r.runs, r.tests, r.runDuration, r.passRate, r.stabilityScore)
	return r
}

// RunCompleted records a run whose output was decoded.
func (r *Recorder) RunCompleted(d time.Duration, passed, failed int) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues("completed").Inc()
	r.runDuration.Observe(d.Seconds())
	r.tests.WithLabelValues("passed").Add(float64(passed))
	r.tests.WithLabelValues("failed").Add(float64(failed))
}

// RunFailed records a run that failed to launch or timed out.
func (r *Recorder) RunFailed(d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues("failed").Inc()
	r.runDuration.Observe(d.Seconds())
}

// Analysis records the suite-wide scores.
func (r *Recorder) Analysis(passRate, stabilityScore float64) {
	if r == nil {
		return
	}
	r.passRate.Set(passRate)
	r.stabilityScore.Set(stabilityScore)
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteFile writes all metrics in the text exposition format.
func (r *Recorder) WriteFile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
