// Package metrics exposes workflow execution metrics through
// Prometheus. Listener attaches to an engine via Config.Listeners and
// updates its collectors as runs progress.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flowgraph-go/flowgraph/graph"
)

const namespace = "flowgraph"

// Listener records run and step metrics. All collectors are registered
// with the given registerer under the "flowgraph" namespace:
//
//	runs_active            gauge     runs currently advancing
//	runs_total             counter   finished runs, labelled by status
//	steps_total            counter   completed supersteps
//	step_duration_seconds  histogram superstep wall time
//	retries_total          counter   step retry attempts, labelled by node
//	interrupts_total       counter   suspensions, labelled by node
type Listener struct {
	graph.BaseListener

	runsActive   prometheus.Gauge
	runsTotal    *prometheus.CounterVec
	stepsTotal   prometheus.Counter
	stepDuration prometheus.Histogram
	retries      *prometheus.CounterVec
	interrupts   *prometheus.CounterVec
}

var _ graph.RunListener = (*Listener)(nil)

// New creates a listener registered with reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func New(reg prometheus.Registerer) *Listener {
	return &Listener{
		runsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of workflow runs currently advancing.",
		}),
		runsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished workflow runs by terminal status.",
		}, []string{"status"}),
		stepsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Completed supersteps across all runs.",
		}),
		stepDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one superstep, including its slowest frontier node.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		retries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Transient step failures that were retried, by node.",
		}, []string{"node"}),
		interrupts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Run suspensions awaiting external input, by node.",
		}, []string{"node"}),
	}
}

func (l *Listener) OnRunStart(runID string, state graph.State) {
	l.runsActive.Inc()
}

func (l *Listener) OnStep(runID string, seq int, nodes []string, state graph.State, elapsed time.Duration) {
	l.stepsTotal.Inc()
	l.stepDuration.Observe(elapsed.Seconds())
}

func (l *Listener) OnRetry(runID, node string, attempt int, err error) {
	l.retries.WithLabelValues(node).Inc()
}

func (l *Listener) OnInterrupt(runID, node string, state graph.State) {
	l.runsActive.Dec()
	l.interrupts.WithLabelValues(node).Inc()
}

func (l *Listener) OnRunEnd(runID string, status graph.RunStatus, err error) {
	l.runsActive.Dec()
	l.runsTotal.WithLabelValues(string(status)).Inc()
}
