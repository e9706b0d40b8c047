// Package metrics records pipeline metrics with Prometheus. A CLI run is
// short lived, so metrics are written to a node_exporter textfile instead
// of being scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	v4 "github.com/jbweber/anvil/api/v4"
)

const namespace = "anvil"

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Recorder holds the pipeline metrics in a private registry. A nil
// *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stepTotal     *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	vmTotal       *prometheus.CounterVec
}

// NewRecorder creates a Recorder with all metrics registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		stageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_total",
				Help:      "Total number of pipeline stage runs by stage and result",
			},
			[]string{"stage", "result"},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
			},
			[]string{"stage"},
		),

		stepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "builder",
				Name:      "operations_total",
				Help:      "Total number of executed build operations by kind and result",
			},
			[]string{"kind", "result"},
		),

		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "builder",
				Name:      "operation_duration_seconds",
				Help:      "Duration of build operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"kind"},
		),

		vmTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "vms_total",
				Help:      "Total number of processed VM entries by final phase",
			},
			[]string{"phase"},
		),
	}

	r.registry.MustRegister(
		r.stageTotal,
		r.stageDuration,
		r.stepTotal,
		r.stepDuration,
		r.vmTotal,
	)
	return r
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records one run of a pipeline stage.
func (r *Recorder) ObserveStage(stage string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stageTotal.WithLabelValues(stage, result(err)).Inc()
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveStep records one executed build operation.
func (r *Recorder) ObserveStep(kind v4.OperationKind, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stepTotal.WithLabelValues(string(kind), result(err)).Inc()
	r.stepDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// ObserveVM records the final phase of one VM entry. Entries rejected
// before building are recorded as Failed.
func (r *Recorder) ObserveVM(phase v4.Phase) {
	if r == nil {
		return
	}
	r.vmTotal.WithLabelValues(string(phase)).Inc()
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
