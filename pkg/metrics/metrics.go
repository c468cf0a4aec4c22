// Package metrics records the progress of an updater run in a file for the
// node exporter's textfile collector.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
)

const namespace = "dlm_engine_updater"

// Outcome labels.
const (
	OutcomeDone   = "done"
	OutcomeHalt   = "halt"
	OutcomeReboot = "reboot"
	OutcomeFatal  = "fatal"
)

var outcomes = []string{OutcomeDone, OutcomeHalt, OutcomeReboot, OutcomeFatal}

// Recorder collects the metrics of one run. A Recorder without a path
// collects nothing and writes nothing.
type Recorder struct {
	log  logging.Logger
	path string

	registry   *prometheus.Registry
	phase      *prometheus.GaugeVec
	outcome    *prometheus.GaugeVec
	lastRun    prometheus.Gauge
	lockWait   prometheus.Gauge
	scriptRuns *prometheus.CounterVec
}

// New creates a Recorder writing to path.
func New(log logging.Logger, path string) *Recorder {
	r := &Recorder{
		log:      log,
		path:     path,
		registry: prometheus.NewRegistry(),

		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase",
				Help:      "Phase the updater last entered, 1 for the current phase",
			},
			[]string{"phase"},
		),
		outcome: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_outcome",
				Help:      "Outcome of the last run, 1 for the outcome that occurred",
			},
			[]string{"outcome"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Time the last run ended",
			},
		),
		lockWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time accounted waiting for the distributed lock",
			},
		),
		scriptRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_runs_total",
				Help:      "Phases finished during the run by result",
			},
			[]string{"phase", "result"},
		),
	}
	r.registry.MustRegister(r.phase, r.outcome, r.lastRun, r.lockWait, r.scriptRuns)
	return r
}

// Enabled reports whether the recorder writes a file.
func (r *Recorder) Enabled() bool {
	return r != nil && r.path != ""
}

// Phase marks p as the current phase.
func (r *Recorder) Phase(p phase.Phase) {
	if !r.Enabled() {
		return
	}
	for _, each := range phase.All() {
		v := 0.0
		if each == p {
			v = 1
		}
		r.phase.WithLabelValues(each.String()).Set(v)
	}
}

// PhaseResult counts a finished phase.
func (r *Recorder) PhaseResult(p phase.Phase, err error) {
	if !r.Enabled() {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.scriptRuns.WithLabelValues(p.String(), result).Inc()
}

// LockWait records the seconds spent waiting for the lock.
func (r *Recorder) LockWait(seconds int) {
	if !r.Enabled() {
		return
	}
	r.lockWait.Set(float64(seconds))
}

// Outcome records how the run ended.
func (r *Recorder) Outcome(outcome string, at time.Time) {
	if !r.Enabled() {
		return
	}
	for _, o := range outcomes {
		v := 0.0
		if o == outcome {
			v = 1
		}
		r.outcome.WithLabelValues(o).Set(v)
	}
	r.lastRun.Set(float64(at.Unix()))
}

// Write replaces the metrics file with the recorded metrics.
func (r *Recorder) Write() error {
	if !r.Enabled() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return errors.Wrap(err, "unable to create metrics directory")
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return errors.Wrap(err, "unable to write metrics")
	}
	r.log.WithField("file", r.path).Debug("wrote metrics")
	return nil
}
