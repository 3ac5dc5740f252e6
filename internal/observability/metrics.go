package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineCollector bundles Prometheus metrics for a simulation run and
// provides a ready-made /metrics handler.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	SolverRuns     *prometheus.CounterVec
	SolveDurations *prometheus.HistogramVec

	StepsCompleted prometheus.Counter
	StepObjective  prometheus.Gauge
	StorageVolumes *prometheus.GaugeVec
}

// NewEngineCollector registers simulation Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_runs_total",
		Help: "Total number of allocation solves, labeled by outcome.",
	}, []string{"outcome"})
	runs, err := registerCounterVec(reg, runs, "solver_runs_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solver_run_duration_seconds",
		Help:    "Allocation solve latency in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"outcome"})
	durations, err = registerHistogramVec(reg, durations, "solver_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_steps_total",
		Help: "Cumulative number of completed simulation steps.",
	}), "engine_steps_total")
	if err != nil {
		return nil, err
	}
	objective, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_step_objective",
		Help: "Objective value of the most recently completed step.",
	}), "engine_step_objective")
	if err != nil {
		return nil, err
	}
	volumes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storage_volume",
		Help: "Current volume of each storage node after its mass-balance update.",
	}, []string{"node"})
	volumes, err = registerGaugeVec(reg, volumes, "storage_volume")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:       gatherer,
		SolverRuns:     runs,
		SolveDurations: durations,
		StepsCompleted: steps,
		StepObjective:  objective,
		StorageVolumes: volumes,
	}, nil
}

// ObserveSolve records one solve attempt. Together with ObserveStep it
// satisfies core.MetricsRecorder, so a collector can be handed straight to
// core.WithMetricsRecorder.
func (c *EngineCollector) ObserveSolve(d time.Duration, outcome string) {
	if c == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	if c.SolverRuns != nil {
		c.SolverRuns.WithLabelValues(outcome).Inc()
	}
	if c.SolveDurations != nil {
		c.SolveDurations.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// ObserveStep records a completed step's objective and the storage volumes
// left behind by its mass-balance update.
func (c *EngineCollector) ObserveStep(objective float64, volumes map[string]float64) {
	if c == nil {
		return
	}
	if c.StepsCompleted != nil {
		c.StepsCompleted.Inc()
	}
	if c.StepObjective != nil {
		c.StepObjective.Set(objective)
	}
	if c.StorageVolumes != nil {
		for node, volume := range volumes {
			c.StorageVolumes.WithLabelValues(node).Set(volume)
		}
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
