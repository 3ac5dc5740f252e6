package core

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/headwaterworks/basin-simulator/internal/logging"
	"github.com/headwaterworks/basin-simulator/results"
	"github.com/headwaterworks/basin-simulator/timestep"
)

const tracerName = "github.com/headwaterworks/basin-simulator/core"

// MetricsRecorder receives engine measurements. Implementations live
// outside core so the engine stays free of any metrics backend.
type MetricsRecorder interface {
	// ObserveSolve reports one solve attempt with its wall time and
	// outcome label ("ok", "infeasible", "unbounded", ...).
	ObserveSolve(d time.Duration, outcome string)
	// ObserveStep reports a completed step's objective and the storage
	// volumes after its mass-balance update.
	ObserveStep(objective float64, volumes map[string]float64)
}

// RunReport summarises one simulation run. Steps holds the records of this
// run only, even when several runs share a results store.
type RunReport struct {
	RunID          string
	StepsCompleted int
	TotalObjective float64
	FinalVolumes   map[string]float64
	Elapsed        time.Duration
	Steps          []results.StepRecord
}

// EngineOption customises SimulationEngine construction.
type EngineOption func(*SimulationEngine)

// WithLogger attaches a structured logger. The default drops all logs.
func WithLogger(l logging.Logger) EngineOption {
	return func(se *SimulationEngine) {
		if l != nil {
			se.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(se *SimulationEngine) {
		se.metrics = m
	}
}

// WithResultsStore makes the engine append into an existing store instead
// of creating its own.
func WithResultsStore(st *results.Store) EngineOption {
	return func(se *SimulationEngine) {
		if st != nil {
			se.store = st
		}
	}
}

// SimulationEngine walks a horizon over a network: each step it resolves
// parameters, solves the allocation, advances storage volumes and records
// the outcome. Steps run strictly in sequence; the first failing step
// halts the run.
type SimulationEngine struct {
	net     *Network
	horizon *timestep.Timestepper
	solver  *Solver

	store   *results.Store
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	stepListeners []func(results.StepRecord)
}

// NewSimulationEngine wires an engine over a validated network and horizon.
func NewSimulationEngine(net *Network, horizon *timestep.Timestepper, opts ...EngineOption) *SimulationEngine {
	se := &SimulationEngine{
		net:     net,
		horizon: horizon,
		solver:  NewSolver(),
		store:   results.NewStore(),
		log:     logging.Noop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}
	return se
}

// RegisterStepListener registers a callback invoked after every completed
// step, in registration order, before Run moves to the next step.
func (se *SimulationEngine) RegisterStepListener(fn func(results.StepRecord)) {
	se.stepListeners = append(se.stepListeners, fn)
}

// Results exposes the store the engine appends to.
func (se *SimulationEngine) Results() *results.Store {
	return se.store
}

// Run executes the whole horizon. Storage volumes start from their declared
// initial values on every call, so an engine can re-run its model.
// Cancellation is cooperative: the context is checked between steps and a
// started step always completes. On a step failure Run returns a
// *StepError wrapping the cause; the report then covers the steps that
// finished before the halt.
func (se *SimulationEngine) Run(ctx context.Context) (*RunReport, error) {
	ctx, runID := logging.EnsureRunID(ctx)
	log := se.log.With(logging.String("run_id", runID))

	ctx, span := se.tracer.Start(ctx, "basin.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("horizon.steps", se.horizon.Count()),
	))
	defer span.End()

	state := NewStorageState(se.net)
	resolver := NewResolver(se.net)
	report := &RunReport{RunID: runID, FinalVolumes: state.Snapshot()}
	started := time.Now()

	log.Info(ctx, "run started",
		logging.Int("nodes", se.net.Len()),
		logging.Int("steps", se.horizon.Count()),
	)

	cur := se.horizon.Steps()
	for step, ok := cur.Next(); ok; step, ok = cur.Next() {
		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			log.Warn(ctx, "run cancelled",
				logging.Int("next_step", step.Index),
				logging.Int("completed", report.StepsCompleted),
			)
			report.FinalVolumes = state.Snapshot()
			report.Elapsed = time.Since(started)
			return report, ctx.Err()
		default:
		}

		rec, err := se.runStep(ctx, step, resolver, state)
		if err != nil {
			stepErr := &StepError{Index: step.Index, Date: step.Date, Err: err}
			span.RecordError(stepErr)
			log.Error(ctx, "step failed",
				logging.Int("step", step.Index),
				logging.String("date", step.Date.Format("2006-01-02")),
				logging.Err(err),
			)
			report.FinalVolumes = state.Snapshot()
			report.Elapsed = time.Since(started)
			return report, stepErr
		}

		se.store.Append(rec)
		for _, fn := range se.stepListeners {
			fn(rec)
		}
		if se.metrics != nil {
			se.metrics.ObserveStep(rec.Objective, rec.Volumes)
		}
		report.Steps = append(report.Steps, rec)
		report.StepsCompleted++
		report.TotalObjective += rec.Objective
	}

	report.FinalVolumes = state.Snapshot()
	report.Elapsed = time.Since(started)
	log.Info(ctx, "run completed",
		logging.Int("steps", report.StepsCompleted),
		logging.Float64("total_objective", report.TotalObjective),
		logging.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// runStep resolves, solves and advances one timestep.
func (se *SimulationEngine) runStep(ctx context.Context, step timestep.Timestep, resolver *Resolver, state *StorageState) (results.StepRecord, error) {
	ctx, span := se.tracer.Start(ctx, "basin.step", trace.WithAttributes(
		attribute.Int("step.index", step.Index),
		attribute.String("step.date", step.Date.Format("2006-01-02")),
	))
	defer span.End()

	rp, err := resolver.Resolve(step)
	if err != nil {
		span.RecordError(err)
		if se.metrics != nil {
			se.metrics.ObserveSolve(0, outcomeLabel(err))
		}
		return results.StepRecord{}, err
	}

	solveStart := time.Now()
	fa, err := se.solver.Solve(se.net, rp, state)
	solveDur := time.Since(solveStart)
	if se.metrics != nil {
		se.metrics.ObserveSolve(solveDur, outcomeLabel(err))
	}
	if err != nil {
		span.RecordError(err)
		return results.StepRecord{}, err
	}

	if err := AdvanceStorage(state, se.net, fa); err != nil {
		span.RecordError(err)
		return results.StepRecord{}, err
	}

	return se.record(step, fa, state), nil
}

// record shapes a solved step into its stored form.
func (se *SimulationEngine) record(step timestep.Timestep, fa *FlowAssignment, state *StorageState) results.StepRecord {
	nodeFlows := make(map[string]float64, se.net.Len())
	for i := 0; i < se.net.Len(); i++ {
		nodeFlows[se.net.NodeAt(i).Name] = fa.NodeFlows[i]
	}
	edgeFlows := make([]results.EdgeFlow, len(se.net.edges))
	for i := range se.net.edges {
		edgeFlows[i] = results.EdgeFlow{
			From: se.net.edges[i].From,
			To:   se.net.edges[i].To,
			Flow: fa.EdgeFlows[i],
		}
	}
	return results.StepRecord{
		Index:     step.Index,
		Date:      step.Date,
		Objective: fa.Objective,
		NodeFlows: nodeFlows,
		EdgeFlows: edgeFlows,
		Volumes:   state.Snapshot(),
	}
}

// outcomeLabel maps an error to the label recorded on solve metrics.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInfeasible):
		return "infeasible"
	case errors.Is(err, ErrUnbounded):
		return "unbounded"
	case errors.Is(err, ErrParameter):
		return "parameter_error"
	case errors.Is(err, ErrVolumeBounds):
		return "volume_bounds"
	default:
		return "error"
	}
}
