package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// ErrStepFinished is returned when a step in a terminal phase is invoked again.
var ErrStepFinished = errors.New("step already finished")

// Executor applies the time budget and phase rules around one step operation.
// It holds no per-step state; everything it needs is in the StepRecord.
type Executor struct {
	clock   Clock
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock replaces the wall clock.
func WithClock(clock Clock) ExecutorOption {
	return func(e *Executor) { e.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates an executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		clock:  time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op once under the rules of rec and updates rec in place.
//
// The budget window opens when the record has no start time or when it
// re-enters from RETRYING; polling keeps the window open. A step whose window
// has been open for at least rec.Timeout fails with a timeout error without
// invoking op.
func (e *Executor) Execute(ctx context.Context, rec *StepRecord, op Operation) (Phase, error) {
	if rec.Phase == "" {
		rec.Phase = PhaseInit
	}
	if err := rec.Phase.Validate(); err != nil {
		return rec.Phase, err
	}
	if rec.Phase.IsTerminal() {
		return rec.Phase, fmt.Errorf("%w: %s is %s", ErrStepFinished, rec.StepName, rec.Phase)
	}

	now := e.clock()
	if rec.StartTimestamp.IsZero() || rec.Phase == PhaseRetrying {
		rec.StartTimestamp = now
	}

	if rec.Timeout > 0 && rec.Elapsed(now) >= rec.Timeout {
		rec.Phase = PhaseFailed
		return PhaseFailed, NewTimeoutError(rec.StepName)
	}

	if !rec.Phase.CanTransitionTo(PhaseRunning) {
		return rec.Phase, fmt.Errorf("step %s cannot run from phase %s", rec.StepName, rec.Phase)
	}
	rec.Phase = PhaseRunning

	result := op(ctx)
	if err := result.Status.Validate(); err != nil {
		result = Failed(err)
	}

	next := result.Status.Phase()
	rec.Phase = next

	switch next {
	case PhaseFailed:
		if result.Err == nil {
			return next, NewPermanentError("step reported failure without a cause", nil).WithStep(rec.StepName)
		}
		return next, attachStep(rec.StepName, result.Err, ErrorClassPermanent)
	case PhaseRetrying:
		return next, attachStep(rec.StepName, result.Err, ErrorClassTransient)
	default:
		return next, nil
	}
}

// attachStep labels err with the step name unless something below already
// did. err is never modified: the same error value may be returned to
// several steps, e.g. a client creation failure shared by concurrent callers.
// Unclassified errors get class.
func attachStep(step string, err error, class ErrorClass) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		return newError(class, "", "step failed", err).WithStep(step)
	}
	if ee.Step != "" {
		return err
	}
	if top, ok := err.(*EngineError); ok {
		cp := *top
		cp.Step = step
		return &cp
	}
	return &EngineError{Class: ee.Class, Code: ee.Code, Message: "step failed", Step: step, Err: err}
}

// Runner loads a step's record from the variable store, executes one
// invocation and persists the result. It is the entry point a scheduler calls
// on every tick of a step.
type Runner struct {
	executor *Executor
	store    VariableStore
	events   EventSink
	clock    Clock
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// NewRunner creates a runner persisting into store. events may be nil.
func NewRunner(store VariableStore, events EventSink, opts ...ExecutorOption) *Runner {
	exec := NewExecutor(opts...)
	return &Runner{
		executor: exec,
		store:    store,
		events:   events,
		clock:    exec.clock,
		logger:   exec.logger,
		metrics:  exec.metrics,
		tracer:   exec.tracer,
	}
}

// RunStep invokes step once for the given deployment.
func (r *Runner) RunStep(ctx context.Context, deploymentID string, step Step) Outcome {
	name := step.Name()
	logger := telemetry.ForStep(r.logger, deploymentID, name)

	rec, err := LoadStepRecord(ctx, r.store, deploymentID, step)
	if err != nil {
		return Outcome{StepName: name, Phase: PhaseFailed, Err: err}
	}
	if rec.Phase.IsTerminal() {
		// Scheduler redelivery after a crash between persist and acknowledge.
		return Outcome{StepName: name, Phase: rec.Phase}
	}

	freshStart := rec.StartTimestamp.IsZero() || rec.Phase == PhaseRetrying
	if freshStart {
		r.emit(ctx, deploymentID, name, EventStepStarted, PhaseRunning, "Step started", nil)
	}

	ctx, span := r.tracer.StartStepSpan(ctx, deploymentID, name, step.Kind())
	defer span.End()

	begin := time.Now()
	phase, execErr := r.executor.Execute(ctx, rec, step.Execute)
	duration := time.Since(begin)

	span.SetAttributes(telemetry.AttrStepPhase.String(string(phase)))
	r.metrics.RecordStepInvocation(step.Kind(), string(phase), duration)

	timedOut := IsTimeout(execErr)
	switch {
	case timedOut:
		r.metrics.RecordStepTimeout(step.Kind())
		telemetry.RecordError(span, execErr)
		logger.Error().Err(execErr).Dur("timeout", rec.Timeout).Msg("Step timed out")
	case phase == PhaseFailed:
		r.metrics.RecordError(string(ClassOf(execErr)))
		telemetry.RecordError(span, execErr)
		logger.Error().Err(execErr).Msg("Step failed")
	case phase == PhaseRetrying:
		logger.Warn().Err(execErr).Msg("Step will be retried")
	default:
		telemetry.RecordSuccess(span)
		logger.Debug().Str("phase", string(phase)).Dur("duration", duration).Msg("Step invoked")
	}

	if err := SaveStepRecord(ctx, r.store, deploymentID, rec); err != nil {
		return Outcome{StepName: name, Phase: PhaseFailed, Err: err}
	}

	var data map[string]string
	if execErr != nil {
		data = map[string]string{"error": execErr.Error()}
	}
	r.emit(ctx, deploymentID, name, EventForPhase(phase, timedOut), phase, stepMessage(phase, timedOut), data)

	return Outcome{StepName: name, Phase: phase, Err: execErr}
}

func (r *Runner) emit(ctx context.Context, deploymentID, step string, typ EventType, phase Phase, msg string, data map[string]string) {
	if r.events == nil {
		return
	}
	event := &Event{
		ID:           uuid.New().String(),
		DeploymentID: deploymentID,
		StepName:     step,
		Type:         typ,
		Phase:        phase,
		Message:      msg,
		Timestamp:    r.clock(),
	}
	if len(data) > 0 {
		event.Data, _ = json.Marshal(data)
	}
	if err := r.events.AppendEvent(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("event", string(typ)).Msg("Failed to append step event")
	}
}

func stepMessage(phase Phase, timedOut bool) string {
	switch {
	case timedOut:
		return "Step timed out"
	case phase == PhaseDone:
		return "Step completed"
	case phase == PhasePolling:
		return "Step is waiting for asynchronous work"
	case phase == PhaseRetrying:
		return "Step will be retried"
	default:
		return "Step failed"
	}
}
