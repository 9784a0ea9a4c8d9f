// Package scheduler drives deployment flows to completion. Deployments run
// concurrently on a bounded worker pool; the steps of one deployment run
// strictly one after another, each re-invoked through the engine runner
// until it is done or has failed.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/clients"
	"github.com/cfdeploy/cfdeploy/pkg/deploy"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/steps"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// Config controls pacing and concurrency.
type Config struct {
	// Parallelism is the maximum number of deployments running at once.
	Parallelism int

	// PollInterval is the wait between invocations of a polling step.
	PollInterval time.Duration

	// MaxRetries is how often a step asking for a retry is re-executed
	// before the deployment fails.
	MaxRetries int

	// BaseDelay is the first retry delay. Throttled errors wait five times
	// as long, conflicts twice as long; the delay doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the retry delay.
	MaxDelay time.Duration
}

// DefaultConfig returns the pacing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Parallelism:  10,
		PollInterval: 5 * time.Second,
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
	}
}

// Releaser gives up a deployment's shared client.
type Releaser interface {
	Release(key clients.Key)
}

// Status is the final state of a deployment run.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Report summarizes one deployment run.
type Report struct {
	DeploymentID string `json:"deployment_id"`
	Status       Status `json:"status"`

	// FailedStep names the step that stopped the deployment.
	FailedStep string `json:"failed_step,omitempty"`
	Err        error  `json:"-"`

	// StepsCompleted counts steps that reached DONE, including steps
	// completed by an earlier run of the same deployment.
	StepsCompleted int `json:"steps_completed"`

	// PlatformTime is the time spent in controller calls.
	PlatformTime time.Duration `json:"platform_time"`
	Duration     time.Duration `json:"duration"`
}

// Scheduler runs flows.
type Scheduler struct {
	runner   *engine.Runner
	cfg      Config
	releaser Releaser
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithReleaser releases each deployment's client when it finishes.
func WithReleaser(r Releaser) Option {
	return func(s *Scheduler) { s.releaser = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = telemetry.Component(l, "scheduler") }
}

// WithMetrics records deployment metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer opens one span per deployment.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// New creates a scheduler invoking steps through runner. Zero fields of cfg
// take their defaults.
func New(runner *engine.Runner, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	s := &Scheduler{runner: runner, cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes flows and returns one report per flow, in the same order.
// Cancelling ctx stops re-invocation; steps are not rolled back.
func (s *Scheduler) Run(ctx context.Context, flows ...*deploy.Flow) []Report {
	reports := make([]Report, len(flows))

	workerCount := s.cfg.Parallelism
	if len(flows) < workerCount {
		workerCount = len(flows)
	}

	workQueue := make(chan int, len(flows))
	for i := range flows {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for range workerCount {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				reports[i] = s.RunFlow(ctx, flows[i])
			}
		}()
	}
	wg.Wait()

	return reports
}

// RunFlow executes the steps of one flow in order.
func (s *Scheduler) RunFlow(ctx context.Context, flow *deploy.Flow) Report {
	d := flow.Deployment
	logger := s.logger.With().Str("deployment_id", d.ID).Logger()
	start := time.Now()

	ctx, span := s.tracer.StartDeploymentSpan(ctx, d.ID, len(flow.Steps))
	defer span.End()

	s.metrics.RecordDeploymentStarted()
	logger.Info().Int("steps", len(flow.Steps)).Msg("Deployment started")

	report := Report{DeploymentID: d.ID, Status: StatusSucceeded}
	for _, step := range flow.Steps {
		if err := s.runStep(ctx, d.ID, step); err != nil {
			report.Status = StatusFailed
			if ctx.Err() != nil {
				report.Status = StatusCancelled
			}
			report.FailedStep = step.Name()
			report.Err = err
			break
		}
		report.StepsCompleted++
	}

	report.Duration = time.Since(start)
	report.PlatformTime = d.Recorder.TotalTime(d.Session)
	s.finish(d)

	s.metrics.RecordDeploymentCompleted(string(report.Status), report.Duration)
	event := logger.Info()
	if report.Status != StatusSucceeded {
		telemetry.RecordError(span, report.Err)
		event = logger.Error().Err(report.Err).Str("step", report.FailedStep)
	} else {
		telemetry.RecordSuccess(span)
	}
	event.Str("status", string(report.Status)).
		Dur("duration", report.Duration).
		Dur("platform_time", report.PlatformTime).
		Msgf("Deployment finished, controller operations have taken %d ms", report.PlatformTime.Milliseconds())

	return report
}

// finish gives back what the deployment held. The client is released and
// the performance session cleared whatever the outcome.
func (s *Scheduler) finish(d *steps.Deployment) {
	if s.releaser != nil {
		s.releaser.Release(d.Key)
	}
	d.Recorder.Clear(d.Session)
}

// runStep invokes step until it reaches a terminal phase.
func (s *Scheduler) runStep(ctx context.Context, deploymentID string, step engine.Step) error {
	retries := 0
	for {
		out := s.runner.RunStep(ctx, deploymentID, step)
		switch out.Phase {
		case engine.PhaseDone:
			return nil
		case engine.PhaseFailed:
			if out.Err == nil {
				return engine.NewPermanentError(fmt.Sprintf("step %s failed", step.Name()), nil)
			}
			return out.Err
		case engine.PhasePolling:
			if err := wait(ctx, s.cfg.PollInterval); err != nil {
				return err
			}
		case engine.PhaseRetrying:
			if retries >= s.cfg.MaxRetries {
				return fmt.Errorf("step %s failed after %d retries: %w", step.Name(), retries, out.Err)
			}
			delay := s.calculateBackoff(retries, out.Err)
			retries++
			s.logger.Warn().Err(out.Err).
				Str("step", step.Name()).
				Dur("delay", delay).
				Msgf("Retrying step (attempt %d/%d)", retries, s.cfg.MaxRetries)
			if err := wait(ctx, delay); err != nil {
				return err
			}
		default:
			return engine.NewPermanentError(fmt.Sprintf("step %s stopped in phase %s", step.Name(), out.Phase), out.Err)
		}
	}
}

// calculateBackoff calculates exponential backoff with jitter.
func (s *Scheduler) calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := s.cfg.BaseDelay

	// Use different base delays for different error types
	if engine.IsThrottled(err) {
		baseDelay *= 5
	} else if engine.IsConflict(err) {
		baseDelay *= 2
	}

	// Exponential backoff: delay = baseDelay * 2^attempt
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))

	if delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}

	// Add jitter (+12.5%)
	jitter := time.Duration(float64(delay) * 0.25)
	return delay + jitter/2
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
