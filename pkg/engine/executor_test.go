package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

// scriptedOp returns the given results in order and counts invocations.
type scriptedOp struct {
	results []Result
	calls   int
}

func (s *scriptedOp) run(context.Context) Result {
	r := s.results[s.calls]
	s.calls++
	return r
}

func TestExecutor_TimeoutIsMeasuredAcrossPolls(t *testing.T) {
	clock := newFakeClock()
	exec := NewExecutor(WithClock(clock.Now))
	rec := &StepRecord{StepName: "start-app[web]", Phase: PhaseInit, Timeout: 30 * time.Second}
	op := &scriptedOp{results: []Result{Poll(), Poll(), Poll()}}

	clock.Set(0)
	phase, err := exec.Execute(context.Background(), rec, op.run)
	if err != nil || phase != PhasePolling {
		t.Fatalf("Expected POLLING at t=0, got %s (%v)", phase, err)
	}

	clock.Set(20 * time.Second)
	phase, err = exec.Execute(context.Background(), rec, op.run)
	if err != nil || phase != PhasePolling {
		t.Fatalf("Expected POLLING at t=20s, got %s (%v)", phase, err)
	}

	clock.Set(31 * time.Second)
	phase, err = exec.Execute(context.Background(), rec, op.run)
	if phase != PhaseFailed {
		t.Fatalf("Expected FAILED at t=31s, got %s", phase)
	}
	if !IsTimeout(err) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if op.calls != 2 {
		t.Errorf("Expected operation not to be invoked after timeout, got %d calls", op.calls)
	}

	var ee *EngineError
	if !errors.As(err, &ee) || ee.Step != "start-app[web]" {
		t.Errorf("Expected timeout error to name the step, got %v", err)
	}
}

func TestExecutor_TimeoutAtExactBudget(t *testing.T) {
	clock := newFakeClock()
	exec := NewExecutor(WithClock(clock.Now))
	rec := &StepRecord{StepName: "stop-app[web]", Timeout: 30 * time.Second}
	op := &scriptedOp{results: []Result{Poll(), Poll(), Poll()}}

	clock.Set(0)
	_, _ = exec.Execute(context.Background(), rec, op.run)

	clock.Set(30*time.Second - time.Millisecond)
	if phase, err := exec.Execute(context.Background(), rec, op.run); phase != PhasePolling {
		t.Fatalf("Expected POLLING just inside the budget, got %s (%v)", phase, err)
	}

	clock.Set(30 * time.Second)
	phase, err := exec.Execute(context.Background(), rec, op.run)
	if phase != PhaseFailed || !IsTimeout(err) {
		t.Fatalf("Expected timeout once elapsed equals the budget, got %s (%v)", phase, err)
	}
	if op.calls != 2 {
		t.Errorf("Expected 2 operation calls, got %d", op.calls)
	}
}

func TestExecutor_RetryResetsBudget(t *testing.T) {
	clock := newFakeClock()
	exec := NewExecutor(WithClock(clock.Now))
	rec := &StepRecord{StepName: "bind-service[web/db]", Phase: PhaseInit, Timeout: 30 * time.Second}
	op := &scriptedOp{results: []Result{Poll(), Retry(errors.New("busy")), Done()}}

	clock.Set(0)
	if phase, err := exec.Execute(context.Background(), rec, op.run); phase != PhasePolling {
		t.Fatalf("Expected POLLING at t=0, got %s (%v)", phase, err)
	}

	clock.Set(25 * time.Second)
	if phase, _ := exec.Execute(context.Background(), rec, op.run); phase != PhaseRetrying {
		t.Fatalf("Expected RETRYING at t=25s, got %s", phase)
	}

	clock.Set(40 * time.Second)
	phase, err := exec.Execute(context.Background(), rec, op.run)
	if err != nil || phase != PhaseDone {
		t.Fatalf("Expected DONE at t=40s, got %s (%v)", phase, err)
	}
	if !rec.StartTimestamp.Equal(clock.Now()) {
		t.Errorf("Expected start timestamp to be reset to %v, got %v", clock.Now(), rec.StartTimestamp)
	}
}

func TestExecutor_PollKeepsStartTimestamp(t *testing.T) {
	clock := newFakeClock()
	exec := NewExecutor(WithClock(clock.Now))
	rec := &StepRecord{StepName: "s", Timeout: time.Minute}

	clock.Set(0)
	_, _ = exec.Execute(context.Background(), rec, func(context.Context) Result { return Poll() })
	started := rec.StartTimestamp

	clock.Set(10 * time.Second)
	_, _ = exec.Execute(context.Background(), rec, func(context.Context) Result { return Poll() })

	if !rec.StartTimestamp.Equal(started) {
		t.Errorf("Expected start timestamp %v to be kept, got %v", started, rec.StartTimestamp)
	}
}

func TestExecutor_StatusMapping(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name   string
		result Result
		want   Phase
	}{
		{"done", Done(), PhaseDone},
		{"poll", Poll(), PhasePolling},
		{"retry", Retry(nil), PhaseRetrying},
		{"failed", Failed(cause), PhaseFailed},
		{"invalid status", Result{Status: "BOGUS"}, PhaseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewExecutor()
			rec := &StepRecord{StepName: "s", Timeout: time.Minute}
			phase, _ := exec.Execute(context.Background(), rec, func(context.Context) Result { return tt.result })
			if phase != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, phase)
			}
			if rec.Phase != tt.want {
				t.Errorf("Expected record phase %s, got %s", tt.want, rec.Phase)
			}
		})
	}
}

func TestExecutor_FailedCarriesCauseWithStepOnce(t *testing.T) {
	exec := NewExecutor()
	cause := NewPermanentError("could not bind", errors.New("http 500")).WithStep("inner")
	rec := &StepRecord{StepName: "outer"}

	_, err := exec.Execute(context.Background(), rec, func(context.Context) Result { return Failed(cause) })

	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	if ee.Step != "inner" {
		t.Errorf("Expected existing step identity to be kept, got %q", ee.Step)
	}

	plain := errors.New("plain")
	_, err = exec.Execute(context.Background(), &StepRecord{StepName: "outer"},
		func(context.Context) Result { return Failed(plain) })
	if !errors.Is(err, plain) {
		t.Errorf("Expected cause to be preserved, got %v", err)
	}
	if !errors.As(err, &ee) || ee.Step != "outer" {
		t.Errorf("Expected step identity to be attached, got %v", err)
	}
}

func TestExecutor_SharedErrorIsNotModified(t *testing.T) {
	exec := NewExecutor()
	shared := Wrap(errors.New("dial tcp: refused"), "could not create client").WithCode(ErrCodeClientCreation)
	fail := func(context.Context) Result { return Failed(shared) }

	_, errA := exec.Execute(context.Background(), &StepRecord{StepName: "start-app[a]"}, fail)
	_, errB := exec.Execute(context.Background(), &StepRecord{StepName: "start-app[b]"}, fail)

	if shared.Step != "" {
		t.Errorf("Expected the returned error to be left untouched, got step %q", shared.Step)
	}
	for want, err := range map[string]error{"start-app[a]": errA, "start-app[b]": errB} {
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Step != want {
			t.Errorf("Expected step %q, got %v", want, err)
			continue
		}
		if ee.Code != ErrCodeClientCreation || !errors.Is(err, shared) {
			t.Errorf("Expected code and cause to be kept, got %v", err)
		}
	}

	nested := fmt.Errorf("bind db: %w", NewTransientError("controller busy", nil))
	_, err := exec.Execute(context.Background(), &StepRecord{StepName: "bind-service[web/db]"},
		func(context.Context) Result { return Failed(nested) })
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Step != "bind-service[web/db]" || !IsTransient(err) {
		t.Errorf("Expected wrapped error to gain the step and keep its class, got %v", err)
	}
}

func TestExecutor_RetryCarriesStep(t *testing.T) {
	exec := NewExecutor()
	busy := NewConflictError("operation in progress", nil)

	phase, err := exec.Execute(context.Background(), &StepRecord{StepName: "stop-app[web]"},
		func(context.Context) Result { return Retry(busy) })
	if phase != PhaseRetrying {
		t.Fatalf("Expected RETRYING, got %s", phase)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Step != "stop-app[web]" {
		t.Errorf("Expected retry error to name the step, got %v", err)
	}
	if busy.Step != "" {
		t.Errorf("Expected the step's error to be left untouched, got step %q", busy.Step)
	}

	_, err = exec.Execute(context.Background(), &StepRecord{StepName: "s"},
		func(context.Context) Result { return Retry(errors.New("lock held")) })
	if !errors.As(err, &ee) || ee.Step != "s" || !IsTransient(err) {
		t.Errorf("Expected a plain retry cause to become a transient error of the step, got %v", err)
	}

	_, err = exec.Execute(context.Background(), &StepRecord{StepName: "s"},
		func(context.Context) Result { return Retry(nil) })
	if err != nil {
		t.Errorf("Expected no error for a retry without a cause, got %v", err)
	}
}

func TestExecutor_TerminalRecordIsRejected(t *testing.T) {
	exec := NewExecutor()
	called := false
	for _, phase := range []Phase{PhaseDone, PhaseFailed} {
		rec := &StepRecord{StepName: "s", Phase: phase}
		_, err := exec.Execute(context.Background(), rec, func(context.Context) Result {
			called = true
			return Done()
		})
		if !errors.Is(err, ErrStepFinished) {
			t.Errorf("Expected ErrStepFinished for %s, got %v", phase, err)
		}
	}
	if called {
		t.Error("Expected operation not to be invoked for a terminal record")
	}
}

func TestExecutor_ZeroTimeoutNeverExpires(t *testing.T) {
	clock := newFakeClock()
	exec := NewExecutor(WithClock(clock.Now))
	rec := &StepRecord{StepName: "s"}

	clock.Set(0)
	_, _ = exec.Execute(context.Background(), rec, func(context.Context) Result { return Poll() })
	clock.Set(240 * time.Hour)
	phase, err := exec.Execute(context.Background(), rec, func(context.Context) Result { return Done() })
	if err != nil || phase != PhaseDone {
		t.Errorf("Expected DONE, got %s (%v)", phase, err)
	}
}

// testStep is a Step driven by a scripted operation.
type testStep struct {
	name    string
	timeout time.Duration
	op      *scriptedOp
}

func (s *testStep) Name() string                       { return s.name }
func (s *testStep) Kind() string                       { return "test" }
func (s *testStep) Timeout() time.Duration             { return s.timeout }
func (s *testStep) Execute(ctx context.Context) Result { return s.op.run(ctx) }

// recordingSink collects events.
type recordingSink struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recordingSink) AppendEvent(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestRunner_PersistsRecordBetweenInvocations(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	sink := &recordingSink{}
	runner := NewRunner(store, sink, WithClock(clock.Now))
	step := &testStep{
		name:    "start-app[web]",
		timeout: 30 * time.Second,
		op:      &scriptedOp{results: []Result{Poll(), Poll(), Done()}},
	}
	ctx := context.Background()

	clock.Set(0)
	if out := runner.RunStep(ctx, "d1", step); out.Phase != PhasePolling {
		t.Fatalf("Expected POLLING, got %s (%v)", out.Phase, out.Err)
	}

	rec, err := LoadStepRecord(ctx, store, "d1", step)
	if err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if rec.Phase != PhasePolling || !rec.StartTimestamp.Equal(clock.Now()) {
		t.Errorf("Expected persisted POLLING at %v, got %s at %v", clock.Now(), rec.Phase, rec.StartTimestamp)
	}

	clock.Set(10 * time.Second)
	runner.RunStep(ctx, "d1", step)
	clock.Set(20 * time.Second)
	if out := runner.RunStep(ctx, "d1", step); out.Phase != PhaseDone {
		t.Fatalf("Expected DONE, got %s (%v)", out.Phase, out.Err)
	}

	// Redelivery of a finished step is harmless.
	if out := runner.RunStep(ctx, "d1", step); out.Phase != PhaseDone || out.Err != nil {
		t.Errorf("Expected DONE without error on redelivery, got %s (%v)", out.Phase, out.Err)
	}
	if step.op.calls != 3 {
		t.Errorf("Expected 3 operation calls, got %d", step.op.calls)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) == 0 || sink.events[0].Type != EventStepStarted {
		t.Fatalf("Expected first event to be %s", EventStepStarted)
	}
	if last := sink.events[len(sink.events)-1]; last.Type != EventStepCompleted {
		t.Errorf("Expected last event %s, got %s", EventStepCompleted, last.Type)
	}
}

func TestRunner_TimeoutAcrossSuspension(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	ctx := context.Background()
	step := &testStep{
		name:    "execute-hook[web/migrate]",
		timeout: 30 * time.Second,
		op:      &scriptedOp{results: []Result{Poll(), Poll()}},
	}

	clock.Set(0)
	NewRunner(store, nil, WithClock(clock.Now)).RunStep(ctx, "d1", step)

	// A new runner models a process restart: only the store survives.
	clock.Set(45 * time.Second)
	out := NewRunner(store, nil, WithClock(clock.Now)).RunStep(ctx, "d1", step)
	if out.Phase != PhaseFailed || !IsTimeout(out.Err) {
		t.Errorf("Expected timeout after resume, got %s (%v)", out.Phase, out.Err)
	}
}
