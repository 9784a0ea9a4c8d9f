// Package engine provides the core of the cfdeploy step orchestration engine.
//
// A deployment is an ordered flow of steps. Each step is an idempotent unit of
// work against the platform controller and is invoked by an external scheduler
// one tick at a time. Between ticks the process may be suspended, restarted or
// moved to another host, so all step state lives in a VariableStore.
//
// # Step lifecycle
//
// Every step instance carries a StepRecord:
//
//	INIT -> RUNNING -> DONE
//	             \---> POLLING -> RUNNING ...
//	             \---> RETRYING -> RUNNING ...
//	             \---> FAILED
//
// The Executor enforces the time budget of a step. The budget window opens
// when the step first runs and again each time it re-enters from RETRYING.
// Polling keeps the window open, so a long asynchronous operation is measured
// against the budget across all of its polls. A step that exceeds its budget
// fails with a timeout error without its operation being invoked.
//
// # Runner
//
// Runner.RunStep is what a scheduler calls per tick: it loads the record,
// executes the step once, persists the outcome and appends a lifecycle event.
//
//	runner := engine.NewRunner(store, events, engine.WithLogger(logger))
//	outcome := runner.RunStep(ctx, deploymentID, step)
//
// # Errors
//
// Errors are classified with EngineError. Transient, throttled and conflict
// errors are retryable; ResultFromError maps an error to the step result a
// step operation should return.
package engine
