// Package telemetry provides the observability stack for cfdeploy.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Config.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Step invocations and controller calls are instrumented by the engine and
// platform packages through Tracer.StartStepSpan, Tracer.StartPlatformSpan,
// Metrics.RecordStepInvocation and Metrics.RecordPlatformCall.
//
// # Metrics
//
// All metrics live on a private registry exposed by Metrics.Handler:
//
//   - deployments_started_total, deployments_completed_total{status}
//   - step_invocations_total{kind,phase}, step_timeouts_total{kind}
//   - platform_calls_total{operation}, platform_errors_total{operation}
//   - client_cache_events_total{event}
//
// A nil *Metrics or *Tracer is valid and records nothing.
package telemetry
