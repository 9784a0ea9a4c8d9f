// Package hooks resolves the lifecycle phases at which deployment hooks run.
//
// A step names the canonical phases it anchors (for example before stop and
// the subject specific before stop). The Resolver rewrites that list for the
// deployment strategy in effect: a blue-green deployment substitutes the
// blue-green variant of a phase, a zero-downtime deployment adds its own
// phase after the canonical one. Hooks whose phases appear in the resolved
// list become ordinary steps placed around the anchor step.
package hooks

import (
	"fmt"
	"slices"
)

// Phase is a named lifecycle injection point.
type Phase string

// Canonical phases.
const (
	PhaseBeforeStop        Phase = "application.before-stop"
	PhaseAfterStop         Phase = "application.after-stop"
	PhaseBeforeStart       Phase = "application.before-start"
	PhaseAfterStart        Phase = "application.after-start"
	PhaseBeforeUnmapRoutes Phase = "application.before-unmap-routes"
)

// Subject specific phases.
const (
	PhaseBeforeStopLive        Phase = "application.before-stop.live"
	PhaseBeforeStopIdle        Phase = "application.before-stop.idle"
	PhaseAfterStopLive         Phase = "application.after-stop.live"
	PhaseAfterStopIdle         Phase = "application.after-stop.idle"
	PhaseBeforeUnmapRoutesLive Phase = "application.before-unmap-routes.live"
	PhaseBeforeUnmapRoutesIdle Phase = "application.before-unmap-routes.idle"
)

// Strategy specific phases.
const (
	PhaseBlueGreenBeforeStopLive        Phase = "blue-green.application.before-stop.live"
	PhaseBlueGreenBeforeStopIdle        Phase = "blue-green.application.before-stop.idle"
	PhaseBlueGreenAfterStopLive         Phase = "blue-green.application.after-stop.live"
	PhaseBlueGreenAfterStopIdle         Phase = "blue-green.application.after-stop.idle"
	PhaseBlueGreenBeforeUnmapRoutesLive Phase = "blue-green.application.before-unmap-routes.live"
	PhaseBlueGreenBeforeUnmapRoutesIdle Phase = "blue-green.application.before-unmap-routes.idle"
	PhaseZeroDowntimeAfterStart         Phase = "zero-downtime.application.after-start"
)

var vocabulary = []Phase{
	PhaseBeforeStop, PhaseAfterStop, PhaseBeforeStart, PhaseAfterStart, PhaseBeforeUnmapRoutes,
	PhaseBeforeStopLive, PhaseBeforeStopIdle, PhaseAfterStopLive, PhaseAfterStopIdle,
	PhaseBeforeUnmapRoutesLive, PhaseBeforeUnmapRoutesIdle,
	PhaseBlueGreenBeforeStopLive, PhaseBlueGreenBeforeStopIdle,
	PhaseBlueGreenAfterStopLive, PhaseBlueGreenAfterStopIdle,
	PhaseBlueGreenBeforeUnmapRoutesLive, PhaseBlueGreenBeforeUnmapRoutesIdle,
	PhaseZeroDowntimeAfterStart,
}

// Phases returns the known phases in declaration order.
func Phases() []Phase {
	return slices.Clone(vocabulary)
}

// Validate checks that p is part of the vocabulary.
func (p Phase) Validate() error {
	if slices.Contains(vocabulary, p) {
		return nil
	}
	return fmt.Errorf("unknown hook phase %q", string(p))
}

// ParsePhase converts s to a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Strategy is the deployment strategy in effect.
type Strategy string

const (
	StrategyDefault      Strategy = "default"
	StrategyBlueGreen    Strategy = "blue-green"
	StrategyZeroDowntime Strategy = "zero-downtime"
)

// ParseStrategy converts s to a Strategy. The empty string is the default.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyDefault:
		return StrategyDefault, nil
	case StrategyBlueGreen, StrategyZeroDowntime:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown deployment strategy %q", s)
}

// Subject selects which copy of a blue-green application a phase addresses.
type Subject string

const (
	SubjectLive Subject = "live"
	SubjectIdle Subject = "idle"
)

// ParseSubject converts s to a Subject. The empty string is live.
func ParseSubject(s string) (Subject, error) {
	switch Subject(s) {
	case "", SubjectLive:
		return SubjectLive, nil
	case SubjectIdle:
		return SubjectIdle, nil
	}
	return "", fmt.Errorf("unknown hook subject %q", s)
}

// Context is the deployment variant a resolution is made for.
type Context struct {
	Strategy Strategy
	Subject  Subject
}

func (c Context) strategy() Strategy {
	if c.Strategy == "" {
		return StrategyDefault
	}
	return c.Strategy
}

func (c Context) subject() Subject {
	if c.Subject == "" {
		return SubjectLive
	}
	return c.Subject
}

// Live picks live or idle according to the context's subject.
func (c Context) Live(live, idle Phase) Phase {
	if c.subject() == SubjectIdle {
		return idle
	}
	return live
}

// BeforeStopPhases returns the canonical phases that run before an
// application is stopped, in the order they are resolved.
func BeforeStopPhases(ctx Context) []Phase {
	return []Phase{PhaseBeforeStop, ctx.Live(PhaseBeforeStopLive, PhaseBeforeStopIdle)}
}

// AfterStopPhases returns the canonical phases that run after an
// application is stopped.
func AfterStopPhases(ctx Context) []Phase {
	return []Phase{PhaseAfterStop, ctx.Live(PhaseAfterStopLive, PhaseAfterStopIdle)}
}

// BeforeStartPhases returns the canonical phases that run before an
// application is started.
func BeforeStartPhases(Context) []Phase {
	return []Phase{PhaseBeforeStart}
}

// AfterStartPhases returns the canonical phases that run after an
// application is started.
func AfterStartPhases(Context) []Phase {
	return []Phase{PhaseAfterStart}
}

// BeforeUnmapRoutesPhases returns the canonical phases that run before the
// routes of an application are unmapped.
func BeforeUnmapRoutesPhases(ctx Context) []Phase {
	return []Phase{PhaseBeforeUnmapRoutes, ctx.Live(PhaseBeforeUnmapRoutesLive, PhaseBeforeUnmapRoutesIdle)}
}
