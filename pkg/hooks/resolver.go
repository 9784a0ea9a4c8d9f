package hooks

import "slices"

// Mode controls how a rule's phases combine with the canonical phase.
type Mode int

const (
	// Replace substitutes the canonical phase.
	Replace Mode = iota
	// Augment keeps the canonical phase and appends the rule's phases after it.
	Augment
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == Augment {
		return "augment"
	}
	return "replace"
}

// Rule overrides one canonical phase for one strategy.
type Rule struct {
	Strategy  Strategy
	Canonical Phase
	Mode      Mode

	// Phases yields the override for a context. It must be a pure function.
	Phases func(Context) []Phase
}

func subjectVariant(live, idle Phase) func(Context) []Phase {
	return func(ctx Context) []Phase {
		return []Phase{ctx.Live(live, idle)}
	}
}

// DefaultRules returns the built-in override table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Strategy:  StrategyBlueGreen,
			Canonical: PhaseBeforeStop,
			Mode:      Replace,
			Phases:    subjectVariant(PhaseBlueGreenBeforeStopLive, PhaseBlueGreenBeforeStopIdle),
		},
		{
			Strategy:  StrategyBlueGreen,
			Canonical: PhaseAfterStop,
			Mode:      Replace,
			Phases:    subjectVariant(PhaseBlueGreenAfterStopLive, PhaseBlueGreenAfterStopIdle),
		},
		{
			Strategy:  StrategyBlueGreen,
			Canonical: PhaseBeforeUnmapRoutes,
			Mode:      Replace,
			Phases:    subjectVariant(PhaseBlueGreenBeforeUnmapRoutesLive, PhaseBlueGreenBeforeUnmapRoutesIdle),
		},
		{
			Strategy:  StrategyZeroDowntime,
			Canonical: PhaseAfterStart,
			Mode:      Augment,
			Phases:    func(Context) []Phase { return []Phase{PhaseZeroDowntimeAfterStart} },
		},
	}
}

// Resolver maps canonical phases to the concrete phases of a deployment
// variant. It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	rules map[Strategy]map[Phase]Rule
}

// NewResolver creates a resolver from rules. Without rules it uses
// DefaultRules. When two rules address the same strategy and phase, the
// first one wins.
func NewResolver(rules ...Rule) *Resolver {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	r := &Resolver{rules: make(map[Strategy]map[Phase]Rule)}
	for _, rule := range rules {
		byPhase := r.rules[rule.Strategy]
		if byPhase == nil {
			byPhase = make(map[Phase]Rule)
			r.rules[rule.Strategy] = byPhase
		}
		if _, exists := byPhase[rule.Canonical]; !exists {
			byPhase[rule.Canonical] = rule
		}
	}
	return r
}

// Resolve returns the concrete phases for phases under ctx. Entries without
// an override keep their value and relative order; the result is never
// shorter than the input. The input slice is not modified.
func (r *Resolver) Resolve(phases []Phase, ctx Context) []Phase {
	byPhase := r.rules[ctx.strategy()]
	if len(byPhase) == 0 {
		return slices.Clone(phases)
	}

	out := make([]Phase, 0, len(phases))
	for _, p := range phases {
		rule, ok := byPhase[p]
		if !ok || rule.Phases == nil {
			out = append(out, p)
			continue
		}
		override := rule.Phases(ctx)
		switch {
		case len(override) == 0:
			out = append(out, p)
		case rule.Mode == Augment:
			out = append(out, p)
			out = append(out, override...)
		default:
			out = append(out, override...)
		}
	}
	return out
}
