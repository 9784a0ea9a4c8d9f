package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

func TestResolve_IdentityWithoutVariant(t *testing.T) {
	r := NewResolver()

	for _, ctx := range []Context{{}, {Strategy: StrategyDefault}, {Strategy: StrategyDefault, Subject: SubjectIdle}} {
		assert.Equal(t, []Phase{PhaseBeforeStop}, r.Resolve([]Phase{PhaseBeforeStop}, ctx))
		assert.Equal(t, Phases(), r.Resolve(Phases(), ctx))
	}
}

func TestResolve_BlueGreen(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name  string
		input []Phase
		ctx   Context
		want  []Phase
	}{
		{
			name:  "stop phases live",
			input: []Phase{PhaseBeforeStop, PhaseAfterStop},
			ctx:   Context{Strategy: StrategyBlueGreen},
			want:  []Phase{PhaseBlueGreenBeforeStopLive, PhaseBlueGreenAfterStopLive},
		},
		{
			name:  "subject variant kept after canonical",
			input: BeforeStopPhases(Context{Subject: SubjectLive}),
			ctx:   Context{Strategy: StrategyBlueGreen, Subject: SubjectLive},
			want:  []Phase{PhaseBlueGreenBeforeStopLive, PhaseBeforeStopLive},
		},
		{
			name:  "idle subject",
			input: AfterStopPhases(Context{Subject: SubjectIdle}),
			ctx:   Context{Strategy: StrategyBlueGreen, Subject: SubjectIdle},
			want:  []Phase{PhaseBlueGreenAfterStopIdle, PhaseAfterStopIdle},
		},
		{
			name:  "untouched entries keep their order",
			input: []Phase{PhaseBeforeStart, PhaseBeforeUnmapRoutes, PhaseAfterStart},
			ctx:   Context{Strategy: StrategyBlueGreen, Subject: SubjectIdle},
			want:  []Phase{PhaseBeforeStart, PhaseBlueGreenBeforeUnmapRoutesIdle, PhaseAfterStart},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.input, tt.ctx))
		})
	}
}

func TestResolve_ZeroDowntimeAugments(t *testing.T) {
	r := NewResolver()

	got := r.Resolve([]Phase{PhaseBeforeStart, PhaseAfterStart}, Context{Strategy: StrategyZeroDowntime})
	assert.Equal(t, []Phase{PhaseBeforeStart, PhaseAfterStart, PhaseZeroDowntimeAfterStart}, got)

	got = r.Resolve([]Phase{PhaseBeforeStop}, Context{Strategy: StrategyZeroDowntime})
	assert.Equal(t, []Phase{PhaseBeforeStop}, got)
}

func TestResolve_CustomRules(t *testing.T) {
	variant := Phase("variant.before-stop")
	r := NewResolver(Rule{
		Strategy:  StrategyBlueGreen,
		Canonical: PhaseBeforeStop,
		Phases:    func(Context) []Phase { return []Phase{variant} },
	})

	got := r.Resolve([]Phase{PhaseBeforeStop, PhaseAfterStop}, Context{Strategy: StrategyBlueGreen})
	assert.Equal(t, []Phase{variant, PhaseAfterStop}, got)
}

func TestResolve_EmptyOverrideKeepsCanonical(t *testing.T) {
	r := NewResolver(Rule{
		Strategy:  StrategyBlueGreen,
		Canonical: PhaseBeforeStop,
		Phases:    func(Context) []Phase { return nil },
	})

	got := r.Resolve([]Phase{PhaseBeforeStop}, Context{Strategy: StrategyBlueGreen})
	assert.Equal(t, []Phase{PhaseBeforeStop}, got)
}

func TestResolve_DeterministicAndPure(t *testing.T) {
	r := NewResolver()
	input := []Phase{PhaseBeforeStop, PhaseAfterStop, PhaseAfterStart}
	snapshot := append([]Phase(nil), input...)

	for _, ctx := range []Context{
		{Strategy: StrategyBlueGreen, Subject: SubjectIdle},
		{Strategy: StrategyZeroDowntime},
		{},
	} {
		first := r.Resolve(input, ctx)
		for range 10 {
			assert.Equal(t, first, r.Resolve(input, ctx))
		}
		assert.GreaterOrEqual(t, len(first), len(input))
	}
	assert.Equal(t, snapshot, input, "input must not be modified")
}

func TestParse(t *testing.T) {
	p, err := ParsePhase("blue-green.application.before-stop.idle")
	require.NoError(t, err)
	assert.Equal(t, PhaseBlueGreenBeforeStopIdle, p)

	_, err = ParsePhase("application.before-lunch")
	assert.EqualError(t, err, `unknown hook phase "application.before-lunch"`)

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyDefault, s)
	_, err = ParseStrategy("canary")
	assert.Error(t, err)

	sub, err := ParseSubject("")
	require.NoError(t, err)
	assert.Equal(t, SubjectLive, sub)
	_, err = ParseSubject("green")
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	migrate := Hook{Name: "migrate", Type: TypeTask, Phases: []Phase{PhaseBeforeStart},
		Parameters: map[string]any{"command": "bin/migrate"}}
	notify := Hook{Name: "notify", Type: TypeTask, Phases: []Phase{PhaseAfterStart, PhaseBeforeStart}}
	drain := Hook{Name: "drain", Type: TypeTask, Phases: []Phase{PhaseBlueGreenBeforeStopLive}}
	hooks := []Hook{migrate, notify, drain}

	got, err := Select(hooks, []Phase{PhaseBeforeStart, PhaseAfterStart})
	require.NoError(t, err)
	assert.Equal(t, []Invocation{
		{Hook: migrate, Phase: PhaseBeforeStart},
		{Hook: notify, Phase: PhaseBeforeStart},
		{Hook: notify, Phase: PhaseAfterStart},
	}, got)

	assert.Equal(t, "bin/migrate", migrate.Command())
	assert.Equal(t, "notify", notify.TaskName())

	resolved := NewResolver().Resolve(BeforeStopPhases(Context{}), Context{Strategy: StrategyBlueGreen})
	got, err = Select(hooks, resolved)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "drain", got[0].Hook.Name)
}

func TestSelect_UnsupportedType(t *testing.T) {
	hooks := []Hook{{Name: "page", Type: "webhook", Phases: []Phase{PhaseBeforeStop}}}

	got, err := Select(hooks, []Phase{PhaseAfterStop})
	require.NoError(t, err, "hooks outside the resolved phases are not inspected")
	assert.Empty(t, got)

	_, err = Select(hooks, []Phase{PhaseBeforeStop})
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))
	assert.Contains(t, err.Error(), `unsupported hook type "webhook"`)
}
