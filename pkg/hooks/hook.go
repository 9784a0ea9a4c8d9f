package hooks

import (
	"fmt"
	"slices"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

// TypeTask is the only hook type the engine can execute: a one-off task
// run in the application's environment.
const TypeTask = "task"

// Hook is a user supplied action bound to one or more phases.
type Hook struct {
	Name       string         `yaml:"name" json:"name" validate:"required"`
	Type       string         `yaml:"type" json:"type" validate:"required"`
	Phases     []Phase        `yaml:"phases" json:"phases" validate:"required,min=1"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Supported reports whether the engine knows how to run the hook.
func (h Hook) Supported() bool {
	return h.Type == TypeTask
}

// Command returns the "command" parameter of a task hook.
func (h Hook) Command() string {
	s, _ := h.Parameters["command"].(string)
	return s
}

// TaskName returns the "name" parameter of a task hook, falling back to the
// hook name.
func (h Hook) TaskName() string {
	if s, ok := h.Parameters["name"].(string); ok && s != "" {
		return s
	}
	return h.Name
}

// Invocation is one hook scheduled at one resolved phase.
type Invocation struct {
	Hook  Hook
	Phase Phase
}

// Select returns the hooks that run at the resolved phases. Invocations are
// ordered by phase first and declaration order second; a hook bound to
// several of the phases runs once per phase. An unsupported hook type fails
// the whole selection.
func Select(hooks []Hook, resolved []Phase) ([]Invocation, error) {
	var out []Invocation
	for _, phase := range resolved {
		for _, h := range hooks {
			if !slices.Contains(h.Phases, phase) {
				continue
			}
			if !h.Supported() {
				return nil, engine.NewPermanentError(fmt.Sprintf("unsupported hook type %q", h.Type), nil).
					WithCode(engine.ErrCodeValidation).
					WithDetail("hook", h.Name)
			}
			out = append(out, Invocation{Hook: h, Phase: phase})
		}
	}
	return out, nil
}
