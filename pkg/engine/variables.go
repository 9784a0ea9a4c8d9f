package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Variable is a typed key into a VariableStore. Values are stored as JSON.
type Variable[T any] struct {
	// Name is the storage key.
	Name string

	// Default is returned when the variable is absent.
	Default T
}

// Var declares a variable with a zero default.
func Var[T any](name string) Variable[T] {
	return Variable[T]{Name: name}
}

// Named returns a copy of v whose name carries a suffix, for variables
// instantiated per application or service. Each part is length-prefixed, so
// parts containing dots cannot make two instances share a name.
func (v Variable[T]) Named(parts ...string) Variable[T] {
	var b strings.Builder
	b.WriteString(v.Name)
	for _, p := range parts {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return Variable[T]{Name: b.String(), Default: v.Default}
}

// GetVariable loads v from scope, returning its default when absent.
func GetVariable[T any](ctx context.Context, store VariableStore, scope Scope, v Variable[T]) (T, error) {
	value, ok, err := LookupVariable(ctx, store, scope, v)
	if err != nil || !ok {
		return v.Default, err
	}
	return value, nil
}

// LookupVariable loads v from scope and reports whether it was present.
func LookupVariable[T any](ctx context.Context, store VariableStore, scope Scope, v Variable[T]) (T, bool, error) {
	var value T
	raw, ok, err := store.GetVariable(ctx, scope, v.Name)
	if err != nil {
		return value, false, fmt.Errorf("failed to read variable %s: %w", v.Name, err)
	}
	if !ok {
		return value, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("failed to decode variable %s: %w", v.Name, err)
	}
	return value, true, nil
}

// SetVariable stores value under v in scope.
func SetVariable[T any](ctx context.Context, store VariableStore, scope Scope, v Variable[T], value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode variable %s: %w", v.Name, err)
	}
	if err := store.SetVariable(ctx, scope, v.Name, raw); err != nil {
		return fmt.Errorf("failed to write variable %s: %w", v.Name, err)
	}
	return nil
}

// Step record variables, stored in the step scope.
var (
	VarStepPhase     = Variable[Phase]{Name: "step.phase", Default: PhaseInit}
	VarStepStartTime = Var[time.Time]("step.start-time")
)

// LoadStepRecord reads the persisted record of a step instance.
func LoadStepRecord(ctx context.Context, store VariableStore, deploymentID string, step Step) (*StepRecord, error) {
	scope := StepScope(deploymentID, step.Name())
	phase, err := GetVariable(ctx, store, scope, VarStepPhase)
	if err != nil {
		return nil, err
	}
	started, err := GetVariable(ctx, store, scope, VarStepStartTime)
	if err != nil {
		return nil, err
	}
	return &StepRecord{
		StepName:       step.Name(),
		Phase:          phase,
		StartTimestamp: started,
		Timeout:        step.Timeout(),
	}, nil
}

// SaveStepRecord persists the phase and start time of a step instance.
func SaveStepRecord(ctx context.Context, store VariableStore, deploymentID string, rec *StepRecord) error {
	scope := StepScope(deploymentID, rec.StepName)
	if err := SetVariable(ctx, store, scope, VarStepPhase, rec.Phase); err != nil {
		return err
	}
	return SetVariable(ctx, store, scope, VarStepStartTime, rec.StartTimestamp)
}

// MemoryStore is an in-process VariableStore for tests and embedded hosts.
type MemoryStore struct {
	mu   sync.RWMutex
	vars map[Scope]map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vars: make(map[Scope]map[string][]byte)}
}

// GetVariable implements VariableStore.
func (m *MemoryStore) GetVariable(_ context.Context, scope Scope, name string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.vars[scope][name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// SetVariable implements VariableStore.
func (m *MemoryStore) SetVariable(_ context.Context, scope Scope, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars, ok := m.vars[scope]
	if !ok {
		vars = make(map[string][]byte)
		m.vars[scope] = vars
	}
	vars[name] = append([]byte(nil), value...)
	return nil
}

// DeleteVariables implements VariableStore.
func (m *MemoryStore) DeleteVariables(_ context.Context, deploymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for scope := range m.vars {
		if scope.DeploymentID == deploymentID {
			delete(m.vars, scope)
		}
	}
	return nil
}
