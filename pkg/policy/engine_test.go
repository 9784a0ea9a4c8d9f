package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/bindings"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func action(service string, tags []string, declared bool, d bindings.Decision) bindings.Action {
	d.ServiceName = service
	return bindings.Action{
		DeploymentID: "d1",
		Application:  "web",
		Service:      service,
		ServiceTags:  tags,
		Declared:     declared,
		Decision:     d,
	}
}

var (
	bind   = bindings.Decision{ShouldBind: true}
	unbind = bindings.Decision{ShouldUnbind: true}
	rebind = bindings.Decision{ShouldBind: true, ShouldUnbind: true}
)

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"protected-services", "undeclared-unbind"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %s at position %d, got %s", name, i, policies[i].Name)
		}
	}
}

func TestOperationOf(t *testing.T) {
	tests := []struct {
		decision bindings.Decision
		want     Operation
	}{
		{bind, OperationBind},
		{unbind, OperationUnbind},
		{rebind, OperationRebind},
		{bindings.Decision{}, OperationNone},
	}
	for _, tt := range tests {
		if got := OperationOf(tt.decision); got != tt.want {
			t.Errorf("OperationOf(%+v) = %s, want %s", tt.decision, got, tt.want)
		}
	}
}

func TestAllow_BuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)
	protected := []string{ProtectedTag}

	tests := []struct {
		name   string
		action bindings.Action
		denied bool
	}{
		{"bind protected service", action("db", protected, true, bind), false},
		{"rebind protected service", action("db", protected, true, rebind), false},
		{"unbind declared protected service", action("db", protected, true, unbind), true},
		{"unbind undeclared protected service", action("db", protected, false, unbind), true},
		{"unbind undeclared service", action("legacy", nil, false, unbind), false},
		{"unchanged protected binding", action("db", protected, true, bindings.Decision{}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Allow(context.Background(), tt.action)
			if tt.denied {
				if err == nil {
					t.Fatal("Expected action to be denied")
				}
				if !engine.IsPolicyViolation(err) {
					t.Errorf("Expected policy violation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Expected action to be allowed, got %v", err)
			}
		})
	}
}

func TestAllow_DenialMessage(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Allow(context.Background(), action("db", []string{ProtectedTag}, true, unbind))
	if err == nil {
		t.Fatal("Expected denial")
	}
	want := `protected-services: unbinding application "web" from protected service "db" is not allowed`
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("Expected error to contain %q, got %q", want, got)
	}
}

func TestEvaluate_WarningsDoNotBlock(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), Input{
		Action:  action("legacy", nil, false, unbind),
		Context: Context{Operation: OperationUnbind},
	})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Error("Expected warning-only evaluation to be allowed")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(result.Violations))
	}
	v := result.Violations[0]
	if v.Policy != "undeclared-unbind" || v.Severity != SeverityWarning {
		t.Errorf("Unexpected violation: %+v", v)
	}
	if v.Application != "web" || v.Service != "legacy" {
		t.Errorf("Expected violation to name the binding, got %s/%s", v.Application, v.Service)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %d", len(result.Warnings))
	}
	if len(result.EvaluatedPolicies) != 2 {
		t.Errorf("Expected 2 evaluated policies, got %v", result.EvaluatedPolicies)
	}
}

func TestAddPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:     "billing-pinned",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.billing

import rego.v1

deny contains msg if {
	input.action.service == "billing"
	input.context.operation != "bind"
	msg := "billing bindings are pinned"
}`,
	}
	if err := eng.AddPolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	if err := eng.Allow(context.Background(), action("billing", nil, true, rebind)); !engine.IsPolicyViolation(err) {
		t.Errorf("Expected string deny with error severity to block, got %v", err)
	}
	if err := eng.Allow(context.Background(), action("billing", nil, true, bind)); err != nil {
		t.Errorf("Expected bind to be allowed, got %v", err)
	}

	p, err := eng.GetPolicy("billing-pinned")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if p.Severity != SeverityError {
		t.Errorf("Unexpected severity %s", p.Severity)
	}
}

func TestAddPolicies_InvalidRego(t *testing.T) {
	eng := newTestEngine(t)

	policies := []Policy{
		{Name: "valid", Enabled: true, Rego: "package ok\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n"},
		{Name: "broken", Enabled: true, Rego: "package broken\n\ndeny contains if {"},
	}
	if err := eng.AddPolicies(context.Background(), policies); err == nil {
		t.Fatal("Expected compile error")
	}

	if _, err := eng.GetPolicy("valid"); err == nil {
		t.Error("Expected no policy to be added when one fails to compile")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	protectedUnbind := action("db", []string{ProtectedTag}, true, unbind)

	if err := eng.DisablePolicy("protected-services"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	if err := eng.Allow(ctx, protectedUnbind); err != nil {
		t.Errorf("Expected disabled policy not to block, got %v", err)
	}

	if err := eng.EnablePolicy("protected-services"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.Allow(ctx, protectedUnbind); err == nil {
		t.Error("Expected re-enabled policy to block")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
