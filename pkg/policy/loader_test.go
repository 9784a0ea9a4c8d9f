package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testRego = `# Keeps the billing service bound.
# Owned by the payments team.
# severity: error
package custom.billing

import rego.v1

deny contains "billing must stay bound" if {
	input.context.operation == "unbind"
	input.action.service == "billing"
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "billing-bound.rego")
	writeFile(t, policyFile, testRego)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "billing-bound" {
		t.Errorf("Expected name 'billing-bound', got '%s'", policy.Name)
	}
	if policy.Rego != testRego {
		t.Error("Rego content doesn't match")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity from comment, got %s", policy.Severity)
	}
	if policy.Description != "Keeps the billing service bound. Owned by the payments team." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
}

func TestLoadFromFile_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "pinned.yaml")
	writeFile(t, yamlFile, `name: pinned
description: Pins bindings
severity: critical
rego: |
  package pinned
  import rego.v1
  deny contains "pinned" if { false }
`)
	jsonFile := filepath.Join(dir, "audit.json")
	writeFile(t, jsonFile, `{"name":"audit","enabled":false,"rego":"package audit\nimport rego.v1\ndeny contains \"x\" if { false }"}`)

	loader := NewLoader(zerolog.Nop())

	p, err := loader.loadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load YAML policy: %v", err)
	}
	if p.Name != "pinned" || p.Severity != SeverityCritical || !p.Enabled {
		t.Errorf("Unexpected YAML policy: %+v", p)
	}

	p, err = loader.loadFromFile(jsonFile)
	if err != nil {
		t.Fatalf("Failed to load JSON policy: %v", err)
	}
	if p.Name != "audit" || p.Enabled {
		t.Errorf("Unexpected JSON policy: %+v", p)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", p.Severity)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported type", "policy.txt", "deny"},
		{"invalid json", "bad.json", "{not json"},
		{"missing name", "unnamed.yaml", "rego: package x"},
		{"missing rego", "empty.json", `{"name":"empty"}`},
	}

	loader := NewLoader(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)
			if _, err := loader.loadFromFile(path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadFromPaths_DirectorySkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.rego"), testRego)
	writeFile(t, filepath.Join(dir, "nested", "two.rego"), testRego)
	writeFile(t, filepath.Join(dir, "broken.json"), "{")
	writeFile(t, filepath.Join(dir, "README.md"), "# policies")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	writeFile(t, policyFile, testRego)

	if _, err := loader.loadFromFile(policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cached policy, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected empty cache, got %d", len(loader.cache))
	}
}

func TestLoadPolicies_IntoEngine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "billing-bound.rego"), testRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if err := eng.Allow(context.Background(), action("billing", nil, true, unbind)); err == nil {
		t.Error("Expected loaded policy to block unbinding billing")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "first.rego"), testRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	writeFile(t, filepath.Join(dir, "second.rego"), testRego)

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
