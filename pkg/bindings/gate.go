package bindings

import "context"

// Action describes a binding change about to be made, for policy checks.
type Action struct {
	DeploymentID string   `json:"deployment_id"`
	Application  string   `json:"application"`
	Service      string   `json:"service"`
	ServiceTags  []string `json:"service_tags,omitempty"`
	Declared     bool     `json:"declared"`
	Decision     Decision `json:"decision"`
}

// Gate approves or denies binding changes. A denial is returned as an error
// classified as a policy violation.
type Gate interface {
	Allow(ctx context.Context, action Action) error
}
