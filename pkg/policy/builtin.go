package policy

// ProtectedTag marks services whose bindings must never be removed.
const ProtectedTag = "protected"

// BuiltinPolicies returns all built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedServicesPolicy(),
		undeclaredUnbindPolicy(),
	}
}

// protectedServicesPolicy denies removing the binding of a protected service.
// Rebinding is allowed because the application stays bound.
func protectedServicesPolicy() Policy {
	return Policy{
		Name:        "protected-services",
		Description: "Denies unbinding applications from services tagged protected",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"bindings", "safety"},
		Rego: `package cfdeploy.policies.protected

import rego.v1

deny contains violation if {
	input.context.operation == "unbind"
	"protected" in input.action.service_tags
	violation := {
		"message": sprintf("unbinding application %q from protected service %q is not allowed", [input.action.application, input.action.service]),
		"severity": "error",
	}
}`,
	}
}

// undeclaredUnbindPolicy reports bindings removed because the descriptor no
// longer declares them.
func undeclaredUnbindPolicy() Policy {
	return Policy{
		Name:        "undeclared-unbind",
		Description: "Warns when a binding is removed because the service is no longer declared",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"bindings"},
		Rego: `package cfdeploy.policies.undeclared

import rego.v1

deny contains violation if {
	input.context.operation == "unbind"
	not input.action.declared
	violation := {
		"message": sprintf("application %q is unbound from service %q which the descriptor no longer declares", [input.action.application, input.action.service]),
		"severity": "warning",
	}
}`,
	}
}
