// Package policy gates binding changes with Open Policy Agent.
//
// Before a deployment binds, unbinds or rebinds a service, the binding step
// asks a bindings.Gate for approval. Engine implements that gate by
// evaluating Rego policies. Each policy contributes the members of the deny
// set of its package; a member is either a message string or an object with
// message and severity fields:
//
//	package custom.policies.billing
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.context.operation == "unbind"
//	    input.action.service == "billing"
//	    violation := {
//	        "message": "billing must stay bound",
//	        "severity": "error",
//	    }
//	}
//
// The input document carries the action (deployment, application, service,
// service tags, whether the descriptor declares the service, and the binding
// decision) and a context with the operation name: bind, unbind or rebind.
//
// Violations of severity error or critical deny the change, which fails the
// step with a policy violation. Lower severities are logged as warnings.
//
// # Built-in Policies
//
//   - protected-services denies unbinding services tagged "protected"
//   - undeclared-unbind warns when a binding is removed because the service
//     is no longer declared
//
// # Loading and Hot Reload
//
// Policies are loaded from .rego files, named after the file, or from JSON
// and YAML definitions. The loader can watch policy paths and hand the
// reloaded set to Engine.AddPolicies:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.AddPolicies(ctx, policies)
//	})
package policy
