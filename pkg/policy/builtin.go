package policy

// BuiltinPolicies returns the built-in safety policies. They are always
// loaded; the no-destroy policy cannot be disabled.
func BuiltinPolicies() []Policy {
	return []Policy{
		noDestroyPolicy(),
		closedChangeKindsPolicy(),
	}
}

// noDestroyPolicy rejects any change that would destroy a resource. The
// diff engine never produces one, but the guard holds regardless of
// where a change list came from.
func noDestroyPolicy() Policy {
	return Policy{
		Name:        "no-destroy",
		Description: "Rejects delete changes; the controller never destroys resources",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package hearth.policies.safety

import rego.v1

deny contains violation if {
	some change in input.changes
	change.kind == "delete"
	violation := {
		"message": sprintf("destructive change for volume %s is forbidden", [change.path]),
		"severity": "error",
		"resource": change.path,
	}
}
`,
	}
}

// closedChangeKindsPolicy rejects change kinds outside the closed sets,
// catching any change list that bypassed the typed constructors.
func closedChangeKindsPolicy() Policy {
	return Policy{
		Name:        "closed-change-kinds",
		Description: "Rejects change kinds outside the closed tagged variants",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package hearth.policies.kinds

import rego.v1

volume_kinds := {"create", "modify"}

container_kinds := {"create", "mount-only", "exists-ok"}

deny contains violation if {
	some change in input.changes
	not change.kind in volume_kinds
	change.kind != "delete"
	violation := {
		"message": sprintf("unknown change kind %s for volume %s", [change.kind, change.path]),
		"severity": "error",
		"resource": change.path,
	}
}

deny contains violation if {
	some cc in input.container_changes
	not cc.kind in container_kinds
	violation := {
		"message": sprintf("unknown container change kind %s", [cc.kind]),
		"severity": "error",
		"resource": cc.volume_path,
	}
}
`,
	}
}
