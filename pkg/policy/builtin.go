package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		guardedDeletesPolicy(),
		protectedRecordsPolicy(),
		managedUsersPolicy(),
	}
}

// guardedDeletesPolicy only lets deletes through when the run was asked to
// delete: a reset, or a sync with cleanup enabled.
func guardedDeletesPolicy() Policy {
	return Policy{
		Name:        "guarded-deletes",
		Description: "Denies destination deletes unless cleanup or reset is in effect",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "delete"},
		Rego: `package orgsync.policies.deletes

import rego.v1

cleanup_modes := {"true", "force"}

deny contains violation if {
	input.action == "delete"
	input.phase != "reset"
	not input.cleanup in cleanup_modes

	violation := {
		"message": sprintf("deleting %s/%s requires cleanup or reset", [input.type, input.key]),
		"severity": "critical",
	}
}`,
	}
}

// protectedRecordsPolicy keeps destination records tagged as protected from
// being deleted, even by cleanup or reset.
func protectedRecordsPolicy() Policy {
	return Policy{
		Name:        "protected-records",
		Description: "Denies deleting destination records tagged orgsync:protected",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "delete"},
		Rego: `package orgsync.policies.protected

import rego.v1

protected_tag := "orgsync:protected"

deny contains violation if {
	input.action == "delete"
	some tag in input.record.tags
	tag == protected_tag

	violation := {
		"message": sprintf("%s/%s is tagged %s", [input.type, input.key, protected_tag]),
		"severity": "error",
	}
}`,
	}
}

// managedUsersPolicy warns when a write would disable a user in the
// destination account.
func managedUsersPolicy() Policy {
	return Policy{
		Name:        "managed-users",
		Description: "Warns when a user write disables the destination user",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"users"},
		Rego: `package orgsync.policies.users

import rego.v1

deny contains violation if {
	input.type == "users"
	input.action in {"create", "update"}
	input.record.attributes.disabled == true

	violation := {
		"message": sprintf("user %s will be disabled in the destination", [input.key]),
		"severity": "warning",
	}
}`,
	}
}
