package policy

// Built-in policy names.
const (
	PolicyVerdictNotFail        = "verdict-not-fail"
	PolicyWarningBudget         = "warning-budget"
	PolicyReadabilityAssessable = "readability-assessable"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		verdictNotFailPolicy(),
		warningBudgetPolicy(),
		readabilityAssessablePolicy(),
	}
}

// verdictNotFailPolicy never accepts a failed document.
func verdictNotFailPolicy() Policy {
	return Policy{
		Name:        PolicyVerdictNotFail,
		Description: "A document with a fail verdict is never accepted",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"verdict"},
		Rego: `package docguard.gate.verdict

import rego.v1

deny contains violation if {
	input.result.verdict == "fail"
	violation := {
		"message": sprintf("%s has a fail verdict with %d blocking findings", [input.policy_type, input.counts.blocking]),
		"severity": "error",
	}
}
`,
	}
}

// warningBudgetPolicy rejects documents with more warnings than the budget.
func warningBudgetPolicy() Policy {
	return Policy{
		Name:        PolicyWarningBudget,
		Description: "Warnings above max_warnings are rejected when a budget is set",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"warnings"},
		Rego: `package docguard.gate.warnings

import rego.v1

deny contains violation if {
	is_number(input.max_warnings)
	input.counts.warnings > input.max_warnings
	violation := {
		"message": sprintf("%d warnings exceed the budget of %d", [input.counts.warnings, input.max_warnings]),
		"severity": "error",
	}
}
`,
	}
}

// readabilityAssessablePolicy rejects documents whose readability could not
// be scored.
func readabilityAssessablePolicy() Policy {
	return Policy{
		Name:        PolicyReadabilityAssessable,
		Description: "A result without readability scores is rejected",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"readability"},
		Rego: `package docguard.gate.readability

import rego.v1

deny contains violation if {
	not input.result.scores.assessed
	violation := {
		"message": "readability could not be assessed",
		"severity": "error",
	}
}
`,
	}
}
