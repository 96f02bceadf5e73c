package policy

import (
	"time"
)

// Severity represents the severity level of a gate violation.
type Severity string

const (
	// SeverityWarning is reported but does not reject the document.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the document.
	SeverityError Severity = "error"
)

// Policy represents an acceptance policy with its Rego code. The module must
// define a "deny" set of strings or {message, severity} objects.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation represents a single denied condition.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the outcome of running a validation result through the gate.
// It never changes the result's verdict.
type Decision struct {
	// Accepted is false when any violation has error severity.
	Accepted bool `json:"accepted"`

	// Violations lists every denied condition, ordered by policy name.
	Violations []Violation `json:"violations"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the gate ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Rejections returns the violations that rejected the document.
func (d *Decision) Rejections() []Violation {
	var out []Violation
	for _, v := range d.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// Options tunes a gate evaluation.
type Options struct {
	// MaxWarnings is the warning budget. Nil means no budget.
	MaxWarnings *int

	// ResultID identifies the stored result, for events.
	ResultID string

	// Metadata is passed to policies as input.metadata.
	Metadata map[string]interface{}
}

// Input is the document presented to every policy as "input".
type Input struct {
	PolicyType  string                 `json:"policy_type"`
	Result      interface{}            `json:"result"`
	Counts      Counts                 `json:"counts"`
	MaxWarnings *int                   `json:"max_warnings"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Counts summarizes the findings of the result under evaluation.
type Counts struct {
	Findings int `json:"findings"`
	Blocking int `json:"blocking"`
	Warnings int `json:"warnings"`
}
