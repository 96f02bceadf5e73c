package config

import (
	"fmt"
	"time"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// RuleSet is the content of one rule-set file.
type RuleSet struct {
	// Version is the rule-set format version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Policies are the policy specifications defined by the file.
	Policies []PolicyDocument `json:"policies,omitempty" yaml:"policies,omitempty" validate:"dive"`

	// Controls are control-to-keyword mappings. Entries without policy types
	// are global.
	Controls []rules.MappingRecord `json:"controls,omitempty" yaml:"controls,omitempty" validate:"dive"`

	// Readability are the global readability thresholds.
	Readability *rules.ReadabilityThresholds `json:"readability,omitempty" yaml:"readability,omitempty"`
}

// PolicyDocument is the file form of a policy specification.
type PolicyDocument struct {
	// PolicyType names the policy, e.g. "Access Control Policy".
	PolicyType string `json:"policy_type" yaml:"policy_type" validate:"required"`

	// Description is free text.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Controls lists the controls the policy normally claims. Ranges such as
	// "A.5.15 - A.5.18" are expanded.
	Controls []string `json:"controls,omitempty" yaml:"controls,omitempty"`

	// RequiredSections are the sections every document must contain.
	RequiredSections []rules.RequiredSection `json:"required_sections" yaml:"required_sections" validate:"dive"`

	// Rules are the declarative rules in evaluation order.
	Rules []rules.RuleDefinition `json:"rules,omitempty" yaml:"rules,omitempty" validate:"dive"`

	// Readability overrides the global thresholds for this policy type.
	Readability *rules.ReadabilityThresholds `json:"readability,omitempty" yaml:"readability,omitempty"`
}

// Spec compiles the document into a policy specification.
func (d PolicyDocument) Spec() (rules.PolicySpec, error) {
	spec := rules.PolicySpec{
		PolicyType:       d.PolicyType,
		Description:      d.Description,
		Controls:         d.Controls,
		RequiredSections: d.RequiredSections,
		Readability:      d.Readability,
	}
	for _, def := range d.Rules {
		rule, err := def.Compile()
		if err != nil {
			return rules.PolicySpec{}, err
		}
		spec.Rules = append(spec.Rules, rule)
	}
	return spec, nil
}

// SourceFile is a parsed rule-set file.
type SourceFile struct {
	// Path is the file path.
	Path string `json:"path"`

	// Format is the detected format: yaml, json or cue.
	Format string `json:"format"`

	// RuleSet is the decoded content.
	RuleSet *RuleSet `json:"rule_set"`
}

// ParsedRuleSets is the result of parsing a set of rule sources.
type ParsedRuleSets struct {
	// Files are the successfully decoded files in path order.
	Files []SourceFile `json:"files"`

	// ParsedAt is when the sources were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists every problem found, with file locations where known.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether any error-severity problem was found.
func (p *ParsedRuleSets) HasErrors() bool {
	for _, e := range p.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err returns the problems as a single error, or nil.
func (p *ParsedRuleSets) Err() error {
	if !p.HasErrors() {
		return nil
	}
	return &LoadError{Errors: p.Errors}
}

// Validation error severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a rule-set problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path, e.g. "policies.0.rules.2".
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is error or warning.
	Severity string `json:"severity" validate:"required,oneof=error warning"`
}

// String formats the error as file:line:col: path: message.
func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	msg := e.Message
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if loc == "" {
		return msg
	}
	return loc + ": " + msg
}

// LoadError carries every problem found while loading rule sets.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return "rule set invalid: " + e.Errors[0].String()
	}
	return fmt.Sprintf("rule set invalid: %s (and %d more)", e.Errors[0].String(), len(e.Errors)-1)
}
