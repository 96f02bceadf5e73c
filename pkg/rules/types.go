package rules

import (
	"encoding/json"
)

// Severity is the severity vocabulary shared by rules and findings.
// The string values are part of the stable result contract.
type Severity string

const (
	// SeverityBlocking forces a fail verdict.
	SeverityBlocking Severity = "blocking"

	// SeverityWarning allows a pass_with_warnings verdict.
	SeverityWarning Severity = "warning"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s == SeverityBlocking || s == SeverityWarning
}

// PolicySpec is the declarative definition of what a policy type must contain.
// A PolicySpec reachable from a Snapshot is never mutated.
type PolicySpec struct {
	// PolicyType identifies the policy (e.g. "Access Control Policy").
	PolicyType string `json:"policy_type" yaml:"policy_type"`

	// Description is a human-readable description of the policy.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Controls is the default list of Annex A controls a document of this type claims.
	Controls []string `json:"controls,omitempty" yaml:"controls,omitempty"`

	// RequiredSections lists the sections every document must contain, in declared order.
	RequiredSections []RequiredSection `json:"required_sections" yaml:"required_sections"`

	// Rules lists the predicate rules, evaluated in declared order.
	Rules []PolicyRule `json:"-" yaml:"-"`

	// Readability overrides the global readability thresholds for this policy type.
	Readability *ReadabilityThresholds `json:"readability,omitempty" yaml:"readability,omitempty"`
}

// RequiredSection is one section a policy document must contain.
type RequiredSection struct {
	// Name is the canonical section name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Aliases are alternative headings accepted for the section.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	// MinLength is the minimum body length in characters. Zero means non-empty.
	MinLength int `json:"min_length,omitempty" yaml:"min_length,omitempty" validate:"gte=0"`
}

// Names returns the section name followed by its aliases.
func (s RequiredSection) Names() []string {
	names := make([]string, 0, 1+len(s.Aliases))
	names = append(names, s.Name)
	names = append(names, s.Aliases...)
	return names
}

// ControlMapping associates an Annex A control with the keywords that evidence it.
type ControlMapping struct {
	// ControlID is the normalized control identifier (e.g. "A.8.24").
	ControlID string `json:"control_id" yaml:"control_id"`

	// Title is the human-readable control title.
	Title string `json:"title" yaml:"title"`

	// Keywords is the non-empty keyword footprint searched for in documents.
	Keywords []string `json:"keywords" yaml:"keywords"`

	// PolicyType is the policy type the keyword set applies to. Empty means global.
	PolicyType string `json:"policy_type,omitempty" yaml:"policy_type,omitempty"`
}

// MappingRecord is one tuple of the bulk-upsert interface used by control-mapping importers.
type MappingRecord struct {
	ControlID   string   `json:"control_id" yaml:"control_id" validate:"required"`
	Title       string   `json:"title" yaml:"title"`
	Keywords    []string `json:"keywords" yaml:"keywords" validate:"required,min=1,dive,required"`
	PolicyTypes []string `json:"policy_types,omitempty" yaml:"policy_types,omitempty"`
}

// ReadabilityThresholds bounds the readability metrics of a document.
// Nil bounds are not checked.
type ReadabilityThresholds struct {
	// MinReadingEase is the lower bound for the Flesch Reading Ease score.
	MinReadingEase *float64 `json:"min_reading_ease,omitempty" yaml:"min_reading_ease,omitempty"`

	// MaxAvgSentenceLength is the upper bound for words per sentence.
	MaxAvgSentenceLength *float64 `json:"max_avg_sentence_length,omitempty" yaml:"max_avg_sentence_length,omitempty"`

	// MaxAvgWordLength is the upper bound for letters per word.
	MaxAvgWordLength *float64 `json:"max_avg_word_length,omitempty" yaml:"max_avg_word_length,omitempty"`

	// MinWords is the minimum number of words needed to assess readability.
	MinWords int `json:"min_words,omitempty" yaml:"min_words,omitempty" validate:"gte=0"`
}

// Float returns a pointer to v, for building thresholds in code.
func Float(v float64) *float64 {
	return &v
}

// clone returns a deep copy of the thresholds.
func (t ReadabilityThresholds) clone() ReadabilityThresholds {
	out := ReadabilityThresholds{MinWords: t.MinWords}
	if t.MinReadingEase != nil {
		out.MinReadingEase = Float(*t.MinReadingEase)
	}
	if t.MaxAvgSentenceLength != nil {
		out.MaxAvgSentenceLength = Float(*t.MaxAvgSentenceLength)
	}
	if t.MaxAvgWordLength != nil {
		out.MaxAvgWordLength = Float(*t.MaxAvgWordLength)
	}
	return out
}

// clone returns a deep copy of the spec.
func (s *PolicySpec) clone() *PolicySpec {
	out := &PolicySpec{
		PolicyType:  s.PolicyType,
		Description: s.Description,
		Controls:    append([]string(nil), s.Controls...),
	}
	out.RequiredSections = make([]RequiredSection, len(s.RequiredSections))
	for i, sec := range s.RequiredSections {
		out.RequiredSections[i] = RequiredSection{
			Name:      sec.Name,
			Aliases:   append([]string(nil), sec.Aliases...),
			MinLength: sec.MinLength,
		}
	}
	out.Rules = make([]PolicyRule, len(s.Rules))
	for i, r := range s.Rules {
		out.Rules[i] = r.clone()
	}
	if s.Readability != nil {
		t := s.Readability.clone()
		out.Readability = &t
	}
	return out
}

// MarshalJSON encodes the spec including its rules in their flat definition form.
func (s PolicySpec) MarshalJSON() ([]byte, error) {
	type plain PolicySpec
	defs := make([]RuleDefinition, len(s.Rules))
	for i, r := range s.Rules {
		defs[i] = r.Definition()
	}
	return json.Marshal(struct {
		*plain
		Rules []RuleDefinition `json:"rules"`
	}{plain: (*plain)(&s), Rules: defs})
}

// UnmarshalJSON decodes a spec whose rules are given in their flat definition form.
func (s *PolicySpec) UnmarshalJSON(data []byte) error {
	type plain PolicySpec
	aux := struct {
		*plain
		Rules []RuleDefinition `json:"rules"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Rules = make([]PolicyRule, 0, len(aux.Rules))
	for _, def := range aux.Rules {
		r, err := def.Compile()
		if err != nil {
			return err
		}
		s.Rules = append(s.Rules, r)
	}
	return nil
}
