package rules

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule is wrapped by every rule definition error.
var ErrInvalidRule = errors.New("invalid rule")

// RuleKind tags the predicate variant of a rule.
type RuleKind string

const (
	// KindSectionPresence holds when a named section exists.
	KindSectionPresence RuleKind = "section_presence"

	// KindKeywordPresence holds when keywords occur in the document or a section.
	KindKeywordPresence RuleKind = "keyword_presence"

	// KindCrossReference holds when one section references another name.
	KindCrossReference RuleKind = "cross_reference"

	// KindNumericThreshold holds when a computed scalar satisfies a comparison.
	KindNumericThreshold RuleKind = "numeric_threshold"
)

// MatchMode controls how a keyword list is combined.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// Metric names a computed scalar for numeric threshold rules.
type Metric string

// MetricWordCount counts the words of a section or of the whole document.
const MetricWordCount Metric = "word_count"

// Operator is a numeric comparison.
type Operator string

const (
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
)

// Compare reports whether actual satisfies the comparison against expected.
func (o Operator) Compare(actual, expected float64) bool {
	switch o {
	case OpGreaterOrEqual:
		return actual >= expected
	case OpLessOrEqual:
		return actual <= expected
	case OpEqual:
		return actual == expected
	default:
		return false
	}
}

func (o Operator) valid() bool {
	return o == OpGreaterOrEqual || o == OpLessOrEqual || o == OpEqual
}

// Predicate is the closed set of rule conditions. The unexported method keeps
// the set sealed to this package so evaluators can switch exhaustively.
type Predicate interface {
	Kind() RuleKind
	sealed()
}

// SectionPresence requires the named section to be present.
type SectionPresence struct {
	Section string
}

// KeywordPresence requires keywords in the whole text, or in Section when set.
type KeywordPresence struct {
	Keywords []string
	Section  string
	Mode     MatchMode
}

// CrossReference requires Section's body to reference Target.
// When Markers is non-empty the reference must follow one of the markers.
type CrossReference struct {
	Section string
	Target  string
	Markers []string
}

// NumericThreshold compares a metric of Section (or the whole document) to Value.
type NumericThreshold struct {
	Metric   Metric
	Section  string
	Operator Operator
	Value    float64
}

func (SectionPresence) Kind() RuleKind  { return KindSectionPresence }
func (KeywordPresence) Kind() RuleKind  { return KindKeywordPresence }
func (CrossReference) Kind() RuleKind   { return KindCrossReference }
func (NumericThreshold) Kind() RuleKind { return KindNumericThreshold }

func (SectionPresence) sealed()  {}
func (KeywordPresence) sealed()  {}
func (CrossReference) sealed()   {}
func (NumericThreshold) sealed() {}

// PolicyRule is a predicate tagged with a severity and a message template.
type PolicyRule struct {
	ID        string
	Severity  Severity
	Message   string
	Predicate Predicate
}

// Kind returns the predicate variant of the rule.
func (r PolicyRule) Kind() RuleKind {
	if r.Predicate == nil {
		return ""
	}
	return r.Predicate.Kind()
}

func (r PolicyRule) clone() PolicyRule {
	out := r
	switch p := r.Predicate.(type) {
	case KeywordPresence:
		p.Keywords = append([]string(nil), p.Keywords...)
		out.Predicate = p
	case CrossReference:
		p.Markers = append([]string(nil), p.Markers...)
		out.Predicate = p
	}
	return out
}

// RuleDefinition is the flat, serializable form of a PolicyRule.
type RuleDefinition struct {
	ID       string    `json:"id" yaml:"id" validate:"required"`
	Kind     RuleKind  `json:"kind" yaml:"kind" validate:"required,oneof=section_presence keyword_presence cross_reference numeric_threshold"`
	Severity Severity  `json:"severity" yaml:"severity" validate:"required,oneof=blocking warning"`
	Message  string    `json:"message,omitempty" yaml:"message,omitempty"`
	Section  string    `json:"section,omitempty" yaml:"section,omitempty"`
	Keywords []string  `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Match    MatchMode `json:"match,omitempty" yaml:"match,omitempty" validate:"omitempty,oneof=any all"`
	Target   string    `json:"target,omitempty" yaml:"target,omitempty"`
	Markers  []string  `json:"markers,omitempty" yaml:"markers,omitempty"`
	Metric   Metric    `json:"metric,omitempty" yaml:"metric,omitempty" validate:"omitempty,oneof=word_count"`
	Operator Operator  `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    *float64  `json:"value,omitempty" yaml:"value,omitempty"`
}

// Compile checks the definition and returns the typed rule.
func (d RuleDefinition) Compile() (PolicyRule, error) {
	if strings.TrimSpace(d.ID) == "" {
		return PolicyRule{}, fmt.Errorf("%w: rule id is required", ErrInvalidRule)
	}
	if !d.Severity.Valid() {
		return PolicyRule{}, fmt.Errorf("%w %q: unknown severity %q", ErrInvalidRule, d.ID, d.Severity)
	}

	rule := PolicyRule{ID: d.ID, Severity: d.Severity, Message: d.Message}

	switch d.Kind {
	case KindSectionPresence:
		if d.Section == "" {
			return PolicyRule{}, fmt.Errorf("%w %q: section_presence requires a section", ErrInvalidRule, d.ID)
		}
		rule.Predicate = SectionPresence{Section: d.Section}

	case KindKeywordPresence:
		keywords := nonEmpty(d.Keywords)
		if len(keywords) == 0 {
			return PolicyRule{}, fmt.Errorf("%w %q: keyword_presence requires keywords", ErrInvalidRule, d.ID)
		}
		mode := d.Match
		if mode == "" {
			mode = MatchAny
		}
		if mode != MatchAny && mode != MatchAll {
			return PolicyRule{}, fmt.Errorf("%w %q: unknown match mode %q", ErrInvalidRule, d.ID, d.Match)
		}
		rule.Predicate = KeywordPresence{Keywords: keywords, Section: d.Section, Mode: mode}

	case KindCrossReference:
		if d.Section == "" || d.Target == "" {
			return PolicyRule{}, fmt.Errorf("%w %q: cross_reference requires section and target", ErrInvalidRule, d.ID)
		}
		rule.Predicate = CrossReference{Section: d.Section, Target: d.Target, Markers: nonEmpty(d.Markers)}

	case KindNumericThreshold:
		metric := d.Metric
		if metric == "" {
			metric = MetricWordCount
		}
		if metric != MetricWordCount {
			return PolicyRule{}, fmt.Errorf("%w %q: unknown metric %q", ErrInvalidRule, d.ID, d.Metric)
		}
		if !d.Operator.valid() {
			return PolicyRule{}, fmt.Errorf("%w %q: unknown operator %q", ErrInvalidRule, d.ID, d.Operator)
		}
		if d.Value == nil {
			return PolicyRule{}, fmt.Errorf("%w %q: numeric_threshold requires a value", ErrInvalidRule, d.ID)
		}
		rule.Predicate = NumericThreshold{Metric: metric, Section: d.Section, Operator: d.Operator, Value: *d.Value}

	default:
		return PolicyRule{}, fmt.Errorf("%w %q: unknown kind %q", ErrInvalidRule, d.ID, d.Kind)
	}

	return rule, nil
}

// Definition returns the flat form of the rule.
func (r PolicyRule) Definition() RuleDefinition {
	def := RuleDefinition{ID: r.ID, Kind: r.Kind(), Severity: r.Severity, Message: r.Message}
	switch p := r.Predicate.(type) {
	case SectionPresence:
		def.Section = p.Section
	case KeywordPresence:
		def.Section = p.Section
		def.Keywords = append([]string(nil), p.Keywords...)
		def.Match = p.Mode
	case CrossReference:
		def.Section = p.Section
		def.Target = p.Target
		def.Markers = append([]string(nil), p.Markers...)
	case NumericThreshold:
		def.Section = p.Section
		def.Metric = p.Metric
		def.Operator = p.Operator
		def.Value = Float(p.Value)
	}
	return def
}

// nonEmpty returns the trimmed, non-empty entries of in.
func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
