package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// Default messages per rule kind. Placeholders: {rule} {section} {target}
// {keywords} {operator} {expected} {actual}.
var defaultMessages = map[rules.RuleKind]string{
	rules.KindSectionPresence:  `rule {rule}: section "{section}" is missing`,
	rules.KindKeywordPresence:  `rule {rule}: {section} does not mention {keywords}`,
	rules.KindCrossReference:   `rule {rule}: section "{section}" does not reference "{target}"`,
	rules.KindNumericThreshold: `rule {rule}: word count of {section} is {actual}, expected {operator} {expected}`,
}

var placeholderOrder = []string{"rule", "section", "target", "keywords", "operator", "expected", "actual"}

// ruleOutcome is the evaluation of one rule.
type ruleOutcome struct {
	holds    bool
	vars     map[string]string
	location *Location
}

// EvaluateRules evaluates every rule of spec in declared order. A failing
// rule yields a finding at the rule's own severity. An unsupported rule
// variant aborts the pass with an error.
func EvaluateRules(outline *Outline, spec *rules.PolicySpec) ([]Finding, error) {
	var findings []Finding
	for _, rule := range spec.Rules {
		out, err := evaluateRule(outline, spec.RequiredSections, rule)
		if err != nil {
			return nil, err
		}
		if out.holds {
			continue
		}

		tmpl := rule.Message
		if tmpl == "" {
			tmpl = defaultMessages[rule.Kind()]
		}
		out.vars["rule"] = rule.ID

		findings = append(findings, Finding{
			Pass:     PassRule,
			Severity: rule.Severity,
			Code:     CodeRuleFailed,
			Message:  renderMessage(tmpl, out.vars),
			Location: out.location,
			Subject:  rule.ID,
		})
	}
	return findings, nil
}

func evaluateRule(outline *Outline, required []rules.RequiredSection, rule rules.PolicyRule) (ruleOutcome, error) {
	switch p := rule.Predicate.(type) {
	case rules.SectionPresence:
		_, ok := resolveSection(outline, required, p.Section)
		return ruleOutcome{holds: ok, vars: map[string]string{"section": p.Section}}, nil

	case rules.KeywordPresence:
		return evaluateKeywords(outline, required, p), nil

	case rules.CrossReference:
		return evaluateCrossReference(outline, required, p), nil

	case rules.NumericThreshold:
		return evaluateThreshold(outline, required, p)

	default:
		return ruleOutcome{}, NewConfigurationError(fmt.Sprintf("rule %q has an unsupported predicate %T", rule.ID, rule.Predicate), nil).
			WithCode(ErrCodeUnsupportedRule).
			WithSubject(rule.ID)
	}
}

func evaluateKeywords(outline *Outline, required []rules.RequiredSection, p rules.KeywordPresence) ruleOutcome {
	out := ruleOutcome{vars: map[string]string{"section": "the document", "keywords": quoteList(p.Keywords)}}

	scope := outline.tokens
	if p.Section != "" {
		out.vars["section"] = fmt.Sprintf("section %q", p.Section)
		sec, ok := resolveSection(outline, required, p.Section)
		if !ok {
			out.vars["actual"] = "section missing"
			return out
		}
		scope = sec.tokens
		out.location = &Location{Section: sec.Title, Offset: sec.Offset}
	}

	matched := matchKeywords(scope, p.Keywords)
	out.vars["actual"] = strings.Join(matched, ", ")

	if p.Mode == rules.MatchAll {
		out.holds = len(matched) == len(p.Keywords)
		if !out.holds {
			out.vars["keywords"] = quoteList(missingKeywords(p.Keywords, matched))
		}
		return out
	}
	out.holds = len(matched) > 0
	return out
}

func missingKeywords(all, matched []string) []string {
	found := make(map[string]struct{}, len(matched))
	for _, m := range matched {
		found[m] = struct{}{}
	}
	var missing []string
	for _, kw := range all {
		if _, ok := found[kw]; !ok {
			missing = append(missing, kw)
		}
	}
	return missing
}

// markerWindow is how many tokens may separate a marker from its target.
const markerWindow = 4

func evaluateCrossReference(outline *Outline, required []rules.RequiredSection, p rules.CrossReference) ruleOutcome {
	out := ruleOutcome{vars: map[string]string{"section": p.Section, "target": p.Target}}

	sec, ok := resolveSection(outline, required, p.Section)
	if !ok {
		out.vars["actual"] = "section missing"
		return out
	}
	out.location = &Location{Section: sec.Title, Offset: sec.Offset}

	targets := indexSequence(sec.tokens, tokenize(p.Target))
	if len(p.Markers) == 0 {
		out.holds = len(targets) > 0
		return out
	}

	for _, marker := range p.Markers {
		mt := tokenize(marker)
		for _, mpos := range indexSequence(sec.tokens, mt) {
			end := mpos + len(mt)
			for _, tpos := range targets {
				if tpos >= end && tpos-end <= markerWindow {
					out.holds = true
					return out
				}
			}
		}
	}
	return out
}

func evaluateThreshold(outline *Outline, required []rules.RequiredSection, p rules.NumericThreshold) (ruleOutcome, error) {
	out := ruleOutcome{vars: map[string]string{
		"section":  "the document",
		"operator": string(p.Operator),
		"expected": formatNumber(p.Value),
	}}

	if p.Metric != rules.MetricWordCount {
		return out, NewConfigurationError(fmt.Sprintf("unsupported metric %q", p.Metric), nil).
			WithCode(ErrCodeUnsupportedRule)
	}

	actual := outline.WordCount()
	if p.Section != "" {
		out.vars["section"] = fmt.Sprintf("section %q", p.Section)
		sec, ok := resolveSection(outline, required, p.Section)
		if !ok {
			out.vars["actual"] = "missing"
			return out, nil
		}
		out.location = &Location{Section: sec.Title, Offset: sec.Offset}
		actual = sec.WordCount()
	}

	out.vars["actual"] = strconv.Itoa(actual)
	out.holds = p.Operator.Compare(float64(actual), p.Value)
	return out, nil
}

// resolveSection finds a section named in a rule. Names of required
// sections resolve through their aliases and minimum length.
func resolveSection(outline *Outline, required []rules.RequiredSection, name string) (Section, bool) {
	key := rules.NormalizeName(name)
	for _, req := range required {
		for _, n := range req.Names() {
			if rules.NormalizeName(n) == key {
				return outline.Find(req.Names(), req.MinLength)
			}
		}
	}
	return outline.Find([]string{name}, 0)
}

func renderMessage(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(placeholderOrder))
	for _, k := range placeholderOrder {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
