package engine

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// CandidateDocument is one generated policy document submitted for validation.
// The engine never retains it.
type CandidateDocument struct {
	// Text is the generated document, typically markdown.
	Text string `json:"text"`

	// PolicyType selects the PolicySpec to validate against.
	PolicyType string `json:"policy_type"`

	// ClaimedControls are the Annex A controls the document must evidence.
	ClaimedControls []string `json:"claimed_controls,omitempty"`
}

// Pass identifies the pass that produced a finding.
type Pass string

const (
	PassInput       Pass = "input"
	PassStructural  Pass = "structural"
	PassControl     Pass = "control"
	PassRule        Pass = "rule"
	PassReadability Pass = "readability"
)

// Verdict is the overall outcome of a validation.
type Verdict string

const (
	VerdictPass             Verdict = "pass"
	VerdictPassWithWarnings Verdict = "pass_with_warnings"
	VerdictFail             Verdict = "fail"
)

// Finding codes.
const (
	CodeEmptyDocument    = "empty_document"
	CodeSectionMissing   = "section_missing"
	CodeSectionTooShort  = "section_too_short"
	CodeControlUncovered = "control_uncovered"
	CodeControlUnmapped  = "control_unmapped"
	CodeRuleFailed       = "rule_failed"
	CodeTooShortToAssess = "too_short_to_assess"
	CodeReadingEaseLow   = "reading_ease_low"
	CodeSentencesTooLong = "sentences_too_long"
	CodeWordsTooLong     = "words_too_long"
)

// Location points at the part of the document a finding refers to.
type Location struct {
	// Section is the heading text of the section, as written in the document.
	Section string `json:"section,omitempty"`

	// Offset is the character offset of the section heading in the document.
	Offset int `json:"offset"`
}

// Finding is one concrete issue. Findings are never mutated after creation.
type Finding struct {
	Pass     Pass           `json:"pass_origin"`
	Severity rules.Severity `json:"severity"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Location *Location      `json:"location,omitempty"`

	// Subject names what the finding is about: a section, control id or rule id.
	Subject string `json:"subject,omitempty"`
}

// Scores holds the readability metrics of a document. Ratios are rounded to
// two decimals. A document too short to assess has all-zero scores.
type Scores struct {
	Words             int     `json:"words"`
	Sentences         int     `json:"sentences"`
	Syllables         int     `json:"syllables"`
	AvgSentenceLength float64 `json:"avg_sentence_length"`
	AvgWordLength     float64 `json:"avg_word_length"`
	ReadingEase       float64 `json:"reading_ease"`
	Assessed          bool    `json:"assessed"`
}

// ControlCoverage is the match outcome of one claimed control.
type ControlCoverage struct {
	ControlID string   `json:"control_id"`
	Title     string   `json:"title"`
	Covered   bool     `json:"covered"`
	Matched   []string `json:"matched,omitempty"`
}

// Coverage summarizes how many claimed controls the document evidences.
// Unmapped controls are excluded.
type Coverage struct {
	Claimed  int               `json:"claimed"`
	Covered  int               `json:"covered"`
	Ratio    float64           `json:"ratio"`
	Controls []ControlCoverage `json:"controls"`
}

// ValidationResult is the outcome of one validation. It is owned by the
// caller; the engine keeps no reference to it.
type ValidationResult struct {
	PolicyType string    `json:"policy_type"`
	Verdict    Verdict   `json:"verdict"`
	Findings   []Finding `json:"findings"`
	Scores     Scores    `json:"scores"`
	Coverage   Coverage  `json:"coverage"`
}

// deriveVerdict returns fail if any finding is blocking, pass_with_warnings if
// any is a warning, and pass otherwise.
func deriveVerdict(findings []Finding) Verdict {
	verdict := VerdictPass
	for _, f := range findings {
		switch f.Severity {
		case rules.SeverityBlocking:
			return VerdictFail
		case rules.SeverityWarning:
			verdict = VerdictPassWithWarnings
		}
	}
	return verdict
}

// Blocking returns the blocking findings, in order.
func (r *ValidationResult) Blocking() []Finding {
	return r.filter(rules.SeverityBlocking)
}

// Warnings returns the warning findings, in order.
func (r *ValidationResult) Warnings() []Finding {
	return r.filter(rules.SeverityWarning)
}

func (r *ValidationResult) filter(sev rules.Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// BySeverity returns the findings with blocking findings first. Pass order is
// kept within a severity.
func (r *ValidationResult) BySeverity() []Finding {
	out := append([]Finding(nil), r.Findings...)
	sort.SliceStable(out, func(i, j int) bool {
		return severityRank(out[i].Severity) < severityRank(out[j].Severity)
	})
	return out
}

func severityRank(s rules.Severity) int {
	if s == rules.SeverityBlocking {
		return 0
	}
	return 1
}

// Canonical returns the stable JSON encoding of the result. Identical
// results always encode to identical bytes.
func (r *ValidationResult) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.normalized()); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalized returns a copy with nil slices replaced by empty ones, so the
// encoding does not depend on how the result was built.
func (r *ValidationResult) normalized() *ValidationResult {
	out := *r
	if out.Findings == nil {
		out.Findings = []Finding{}
	}
	if out.Coverage.Controls == nil {
		out.Coverage.Controls = []ControlCoverage{}
	}
	return &out
}
