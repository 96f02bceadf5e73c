package engine

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

const accessControlDoc = `# Access Control Policy

## Purpose
This policy explains how access control protects company systems and data.

## Scope
It applies to every employee, contractor and system that the company runs.

## Roles

## Review
The security team reviews this policy once a year.
`

const cryptographyDoc = `## Purpose
This policy sets rules for protecting stored data and keys.

## Scope
It covers all company laptops and servers.
`

// buildStore returns a snapshot with two policy types, two global mappings
// and permissive global thresholds.
func buildStore(t *testing.T) *rules.Snapshot {
	t.Helper()

	b := rules.NewBuilder()
	specs := []rules.PolicySpec{
		{
			PolicyType: "Access Control Policy",
			Controls:   []string{"A.5.15"},
			RequiredSections: []rules.RequiredSection{
				{Name: "Purpose"},
				{Name: "Scope"},
				{Name: "Roles", Aliases: []string{"Roles & Responsibilities"}},
				{Name: "Review"},
			},
		},
		{
			PolicyType: "Cryptography Policy",
			Controls:   []string{"A.8.24"},
			RequiredSections: []rules.RequiredSection{
				{Name: "Purpose"},
				{Name: "Scope"},
			},
		},
	}
	for _, spec := range specs {
		if err := b.PutSpec(spec); err != nil {
			t.Fatalf("PutSpec(%s) error = %v", spec.PolicyType, err)
		}
	}

	records := []rules.MappingRecord{
		{ControlID: "A.5.15", Title: "Access control", Keywords: []string{"access control"}},
		{ControlID: "A.8.24", Title: "Use of cryptography", Keywords: []string{"encryption", "cryptographic"}},
	}
	if _, err := b.Upsert(records); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := b.SetGlobalThresholds(rules.ReadabilityThresholds{MinWords: 10}); err != nil {
		t.Fatalf("SetGlobalThresholds() error = %v", err)
	}
	return b.Build()
}

func newTestEngine() *Engine {
	return New(Options{Logger: zerolog.Nop()})
}

func TestValidateAccessControlWithEmptySection(t *testing.T) {
	store := buildStore(t)

	result, err := newTestEngine().ValidateText(context.Background(), store, accessControlDoc, "Access Control Policy", "A.5.15")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if result.Verdict != VerdictPassWithWarnings {
		t.Errorf("verdict = %s, want pass_with_warnings; findings: %+v", result.Verdict, result.Findings)
	}
	if len(result.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %+v", result.Findings)
	}
	f := result.Findings[0]
	if f.Pass != PassStructural || f.Code != CodeSectionTooShort || f.Subject != "Roles" {
		t.Errorf("finding = %+v", f)
	}
	if result.Coverage.Ratio != 1 || result.Coverage.Covered != 1 {
		t.Errorf("coverage = %+v", result.Coverage)
	}
	if !result.Scores.Assessed {
		t.Error("expected readability scores")
	}
}

func TestValidateUncoveredControlFails(t *testing.T) {
	store := buildStore(t)

	result, err := newTestEngine().ValidateText(context.Background(), store, cryptographyDoc, "Cryptography Policy", "A.8.24")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if result.Verdict != VerdictFail {
		t.Errorf("verdict = %s, want fail", result.Verdict)
	}
	blocking := result.Blocking()
	if len(blocking) != 1 {
		t.Fatalf("expected 1 blocking finding, got %+v", blocking)
	}
	if blocking[0].Subject != "A.8.24" || !strings.Contains(blocking[0].Message, "A.8.24") {
		t.Errorf("finding = %+v", blocking[0])
	}
	if result.Coverage.Ratio != 0 {
		t.Errorf("ratio = %v, want 0", result.Coverage.Ratio)
	}
}

func TestValidateMissingSection(t *testing.T) {
	store := buildStore(t)
	doc := strings.Replace(accessControlDoc, "## Roles\n", "## Roles\nOwners approve every request.\n", 1)
	doc = doc[:strings.Index(doc, "## Review")]

	result, err := newTestEngine().ValidateText(context.Background(), store, doc, "Access Control Policy")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	blocking := result.Blocking()
	if len(blocking) != 1 {
		t.Fatalf("expected exactly 1 blocking finding, got %+v", result.Findings)
	}
	if blocking[0].Code != CodeSectionMissing || blocking[0].Subject != "Review" {
		t.Errorf("finding = %+v", blocking[0])
	}
	if result.Verdict != VerdictFail {
		t.Errorf("verdict = %s, want fail", result.Verdict)
	}
}

func TestValidateUnmappedControlIsConfigurationError(t *testing.T) {
	store := buildStore(t)

	tests := []struct {
		name    string
		claimed []string
	}{
		{"single unknown control", []string{"A.9.99"}},
		{"one of two unknown", []string{"A.5.15", "A.9.99"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestEngine().ValidateText(context.Background(), store, accessControlDoc, "Access Control Policy", tt.claimed...)
			if result != nil {
				t.Errorf("expected no result, got %+v", result)
			}
			if !IsConfiguration(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}

			var ve *Error
			if !errors.As(err, &ve) || ve.Code != ErrCodeUnmappedControl {
				t.Errorf("error = %+v", ve)
			}
			var nf *rules.NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("expected wrapped NotFoundError, got %v", err)
			}
			if !reflect.DeepEqual(nf.Keys, []string{"A.9.99"}) {
				t.Errorf("missing keys = %v", nf.Keys)
			}
		})
	}
}

func TestValidateConfigurationBeforeContent(t *testing.T) {
	store := buildStore(t)

	_, err := newTestEngine().ValidateText(context.Background(), store, "", "Unknown Policy")
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("expected ErrNotFound in chain, got %v", err)
	}
	var ve *Error
	if errors.As(err, &ve) && ve.Code != ErrCodeUnknownPolicyType {
		t.Errorf("code = %s", ve.Code)
	}
}

func TestValidateMissingThresholds(t *testing.T) {
	b := rules.NewBuilder()
	if err := b.PutSpec(rules.PolicySpec{
		PolicyType:       "Backup Policy",
		RequiredSections: []rules.RequiredSection{{Name: "Purpose"}},
	}); err != nil {
		t.Fatalf("PutSpec() error = %v", err)
	}

	_, err := newTestEngine().ValidateText(context.Background(), b.Build(), "## Purpose\nBackups run daily.", "Backup Policy")
	var ve *Error
	if !errors.As(err, &ve) || ve.Class != ErrorClassConfiguration || ve.Code != ErrCodeMissingThresholds {
		t.Errorf("error = %v", err)
	}
}

func TestValidateInputErrors(t *testing.T) {
	store := buildStore(t)
	e := newTestEngine()

	if _, err := e.Validate(context.Background(), nil, CandidateDocument{Text: "x", PolicyType: "Cryptography Policy"}); !IsInput(err) {
		t.Errorf("nil store: expected input error, got %v", err)
	}
	if _, err := e.Validate(context.Background(), store, CandidateDocument{Text: "x", PolicyType: " "}); !IsInput(err) {
		t.Errorf("blank policy type: expected input error, got %v", err)
	}
}

func TestValidateEmptyDocument(t *testing.T) {
	store := buildStore(t)

	result, err := newTestEngine().ValidateText(context.Background(), store, " \n\t\n", "Cryptography Policy")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Verdict != VerdictFail {
		t.Errorf("verdict = %s, want fail", result.Verdict)
	}
	if len(result.Findings) != 1 || result.Findings[0].Code != CodeEmptyDocument || result.Findings[0].Pass != PassInput {
		t.Errorf("findings = %+v", result.Findings)
	}
}

func TestValidateTooShortDocument(t *testing.T) {
	store := buildStore(t)

	result, err := newTestEngine().ValidateText(context.Background(), store, "Hello", "Cryptography Policy")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Scores.Assessed {
		t.Error("expected scores not to be assessed")
	}

	var found bool
	for _, f := range result.Findings {
		if f.Code == CodeTooShortToAssess {
			found = true
			if f.Severity != rules.SeverityBlocking {
				t.Errorf("severity = %s, want blocking", f.Severity)
			}
		}
	}
	if !found {
		t.Errorf("expected too_short_to_assess finding, got %+v", result.Findings)
	}
}

func TestValidateUnsupportedRule(t *testing.T) {
	b := rules.NewBuilderFrom(buildStore(t))
	store := &brokenRuleStore{Snapshot: b.Build()}

	result, err := newTestEngine().ValidateText(context.Background(), store, cryptographyDoc, "Cryptography Policy")
	if result != nil {
		t.Errorf("expected no result, got %+v", result)
	}
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ve.Class != ErrorClassConfiguration || ve.Code != ErrCodeUnsupportedRule || ve.PolicyType != "Cryptography Policy" {
		t.Errorf("error = %+v", ve)
	}
}

// brokenRuleStore serves specs carrying a rule without a predicate.
type brokenRuleStore struct {
	*rules.Snapshot
}

func (s *brokenRuleStore) GetSpec(policyType string) (*rules.PolicySpec, error) {
	spec, err := s.Snapshot.GetSpec(policyType)
	if err != nil {
		return nil, err
	}
	spec.Rules = append(spec.Rules, rules.PolicyRule{ID: "broken", Severity: rules.SeverityBlocking})
	return spec, nil
}

func TestValidateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine().ValidateText(ctx, buildStore(t), cryptographyDoc, "Cryptography Policy")
	var ve *Error
	if !errors.As(err, &ve) || ve.Class != ErrorClassInternal || ve.Code != ErrCodeCanceled {
		t.Errorf("error = %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain")
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	store := buildStore(t)
	concurrent := newTestEngine()
	sequential := New(Options{Sequential: true, Logger: zerolog.Nop()})

	var first []byte
	for i := 0; i < 5; i++ {
		for _, e := range []*Engine{concurrent, sequential} {
			result, err := e.ValidateText(context.Background(), store, accessControlDoc, "Access Control Policy", "A.5.15")
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			data, err := result.Canonical()
			if err != nil {
				t.Fatalf("Canonical() error = %v", err)
			}
			if first == nil {
				first = data
				continue
			}
			if !bytes.Equal(first, data) {
				t.Fatalf("results differ:\n%s\n%s", first, data)
			}
		}
	}
}

func TestValidateFixingContentNeverAddsBlockingFindings(t *testing.T) {
	store := buildStore(t)
	e := newTestEngine()

	broken := "## Purpose\nWe keep things safe for everyone at the company.\n"
	fixed := broken + "\n## Scope\nIt covers all laptops, all servers and all stored keys. Backups use encryption.\n"

	before, err := e.ValidateText(context.Background(), store, broken, "Cryptography Policy", "A.8.24")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	after, err := e.ValidateText(context.Background(), store, fixed, "Cryptography Policy", "A.8.24")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if len(after.Blocking()) >= len(before.Blocking()) {
		t.Errorf("blocking findings went from %d to %d", len(before.Blocking()), len(after.Blocking()))
	}
	if after.Verdict == VerdictFail {
		t.Errorf("fixed document still fails: %+v", after.Findings)
	}
}

func TestDeriveVerdict(t *testing.T) {
	blocking := Finding{Pass: PassStructural, Severity: rules.SeverityBlocking, Code: CodeSectionMissing}
	warning := Finding{Pass: PassReadability, Severity: rules.SeverityWarning, Code: CodeReadingEaseLow}

	tests := []struct {
		name     string
		findings []Finding
		want     Verdict
	}{
		{"no findings", nil, VerdictPass},
		{"one warning", []Finding{warning}, VerdictPassWithWarnings},
		{"several warnings", []Finding{warning, warning}, VerdictPassWithWarnings},
		{"one blocking", []Finding{blocking}, VerdictFail},
		{"blocking after warning", []Finding{warning, blocking}, VerdictFail},
		{"warning after blocking", []Finding{blocking, warning}, VerdictFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveVerdict(tt.findings); got != tt.want {
				t.Errorf("deriveVerdict() = %s, want %s", got, tt.want)
			}

			degraded := append(append([]Finding(nil), tt.findings...), blocking)
			if got := deriveVerdict(degraded); got != VerdictFail {
				t.Errorf("with an added blocking finding, deriveVerdict() = %s, want fail", got)
			}
		})
	}
}

func TestValidateDegradingFailingDocumentStillFails(t *testing.T) {
	store := buildStore(t)
	e := newTestEngine()

	docs := []string{
		cryptographyDoc,
		"## Purpose\nThis policy sets rules for protecting stored data and keys.\n",
		"## Purpose\n\n## Notes\nNothing.\n",
		"Nothing.",
	}

	prev := 0
	for i, doc := range docs {
		result, err := e.ValidateText(context.Background(), store, doc, "Cryptography Policy", "A.8.24")
		if err != nil {
			t.Fatalf("Validate(doc %d) error = %v", i, err)
		}
		if result.Verdict != VerdictFail {
			t.Errorf("doc %d verdict = %s, want fail; findings: %+v", i, result.Verdict, result.Findings)
		}
		if n := len(result.Blocking()); n < prev {
			t.Errorf("doc %d has %d blocking findings, fewer than the %d before it", i, n, prev)
		} else {
			prev = n
		}
	}
}

func TestValidateSubheadingDoesNotFillSection(t *testing.T) {
	store := buildStore(t)
	doc := strings.Replace(accessControlDoc, "## Roles\n", "## Roles\n### Administrators\n", 1)

	result, err := newTestEngine().ValidateText(context.Background(), store, doc, "Access Control Policy", "A.5.15")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Verdict != VerdictPassWithWarnings {
		t.Errorf("verdict = %s, want pass_with_warnings; findings: %+v", result.Verdict, result.Findings)
	}
	if len(result.Findings) != 1 || result.Findings[0].Code != CodeSectionTooShort || result.Findings[0].Subject != "Roles" {
		t.Errorf("findings = %+v, want one section_too_short for Roles", result.Findings)
	}
}

func TestValidateLooseListKeepsSectionContent(t *testing.T) {
	store := buildStore(t)
	doc := strings.Replace(accessControlDoc, "## Roles\n",
		"## Roles\n\n1. Security officer owns the access register\n\n2. System owners approve every access request\n", 1)

	result, err := newTestEngine().ValidateText(context.Background(), store, doc, "Access Control Policy", "A.5.15")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Verdict != VerdictPass || len(result.Findings) != 0 {
		t.Errorf("verdict = %s, findings = %+v; want pass with none", result.Verdict, result.Findings)
	}
}

func TestValidateRecordsMetrics(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "docguard"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	e := New(Options{Logger: zerolog.Nop(), Metrics: metrics, Tracer: telemetry.NewNopTracer()})
	store := buildStore(t)

	if _, err := e.ValidateText(context.Background(), store, cryptographyDoc, "Cryptography Policy", "A.8.24"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, err := e.ValidateText(context.Background(), store, cryptographyDoc, "Unknown"); err == nil {
		t.Fatal("expected configuration error")
	}

	count, err := testutil.GatherAndCount(metrics.Registry(), "docguard_validations_total", "docguard_configuration_errors_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("metric series = %d, want 2", count)
	}
}

func TestResultBySeverity(t *testing.T) {
	r := &ValidationResult{Findings: []Finding{
		{Pass: PassStructural, Severity: rules.SeverityWarning, Code: "a"},
		{Pass: PassControl, Severity: rules.SeverityBlocking, Code: "b"},
		{Pass: PassReadability, Severity: rules.SeverityWarning, Code: "c"},
		{Pass: PassRule, Severity: rules.SeverityBlocking, Code: "d"},
	}}

	var codes []string
	for _, f := range r.BySeverity() {
		codes = append(codes, f.Code)
	}
	if want := []string{"b", "d", "a", "c"}; !reflect.DeepEqual(codes, want) {
		t.Errorf("BySeverity() = %v, want %v", codes, want)
	}
	if r.Findings[0].Code != "a" {
		t.Error("BySeverity() must not reorder the result")
	}
}

func TestFormatChecklist(t *testing.T) {
	store := buildStore(t)
	e := newTestEngine()

	failed, err := e.ValidateText(context.Background(), store, cryptographyDoc, "Cryptography Policy", "A.8.24")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	out := failed.FormatChecklist()
	for _, want := range []string{
		"## Validation Failed",
		"Policy type: Cryptography Policy",
		"### Must Fix",
		"- [ ] [control] control A.8.24",
		"Control coverage: 0 of 1 claimed controls evidenced.",
		"regenerate",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("checklist missing %q:\n%s", want, out)
		}
	}

	warned, err := e.ValidateText(context.Background(), store, accessControlDoc, "Access Control Policy")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	out = warned.FormatChecklist()
	if !strings.Contains(out, "### Should Fix") || !strings.Contains(out, `(at "Roles")`) {
		t.Errorf("unexpected checklist:\n%s", out)
	}
	if strings.Contains(out, "regenerate") {
		t.Error("warnings-only checklist should not ask for regeneration")
	}

	passed := &ValidationResult{Verdict: VerdictPass}
	if passed.FormatChecklist() != "" {
		t.Error("passing result should render empty")
	}
}
