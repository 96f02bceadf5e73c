package policy

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate(GateOptions{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	return g
}

func warningFinding(code string) engine.Finding {
	return engine.Finding{Pass: engine.PassReadability, Severity: rules.SeverityWarning, Code: code, Message: code}
}

func blockingFinding(code string) engine.Finding {
	return engine.Finding{Pass: engine.PassStructural, Severity: rules.SeverityBlocking, Code: code, Message: code}
}

func assessed(verdict engine.Verdict, findings ...engine.Finding) *engine.ValidationResult {
	return &engine.ValidationResult{
		PolicyType: "Cryptography Policy",
		Verdict:    verdict,
		Findings:   findings,
		Scores:     engine.Scores{Words: 120, Sentences: 8, Assessed: true},
	}
}

func intPtr(v int) *int { return &v }

func TestNewGate(t *testing.T) {
	g := newTestGate(t)

	var names []string
	for _, p := range g.ListPolicies() {
		names = append(names, p.Name)
	}
	want := []string{PolicyReadabilityAssessable, PolicyVerdictNotFail, PolicyWarningBudget}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ListPolicies() = %v, want %v", names, want)
	}
}

func TestGate_Evaluate(t *testing.T) {
	g := newTestGate(t)

	tests := []struct {
		name           string
		result         *engine.ValidationResult
		opts           Options
		expectAccepted bool
		expectPolicies []string
	}{
		{
			name:           "clean pass",
			result:         assessed(engine.VerdictPass),
			expectAccepted: true,
		},
		{
			name:           "warnings without budget",
			result:         assessed(engine.VerdictPassWithWarnings, warningFinding("a"), warningFinding("b")),
			expectAccepted: true,
		},
		{
			name:           "warnings within budget",
			result:         assessed(engine.VerdictPassWithWarnings, warningFinding("a"), warningFinding("b")),
			opts:           Options{MaxWarnings: intPtr(2)},
			expectAccepted: true,
		},
		{
			name:           "warnings over budget",
			result:         assessed(engine.VerdictPassWithWarnings, warningFinding("a"), warningFinding("b")),
			opts:           Options{MaxWarnings: intPtr(1)},
			expectPolicies: []string{PolicyWarningBudget},
		},
		{
			name:           "zero budget",
			result:         assessed(engine.VerdictPassWithWarnings, warningFinding("a")),
			opts:           Options{MaxWarnings: intPtr(0)},
			expectPolicies: []string{PolicyWarningBudget},
		},
		{
			name:           "fail verdict",
			result:         assessed(engine.VerdictFail, blockingFinding("section_missing")),
			expectPolicies: []string{PolicyVerdictNotFail},
		},
		{
			name: "too short to assess",
			result: &engine.ValidationResult{
				PolicyType: "Cryptography Policy",
				Verdict:    engine.VerdictFail,
				Findings:   []engine.Finding{blockingFinding(engine.CodeTooShortToAssess)},
			},
			expectPolicies: []string{PolicyReadabilityAssessable, PolicyVerdictNotFail},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := g.Evaluate(context.Background(), tt.result, tt.opts)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if decision.Accepted != tt.expectAccepted {
				t.Errorf("Accepted = %v, want %v (violations %+v)", decision.Accepted, tt.expectAccepted, decision.Violations)
			}

			var policies []string
			for _, v := range decision.Violations {
				policies = append(policies, v.Policy)
				if v.Message == "" || v.Severity != SeverityError {
					t.Errorf("unexpected violation %+v", v)
				}
			}
			if !reflect.DeepEqual(policies, tt.expectPolicies) {
				t.Errorf("violating policies = %v, want %v", policies, tt.expectPolicies)
			}
			if len(decision.EvaluatedPolicies) != 3 {
				t.Errorf("EvaluatedPolicies = %v", decision.EvaluatedPolicies)
			}
		})
	}
}

func TestGate_EvaluateLeavesVerdict(t *testing.T) {
	g := newTestGate(t)
	result := assessed(engine.VerdictPassWithWarnings, warningFinding("a"), warningFinding("b"))
	before, _ := result.Canonical()

	decision, err := g.Evaluate(context.Background(), result, Options{MaxWarnings: intPtr(0)})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Accepted {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(decision.Violations[0].Message, "2 warnings exceed the budget of 0") {
		t.Errorf("message = %q", decision.Violations[0].Message)
	}

	after, _ := result.Canonical()
	if string(before) != string(after) {
		t.Error("gate modified the validation result")
	}

	if _, err := g.Evaluate(context.Background(), nil, Options{}); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestGate_CustomPolicies(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	err := g.AddPolicy(ctx, Policy{
		Name:     "advisory",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego: `package docguard.gate.advisory

import rego.v1

deny contains "coverage below 100%" if {
	input.result.coverage.ratio < 1
}

deny contains {"message": input.metadata.reason, "severity": "error"} if {
	input.metadata.reason
}
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	result := assessed(engine.VerdictPass)
	result.Coverage = engine.Coverage{Claimed: 2, Covered: 1, Ratio: 0.5}

	decision, err := g.Evaluate(ctx, result, Options{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !decision.Accepted || len(decision.Violations) != 1 || decision.Violations[0].Severity != SeverityWarning {
		t.Errorf("decision = %+v", decision)
	}

	decision, err = g.Evaluate(ctx, result, Options{Metadata: map[string]interface{}{"reason": "manual hold"}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Accepted || len(decision.Rejections()) != 1 || decision.Rejections()[0].Message != "manual hold" {
		t.Errorf("decision = %+v", decision)
	}

	if err := g.AddPolicy(ctx, Policy{Name: "broken", Rego: "package x\ndeny contains"}); err == nil {
		t.Error("expected compile error")
	}
	if err := g.AddPolicy(ctx, Policy{Rego: "package x\n"}); err == nil {
		t.Error("expected error for unnamed policy")
	}
}

func TestGate_EnableDisable(t *testing.T) {
	g := newTestGate(t)

	if err := g.DisablePolicy(PolicyVerdictNotFail); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	decision, err := g.Evaluate(context.Background(), assessed(engine.VerdictFail, blockingFinding("x")), Options{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !decision.Accepted || len(decision.EvaluatedPolicies) != 2 {
		t.Errorf("decision = %+v", decision)
	}

	if err := g.EnablePolicy(PolicyVerdictNotFail); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	p, err := g.GetPolicy(PolicyVerdictNotFail)
	if err != nil || !p.Enabled {
		t.Errorf("GetPolicy() = %+v, %v", p, err)
	}

	if err := g.DisablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestGate_LoadPoliciesKeepsBuiltins(t *testing.T) {
	g := newTestGate(t)
	dir := t.TempDir()
	writePolicyFile(t, dir, "max-findings.rego", sectionCountRego)

	if err := g.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if got := len(g.ListPolicies()); got != 4 {
		t.Errorf("expected 4 policies, got %d", got)
	}

	writePolicyFile(t, dir, "broken.rego", "package broken\ndeny contains")
	if err := g.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Fatal("expected compile error")
	}
	if got := len(g.ListPolicies()); got != 4 {
		t.Errorf("failed load changed the policy set: %d policies", got)
	}
}

func TestGate_Watch(t *testing.T) {
	g := newTestGate(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader, err := g.Watch(ctx, []string{dir})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer loader.StopWatching()

	writePolicyFile(t, dir, "max-findings.rego", sectionCountRego)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := g.GetPolicy("max-findings"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("policy was not loaded after the file appeared")
}

func TestGate_Telemetry(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "docguard"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	var rejected []telemetry.Event
	events.Subscribe(func(e telemetry.Event) { rejected = append(rejected, e) }, telemetry.FilterByType(telemetry.EventTypeGateRejected))

	g, err := NewGate(GateOptions{Logger: zerolog.Nop(), Metrics: metrics, Events: events})
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	ctx := context.Background()
	if _, err := g.Evaluate(ctx, assessed(engine.VerdictPass), Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Evaluate(ctx, assessed(engine.VerdictFail, blockingFinding("x")), Options{ResultID: "r-1"}); err != nil {
		t.Fatal(err)
	}

	if len(rejected) != 1 || rejected[0].ResultID != "r-1" {
		t.Errorf("rejection events = %+v", rejected)
	}
	if n, err := testutil.GatherAndCount(metrics.Registry(), "docguard_acceptance_decisions_total"); err != nil || n != 2 {
		t.Errorf("decision series = %d, %v; want 2", n, err)
	}
}
