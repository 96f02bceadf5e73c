package rules

import (
	"errors"
	"reflect"
	"testing"
)

// testSpec returns a small access control spec.
func testSpec() PolicySpec {
	return PolicySpec{
		PolicyType: "Access Control Policy",
		Controls:   []string{"A.5.15", "A.5.16 - A.5.18"},
		RequiredSections: []RequiredSection{
			{Name: "Purpose"},
			{Name: "Scope", MinLength: 40},
			{Name: "Roles & Responsibilities", Aliases: []string{"Responsibilities"}},
		},
		Rules: []PolicyRule{
			{ID: "mfa", Severity: SeverityBlocking, Predicate: KeywordPresence{Keywords: []string{"multi-factor"}, Mode: MatchAny}},
		},
	}
}

func TestBuilderPutSpec(t *testing.T) {
	b := NewBuilder()
	if err := b.PutSpec(testSpec()); err != nil {
		t.Fatalf("PutSpec() error = %v", err)
	}

	snap := b.Build()
	spec, err := snap.GetSpec("access control policy")
	if err != nil {
		t.Fatalf("GetSpec() error = %v", err)
	}

	want := []string{"A.5.15", "A.5.16", "A.5.17", "A.5.18"}
	if !reflect.DeepEqual(spec.Controls, want) {
		t.Errorf("Controls = %v, want %v", spec.Controls, want)
	}
	if len(spec.RequiredSections) != 3 {
		t.Errorf("expected 3 sections, got %d", len(spec.RequiredSections))
	}
}

func TestBuilderPutSpecRejectsDuplicates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PolicySpec)
	}{
		{"empty policy type", func(s *PolicySpec) { s.PolicyType = " " }},
		{"duplicate section", func(s *PolicySpec) {
			s.RequiredSections = append(s.RequiredSections, RequiredSection{Name: "purpose"})
		}},
		{"alias collides with name", func(s *PolicySpec) {
			s.RequiredSections[0].Aliases = []string{"Scope"}
		}},
		{"empty section name", func(s *PolicySpec) {
			s.RequiredSections = append(s.RequiredSections, RequiredSection{Name: ""})
		}},
		{"duplicate rule id", func(s *PolicySpec) {
			s.Rules = append(s.Rules, s.Rules[0])
		}},
		{"nil predicate", func(s *PolicySpec) {
			s.Rules = append(s.Rules, PolicyRule{ID: "empty", Severity: SeverityWarning})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec()
			tt.mutate(&spec)
			if err := NewBuilder().PutSpec(spec); !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestBuilderUpsertLastWriteWins(t *testing.T) {
	b := NewBuilder()

	n, err := b.Upsert([]MappingRecord{
		{ControlID: "a.8.24", Title: "Use of cryptography", Keywords: []string{"encryption"}},
		{ControlID: "A.8.24", Title: "Use of cryptography", Keywords: []string{"cryptographic", "key management"}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}

	snap := b.Build()
	got, err := snap.GetMappings("Cryptography Policy", []string{"A.8.24"})
	if err != nil {
		t.Fatalf("GetMappings() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(got))
	}
	want := []string{"cryptographic", "key management"}
	if !reflect.DeepEqual(got[0].Keywords, want) {
		t.Errorf("Keywords = %v, want %v (replaced, not merged)", got[0].Keywords, want)
	}
}

func TestBuilderUpsertPerPolicyType(t *testing.T) {
	b := NewBuilder()
	_, err := b.Upsert([]MappingRecord{
		{ControlID: "A.5.15", Title: "Access control", Keywords: []string{"access"}},
		{ControlID: "A.5.15", Title: "Access control", Keywords: []string{"least privilege"}, PolicyTypes: []string{"Access Control Policy"}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	snap := b.Build()

	specific, err := snap.GetMappings("Access Control Policy", []string{"A.5.15"})
	if err != nil {
		t.Fatalf("GetMappings() error = %v", err)
	}
	if specific[0].Keywords[0] != "least privilege" {
		t.Errorf("policy-specific keywords = %v", specific[0].Keywords)
	}

	global, err := snap.GetMappings("Other Policy", []string{"A.5.15"})
	if err != nil {
		t.Fatalf("GetMappings() error = %v", err)
	}
	if global[0].Keywords[0] != "access" {
		t.Errorf("global keywords = %v", global[0].Keywords)
	}
}

func TestBuilderUpsertRejectsEmptyKeywords(t *testing.T) {
	b := NewBuilder()
	_, err := b.Upsert([]MappingRecord{
		{ControlID: "A.5.1", Keywords: []string{"policy"}},
		{ControlID: "A.5.2", Keywords: []string{"  "}},
	})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
	if len(b.Build().Mappings()) != 0 {
		t.Error("rejected batch must not be partially applied")
	}
}

func TestBuilderSnapshotsAreIsolated(t *testing.T) {
	b := NewBuilder()
	if err := b.PutSpec(testSpec()); err != nil {
		t.Fatalf("PutSpec() error = %v", err)
	}
	first := b.Build()

	spec := testSpec()
	spec.RequiredSections = spec.RequiredSections[:1]
	if err := b.PutSpec(spec); err != nil {
		t.Fatalf("PutSpec() error = %v", err)
	}
	second := b.Build()

	a, _ := first.GetSpec(spec.PolicyType)
	c, _ := second.GetSpec(spec.PolicyType)
	if len(a.RequiredSections) != 3 || len(c.RequiredSections) != 1 {
		t.Errorf("sections: first=%d second=%d", len(a.RequiredSections), len(c.RequiredSections))
	}

	// Mutating a returned spec does not leak into the snapshot.
	a.RequiredSections[0].Name = "changed"
	again, _ := first.GetSpec(spec.PolicyType)
	if again.RequiredSections[0].Name != "Purpose" {
		t.Error("snapshot was mutated through a returned spec")
	}
}

func TestNewBuilderFrom(t *testing.T) {
	b := NewBuilder()
	if err := b.PutSpec(testSpec()); err != nil {
		t.Fatalf("PutSpec() error = %v", err)
	}
	if err := b.SetGlobalThresholds(ReadabilityThresholds{MinWords: 20}); err != nil {
		t.Fatalf("SetGlobalThresholds() error = %v", err)
	}
	base := b.Build()

	next := NewBuilderFrom(base)
	if !next.RemoveSpec("Access Control Policy") {
		t.Fatal("RemoveSpec() = false, want true")
	}
	derived := next.Build()

	if _, err := base.GetSpec("Access Control Policy"); err != nil {
		t.Errorf("base snapshot lost its spec: %v", err)
	}
	if _, err := derived.GetSpec("Access Control Policy"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if g, ok := derived.GlobalThresholds(); !ok || g.MinWords != 20 {
		t.Errorf("global thresholds not carried over: %+v %v", g, ok)
	}
}
