package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sectionCountRego = `package docguard.gate.custom

import rego.v1

# Documents must not carry more than five findings.
# Applies to every policy type.

deny contains msg if {
	input.counts.findings > 5
	msg := sprintf("%d findings", [input.counts.findings])
}
`

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := writePolicyFile(t, t.TempDir(), "max-findings.rego", sectionCountRego)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "max-findings" {
		t.Errorf("Expected name 'max-findings', got '%s'", policy.Name)
	}
	if policy.Rego != sectionCountRego {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Documents must not carry more than five findings. Applies to every policy type." {
		t.Errorf("Description = %q", policy.Description)
	}
	if !policy.Enabled || policy.Severity != SeverityError {
		t.Errorf("Expected enabled error policy, got %+v", policy)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		policy  interface{}
		wantErr bool
		want    Severity
	}{
		{
			name:   "explicit severity",
			policy: Policy{Name: "soft", Rego: sectionCountRego, Severity: SeverityWarning, Enabled: true},
			want:   SeverityWarning,
		},
		{
			name:   "default severity",
			policy: Policy{Name: "hard", Rego: sectionCountRego, Enabled: true},
			want:   SeverityError,
		},
		{
			name:    "missing rego",
			policy:  Policy{Name: "empty"},
			wantErr: true,
		},
		{
			name:    "missing name",
			policy:  map[string]string{"rego": sectionCountRego},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.policy)
			if err != nil {
				t.Fatalf("Failed to marshal policy: %v", err)
			}
			path := writePolicyFile(t, tmpDir, filepath.Join(tt.name, "p.json"), string(data))

			loaded, err := loader.loadFromFile(context.Background(), path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to load policy: %v", err)
			}
			if loaded.Severity != tt.want {
				t.Errorf("Expected severity '%s', got '%s'", tt.want, loaded.Severity)
			}
		})
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	writePolicyFile(t, tmpDir, "a.rego", sectionCountRego)
	writePolicyFile(t, tmpDir, "nested/b.rego", sectionCountRego)
	writePolicyFile(t, tmpDir, "nested/deeper/c.json", `{"name": "c", "rego": "package c\n"}`)
	writePolicyFile(t, tmpDir, "notes.txt", "ignored")
	writePolicyFile(t, tmpDir, "broken.json", "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("Loaded policies = %v", names)
	}
}

func TestLoadFromPaths_Errors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()
	unsupported := writePolicyFile(t, tmpDir, "policy.yaml", "name: x")

	tests := []struct {
		name  string
		paths []string
	}{
		{"non-existent path", []string{filepath.Join(tmpDir, "missing")}},
		{"unsupported file", []string{unsupported}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loader.LoadFromPaths(context.Background(), tt.paths); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseRegoFile_Annotations(t *testing.T) {
	tests := []struct {
		name     string
		rego     string
		wantErr  bool
		severity Severity
		tags     []string
		enabled  bool
		desc     string
	}{
		{
			name:     "defaults",
			rego:     sectionCountRego,
			severity: SeverityError,
			enabled:  true,
			desc:     "Documents must not carry more than five findings. Applies to every policy type.",
		},
		{
			name:     "annotated",
			rego:     "# Flags long documents.\n# severity: Warning\n# tags: budget, length\n# disabled\npackage x\n",
			severity: SeverityWarning,
			tags:     []string{"budget", "length"},
			desc:     "Flags long documents.",
		},
		{
			name:    "unknown severity",
			rego:    "# severity: critical\npackage x\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseRegoFile("gates/p.rego", []byte(tt.rego))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRegoFile() error = %v", err)
			}
			if p.Name != "p" || p.Severity != tt.severity || p.Enabled != tt.enabled || p.Description != tt.desc {
				t.Errorf("policy = %+v", p)
			}
			if len(p.Tags) != len(tt.tags) {
				t.Fatalf("tags = %v, want %v", p.Tags, tt.tags)
			}
			for i := range tt.tags {
				if p.Tags[i] != tt.tags[i] {
					t.Errorf("tags = %v, want %v", p.Tags, tt.tags)
				}
			}
		})
	}
}

func TestLoadFromPaths_Glob(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	writePolicyFile(t, tmpDir, "gates/a.rego", sectionCountRego)
	writePolicyFile(t, tmpDir, "gates/nested/b.rego", sectionCountRego)
	writePolicyFile(t, tmpDir, "gates/nested/c.json", `{"name": "c", "rego": "package c\n"}`)

	policies, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(tmpDir, "gates", "**", "*.rego")})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 || policies[0].Name != "a" || policies[1].Name != "b" {
		t.Errorf("policies = %+v", policies)
	}
}

func TestLoadFromFile_ReloadsChangedFile(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := writePolicyFile(t, t.TempDir(), "budget.rego", sectionCountRego)
	ctx := context.Background()

	first, err := loader.loadFromFile(ctx, path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if first.Metadata["source"] != path {
		t.Errorf("source = %v", first.Metadata["source"])
	}

	updated := "# severity: warning\n" + sectionCountRego
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	second, err := loader.loadFromFile(ctx, path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if second.Severity != SeverityWarning || second.Rego != updated {
		t.Errorf("changed file not reloaded: %+v", second)
	}
}
