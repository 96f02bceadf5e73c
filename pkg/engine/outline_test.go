package engine

import (
	"testing"
)

func sectionTitles(o *Outline) []string {
	var titles []string
	for _, s := range o.Sections() {
		titles = append(titles, s.Title)
	}
	return titles
}

func TestParseOutlineHeadingForms(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		titles []string
		levels []int
	}{
		{
			name:   "atx",
			text:   "# Policy\n\n## Purpose\nText.\n\n### Detail ##\nMore.",
			titles: []string{"Policy", "Purpose", "Detail"},
			levels: []int{1, 2, 3},
		},
		{
			name:   "setext",
			text:   "Purpose\n=======\nText here.\n\nScope\n-----\nMore text.",
			titles: []string{"Purpose", "Scope"},
			levels: []int{1, 2},
		},
		{
			name:   "bold",
			text:   "**Purpose**\nText.\n\n__Scope:__\nMore.",
			titles: []string{"Purpose", "Scope"},
			levels: []int{levelBold, levelBold},
		},
		{
			name:   "label",
			text:   "Purpose:\nText.\n\nReview Cycle:\nAnnually.",
			titles: []string{"Purpose", "Review Cycle"},
			levels: []int{levelLabel, levelLabel},
		},
		{
			name:   "numbered",
			text:   "1. Purpose\nText.\n\n2.1 Scope\nMore.",
			titles: []string{"Purpose", "Scope"},
			levels: []int{1, 2},
		},
		{
			name:   "numbered list is not a heading",
			text:   "Steps:\n\n1. Review access\n2. Remove leavers",
			titles: []string{"Steps"},
			levels: []int{levelLabel},
		},
		{
			name:   "loose numbered list is not a heading",
			text:   "Responsibilities:\n\nOwners are named below.\n\n1. Security officer owns the register\n\n2. System owners approve requests\n\n3. Managers confirm leavers",
			titles: []string{"Responsibilities"},
			levels: []int{levelLabel},
		},
		{
			name:   "numbered lines under a markdown heading are list items",
			text:   "## Roles\n\n1. Security Officer\nOwns the register.\n\n## Review\nYearly.",
			titles: []string{"Roles", "Review"},
			levels: []int{2, 2},
		},
		{
			name:   "numbered headings with bodies",
			text:   "1. Purpose\nText.\n\n2. Scope\nMore.\n\n3. Review\nYearly.",
			titles: []string{"Purpose", "Scope", "Review"},
			levels: []int{1, 1, 1},
		},
		{
			name:   "label introducing a list is not a heading",
			text:   "All employees must:\n- lock screens\n- report incidents",
			titles: nil,
			levels: nil,
		},
		{
			name:   "long label is not a heading",
			text:   "The following rules apply to contractors:\n\nThey sign the agreement.",
			titles: nil,
			levels: nil,
		},
		{
			name:   "sentence is not a heading",
			text:   "1. users must log in.\n\n2. Passwords are rotated.",
			titles: nil,
			levels: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := ParseOutline(tt.text)
			secs := o.Sections()
			if len(secs) != len(tt.titles) {
				t.Fatalf("sections = %v, want %v", sectionTitles(o), tt.titles)
			}
			for i, s := range secs {
				if s.Title != tt.titles[i] {
					t.Errorf("section %d title = %q, want %q", i, s.Title, tt.titles[i])
				}
				if s.Level != tt.levels[i] {
					t.Errorf("section %q level = %d, want %d", s.Title, s.Level, tt.levels[i])
				}
			}
		})
	}
}

func TestParseOutlineBodies(t *testing.T) {
	text := "# Information Security Policy\n\n" +
		"## Purpose\nThis policy sets direction.\n\n" +
		"## Scope\nApplies to all staff.\n\n" +
		"### Exclusions\nContractors are out of scope.\n\n" +
		"## Roles\n"

	o := ParseOutline(text)

	scope, ok := o.Find([]string{"scope"}, 0)
	if !ok {
		t.Fatal("expected Scope section")
	}
	if scope.Body != "Applies to all staff." {
		t.Errorf("Scope body = %q, want its own text only", scope.Body)
	}
	if got := scope.WordCount(); got != 9 {
		t.Errorf("Scope WordCount() = %d, want 9 with the subsection", got)
	}
	if !containsPhrase(scope.tokens, "contractors") {
		t.Error("Scope should search its subsections")
	}

	roles, ok := o.Find([]string{"Roles"}, 0)
	if !ok {
		t.Fatal("expected Roles section")
	}
	if roles.Body != "" || roles.satisfies(0) {
		t.Errorf("Roles body = %q, want empty", roles.Body)
	}

	policy, _ := o.Find([]string{"Information Security Policy"}, 0)
	if policy.Body != "" {
		t.Errorf("top-level body = %q, want empty", policy.Body)
	}
	if policy.WordCount() != o.WordCount() || o.WordCount() != 13 {
		t.Errorf("top-level WordCount() = %d, document = %d, want 13", policy.WordCount(), o.WordCount())
	}
}

func TestParseOutlineSubheadingOnlyBody(t *testing.T) {
	o := ParseOutline("## Roles\n### Administrators\n\n## Review\nYearly.")

	roles, ok := o.Find([]string{"Roles"}, 0)
	if !ok {
		t.Fatal("expected Roles section")
	}
	if roles.Body != "" || roles.satisfies(0) {
		t.Errorf("Roles body = %q, want empty", roles.Body)
	}
	if roles.WordCount() != 0 {
		t.Errorf("Roles WordCount() = %d, headings should not count", roles.WordCount())
	}
}

func TestParseOutlineLooseListKeepsSection(t *testing.T) {
	text := "## Roles\n\n1. Security officer owns the access register\n\n" +
		"2. System owners approve every access request\n\n## Review\nThe policy is reviewed yearly."
	o := ParseOutline(text)

	if titles := sectionTitles(o); len(titles) != 2 {
		t.Fatalf("sections = %v, want [Roles Review]", titles)
	}
	roles, _ := o.Find([]string{"Roles"}, 0)
	want := "1. Security officer owns the access register\n\n2. System owners approve every access request"
	if roles.Body != want {
		t.Errorf("Roles body = %q, want %q", roles.Body, want)
	}
	if got := o.WordCount(); got != 17 {
		t.Errorf("WordCount() = %d, want 17 with the list items", got)
	}
}

func TestParseOutlineIgnoresFencedCode(t *testing.T) {
	text := "## Purpose\nReal text.\n\n```\n# not a heading\nsecret words\n```\n"
	o := ParseOutline(text)

	if titles := sectionTitles(o); len(titles) != 1 || titles[0] != "Purpose" {
		t.Fatalf("sections = %v, want [Purpose]", titles)
	}
	sec, _ := o.Find([]string{"Purpose"}, 0)
	if sec.Body != "Real text." {
		t.Errorf("body = %q", sec.Body)
	}
	if !containsPhrase(o.tokens, "secret") {
		t.Error("fenced code should be searchable in the full text")
	}
	if containsPhrase(sec.tokens, "secret") {
		t.Error("fenced code should not belong to a section")
	}
	if o.WordCount() != 2 {
		t.Errorf("WordCount() = %d, want 2 prose words", o.WordCount())
	}
}

func TestParseOutlineWordCount(t *testing.T) {
	text := "# Title\n\nOne two three.\n\n- four five\n```\nsix seven\n```\n"
	if got := ParseOutline(text).WordCount(); got != 5 {
		t.Errorf("WordCount() = %d, want 5", got)
	}
}

func TestParseOutlineOffsets(t *testing.T) {
	o := ParseOutline("# Sécurité\n\n## Purpose\nText.")
	sec, ok := o.Find([]string{"Purpose"}, 0)
	if !ok {
		t.Fatal("expected Purpose")
	}
	if sec.Offset != 12 {
		t.Errorf("Offset = %d, want 12", sec.Offset)
	}
}

func TestParseOutlineCRLF(t *testing.T) {
	o := ParseOutline("## Purpose\r\nText\r\n")
	sec, ok := o.Find([]string{"Purpose"}, 0)
	if !ok || sec.Body != "Text" {
		t.Errorf("Find() = %q, %v", sec.Body, ok)
	}
}

func TestOutlineFindPrefersSatisfyingMatch(t *testing.T) {
	o := ParseOutline("## Scope\n\n## Scope\nApplies to every system operated by the company.")

	sec, ok := o.Find([]string{"Scope"}, 10)
	if !ok || sec.Body == "" {
		t.Errorf("expected the populated Scope, got %q", sec.Body)
	}

	sec, ok = o.Find([]string{"Scope"}, 200)
	if !ok || sec.Body != "" {
		t.Errorf("expected the first Scope when none satisfies, got %q", sec.Body)
	}

	if _, ok := o.Find([]string{"Missing"}, 0); ok {
		t.Error("expected no match")
	}
}

func TestOutlineFindMatchesAliases(t *testing.T) {
	o := ParseOutline("## Responsibilities\nOwners approve access.")
	if _, ok := o.Find([]string{"Roles & Responsibilities", "responsibilities"}, 0); !ok {
		t.Error("expected alias to match")
	}
}
