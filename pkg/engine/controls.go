package engine

import (
	"fmt"
	"strings"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// matchKeywords returns the keywords that occur in doc, in keyword order.
func matchKeywords(doc []token, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		if containsPhrase(doc, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// MatchControls checks that every claimed control is evidenced by at least
// one of its keywords anywhere in the document. A claimed control without a
// mapping yields a blocking configuration finding and is left out of the
// coverage statistics. With nothing to assess the ratio is 1.
func MatchControls(outline *Outline, claimed []string, mappings []rules.ControlMapping) ([]Finding, Coverage) {
	byID := make(map[string]rules.ControlMapping, len(mappings))
	for _, m := range mappings {
		byID[rules.NormalizeControlID(m.ControlID)] = m
	}

	var findings []Finding
	cov := Coverage{Controls: []ControlCoverage{}}
	seen := make(map[string]struct{}, len(claimed))

	for _, raw := range claimed {
		id := rules.NormalizeControlID(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		m, ok := byID[id]
		if !ok {
			findings = append(findings, Finding{
				Pass:     PassControl,
				Severity: rules.SeverityBlocking,
				Code:     CodeControlUnmapped,
				Message:  fmt.Sprintf("control %s has no keyword mapping", id),
				Subject:  id,
			})
			continue
		}

		matched := matchKeywords(outline.tokens, m.Keywords)
		entry := ControlCoverage{ControlID: id, Title: m.Title, Covered: len(matched) > 0, Matched: matched}
		cov.Controls = append(cov.Controls, entry)
		cov.Claimed++

		if entry.Covered {
			cov.Covered++
			continue
		}
		findings = append(findings, Finding{
			Pass:     PassControl,
			Severity: rules.SeverityBlocking,
			Code:     CodeControlUncovered,
			Message: fmt.Sprintf("control %s (%s) is not evidenced; searched for: %s",
				id, m.Title, quoteList(m.Keywords)),
			Subject: id,
		})
	}

	cov.Ratio = 1
	if cov.Claimed > 0 {
		cov.Ratio = round2(float64(cov.Covered) / float64(cov.Claimed))
	}
	return findings, cov
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}
