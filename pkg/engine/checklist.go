package engine

import (
	"fmt"
	"strings"
)

// FormatChecklist renders the findings as a markdown checklist, blocking
// items first, suitable for display or for a regeneration prompt. A passing
// result renders as an empty string.
func (r *ValidationResult) FormatChecklist() string {
	if r.Verdict == VerdictPass {
		return ""
	}

	var sb strings.Builder
	if r.Verdict == VerdictFail {
		sb.WriteString("## Validation Failed\n\n")
	} else {
		sb.WriteString("## Validation Passed With Warnings\n\n")
	}
	sb.WriteString(fmt.Sprintf("Policy type: %s\n\n", r.PolicyType))

	if blocking := r.Blocking(); len(blocking) > 0 {
		sb.WriteString("### Must Fix\n\n")
		writeChecklist(&sb, blocking)
	}
	if warnings := r.Warnings(); len(warnings) > 0 {
		sb.WriteString("### Should Fix\n\n")
		writeChecklist(&sb, warnings)
	}

	if r.Scores.Assessed {
		sb.WriteString(fmt.Sprintf("Readability: reading ease %.2f, %.2f words per sentence, %.2f letters per word.\n",
			r.Scores.ReadingEase, r.Scores.AvgSentenceLength, r.Scores.AvgWordLength))
	}
	if r.Coverage.Claimed > 0 {
		sb.WriteString(fmt.Sprintf("Control coverage: %d of %d claimed controls evidenced.\n",
			r.Coverage.Covered, r.Coverage.Claimed))
	}

	if r.Verdict == VerdictFail {
		sb.WriteString("\nPlease regenerate the document addressing these issues.\n")
	}
	return sb.String()
}

func writeChecklist(sb *strings.Builder, findings []Finding) {
	for _, f := range findings {
		sb.WriteString(fmt.Sprintf("- [ ] [%s] %s", f.Pass, f.Message))
		if f.Location != nil && f.Location.Section != "" {
			sb.WriteString(fmt.Sprintf(" (at %q)", f.Location.Section))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
