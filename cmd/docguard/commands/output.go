package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/amoebalabs/docguard/pkg/engine"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printValidation writes the human-readable report for one document.
func printValidation(w io.Writer, v *validation) {
	r := v.Result
	fmt.Fprintf(w, "%s: %s %s (%d blocking, %d warnings)\n",
		v.Source, r.PolicyType, r.Verdict, len(r.Blocking()), len(r.Warnings()))

	if checklist := r.FormatChecklist(); checklist != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, checklist)
	}

	if d := v.Decision; d != nil {
		status := "accepted"
		if !d.Accepted {
			status = "rejected"
		}
		fmt.Fprintf(w, "\nAcceptance gate: %s (%d policies evaluated)\n", status, len(d.EvaluatedPolicies))
		for _, viol := range d.Violations {
			fmt.Fprintf(w, "  - [%s] %s: %s\n", viol.Severity, viol.Policy, viol.Message)
		}
	}

	if v.ResultID != "" {
		fmt.Fprintf(w, "\nSaved as %s\n", v.ResultID)
	}
}

// printResult writes a stored or fresh result without document context.
func printResult(w io.Writer, r *engine.ValidationResult) {
	fmt.Fprintf(w, "%s: %s (%d blocking, %d warnings)\n",
		r.PolicyType, r.Verdict, len(r.Blocking()), len(r.Warnings()))
	if checklist := r.FormatChecklist(); checklist != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, checklist)
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
