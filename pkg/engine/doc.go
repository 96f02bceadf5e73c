// Package engine is the docguard validation engine. It checks a generated
// ISO/IEC 27001 policy document against the declarative rules of its policy
// type and returns a deterministic, explainable verdict.
//
// # Passes
//
// A validation parses the document outline once and runs four independent
// passes over it:
//
//   - Structural: every required section is present and long enough.
//   - Control: every claimed Annex A control is evidenced by its keywords.
//   - Rule: the policy type's predicate rules, in declared order.
//   - Readability: Flesch reading ease and average sentence and word length.
//
// Findings are merged in that order. The verdict is fail if any finding is
// blocking, pass_with_warnings if any is a warning, pass otherwise.
//
// # Errors
//
// Configuration problems (unknown policy type, claimed control without a
// mapping, unsupported rule) abort the validation with an *Error of class
// configuration; no result is produced. Document problems, including an
// empty document, are findings.
//
// # Usage
//
//	eng := engine.New(engine.Options{Logger: logger})
//	result, err := eng.Validate(ctx, snapshot, engine.CandidateDocument{
//	    Text:            text,
//	    PolicyType:      "Access Control Policy",
//	    ClaimedControls: []string{"A.5.15", "A.8.5"},
//	})
//	if engine.IsConfiguration(err) {
//	    // fix the rule data, not the document
//	}
//	data, _ := result.Canonical()
package engine
