// Package policy provides the acceptance gate, built on Open Policy Agent.
//
// A validation result says what is wrong with a generated document. The gate
// decides whether the document may still be accepted into the ISMS document
// set. Each policy is a Rego module with a "deny" set; every element is either
// a message string or an object with "message" and "severity" keys. A
// violation with error severity rejects the document. The gate never changes
// the result's verdict.
//
// # Input
//
// Policies see the canonical result encoding and a few derived values:
//
//	input.policy_type      the validated policy type
//	input.result           the result: verdict, findings, scores, coverage
//	input.counts           {findings, blocking, warnings}
//	input.max_warnings     the warning budget, or null
//	input.metadata         caller supplied values
//
// # Built-in policies
//
//  1. verdict-not-fail - a fail verdict is never accepted
//  2. warning-budget - more warnings than max_warnings is rejected
//  3. readability-assessable - a result without readability scores is rejected
//
// # Custom policies
//
// Extra policies load from .rego files or JSON policy definitions:
//
//	package docguard.gate.coverage
//
//	import rego.v1
//
//	deny contains msg if {
//		input.result.coverage.ratio < 1
//		msg := "every claimed control must be evidenced"
//	}
//
// Policies loaded from files default to error severity; header comments such
// as "# severity: warning", "# tags: budget" or "# disabled" override that.
// Paths may be files, directories or doublestar globs. Gate.Watch reloads
// them when the files change; a reload that fails to compile keeps the
// previous set.
//
// # Usage
//
//	gate, err := policy.NewGate(policy.GateOptions{Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	decision, err := gate.Evaluate(ctx, result, policy.Options{MaxWarnings: &budget})
package policy
