package engine

import (
	"fmt"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// CheckStructure reports each required section that is missing (blocking)
// or present with a body shorter than its minimum length (warning).
// Findings follow the declared section order; document order is not checked.
func CheckStructure(outline *Outline, sections []rules.RequiredSection) []Finding {
	var findings []Finding
	for _, req := range sections {
		sec, ok := outline.Find(req.Names(), req.MinLength)
		if !ok {
			findings = append(findings, Finding{
				Pass:     PassStructural,
				Severity: rules.SeverityBlocking,
				Code:     CodeSectionMissing,
				Message:  fmt.Sprintf("required section %q is missing", req.Name),
				Subject:  req.Name,
			})
			continue
		}
		if sec.satisfies(req.MinLength) {
			continue
		}

		msg := fmt.Sprintf("section %q is empty", req.Name)
		if req.MinLength > 0 {
			msg = fmt.Sprintf("section %q is too short (%d of %d characters)", req.Name, sec.Length(), req.MinLength)
		}
		findings = append(findings, Finding{
			Pass:     PassStructural,
			Severity: rules.SeverityWarning,
			Code:     CodeSectionTooShort,
			Message:  msg,
			Location: &Location{Section: sec.Title, Offset: sec.Offset},
			Subject:  req.Name,
		})
	}
	return findings
}
