package engine_test

import (
	"context"
	"fmt"

	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/rules"
)

func Example() {
	b := rules.NewBuilder()
	_ = b.PutSpec(rules.PolicySpec{
		PolicyType: "Cryptography Policy",
		RequiredSections: []rules.RequiredSection{
			{Name: "Purpose"},
			{Name: "Scope"},
		},
		Readability: &rules.ReadabilityThresholds{MinWords: 5},
	})
	_, _ = b.Upsert([]rules.MappingRecord{
		{ControlID: "A.8.24", Title: "Use of cryptography", Keywords: []string{"encryption", "cryptographic"}},
	})
	store := b.Build()

	doc := "## Purpose\nThis policy sets rules for encryption of stored data.\n\n" +
		"## Scope\nIt covers all company laptops and servers.\n"

	result, err := engine.New(engine.Options{}).ValidateText(context.Background(), store, doc, "Cryptography Policy", "A.8.24")
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(result.Verdict)
	fmt.Println(result.Coverage.Controls[0].ControlID, result.Coverage.Controls[0].Matched)
	// Output:
	// pass
	// A.8.24 [encryption]
}

func ExampleValidationResult_FormatChecklist() {
	b := rules.NewBuilder()
	_ = b.PutSpec(rules.PolicySpec{
		PolicyType:       "Backup Policy",
		RequiredSections: []rules.RequiredSection{{Name: "Purpose"}, {Name: "Schedule"}},
		Readability:      &rules.ReadabilityThresholds{},
	})

	doc := "## Purpose\nThis policy keeps copies of every system so that data can be restored.\n"
	result, _ := engine.New(engine.Options{}).ValidateText(context.Background(), b.Build(), doc, "Backup Policy")

	fmt.Print(result.FormatChecklist())
	// Output:
	// ## Validation Failed
	//
	// Policy type: Backup Policy
	//
	// ### Must Fix
	//
	// - [ ] [structural] required section "Schedule" is missing
	//
	// Readability: reading ease 50.47, 13.00 words per sentence, 4.38 letters per word.
	//
	// Please regenerate the document addressing these issues.
}
