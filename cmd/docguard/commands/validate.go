package commands

import (
	"github.com/spf13/cobra"

	"github.com/amoebalabs/docguard/pkg/document"
	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/policy"
)

func newValidateCommand(g *globalOptions) *cobra.Command {
	var (
		policyType   string
		controls     []string
		gate         bool
		maxWarnings  int
		gatePolicies []string
		skipPolicies []string
		save         bool
		sequential   bool
	)

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a generated policy document",
		Long: `Validate a generated policy document against the rule data.

The document is read as markdown, or converted from HTML when it looks like
HTML. Use "-" to read from stdin. When --policy-type is omitted the document
title is matched against the known policy types; when --controls is omitted
the policy type's default controls are claimed.

With --gate (implied by --max-warnings, --gate-policies and
--skip-gate-policy) the result is
passed through the acceptance gate, which may reject a document whose
verdict is not fail.`,
		Example: `  # Validate against rule files
  docguard validate --rules ./rules access-control.md

  # Claim specific controls and fail on more than two warnings
  docguard validate -r ./rules --policy-type "Cryptography Policy" \
    --controls A.8.24 --max-warnings 2 crypto.md

  # Validate against stored rules and keep the result
  docguard validate --store docguard.db --save --json policy.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := g.newServices(ctx, serviceOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.snapshot(ctx)
			if err != nil {
				return err
			}

			reader := document.NewReader()
			var doc *document.Document
			if args[0] == "-" {
				doc, err = reader.ReadFrom("stdin", cmd.InOrStdin())
			} else {
				doc, err = reader.ReadFile(args[0])
			}
			if err != nil {
				return engine.NewInputError("failed to read document", err)
			}

			req := validateRequest{
				PolicyType: policyType,
				Controls:   controls,
				Save:       save,
			}

			gate = gate || len(gatePolicies) > 0 || len(skipPolicies) > 0 || cmd.Flags().Changed("max-warnings")
			if gate {
				if req.Gate, err = svc.newGate(ctx, gatePolicies, skipPolicies); err != nil {
					return err
				}
				if cmd.Flags().Changed("max-warnings") {
					req.GateOptions = policy.Options{MaxWarnings: &maxWarnings}
				}
			}

			v, err := svc.validate(ctx, svc.newEngine(sequential), snap, doc, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := writeJSON(out, v); err != nil {
					return err
				}
			} else {
				printValidation(out, v)
			}

			if v.rejected() {
				return errRejected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&policyType, "policy-type", "p", "", "policy type to validate against (default: inferred from the title)")
	cmd.Flags().StringSliceVar(&controls, "controls", nil, "claimed Annex A controls (default: the policy type's controls)")
	cmd.Flags().BoolVar(&gate, "gate", false, "run the acceptance gate")
	cmd.Flags().IntVar(&maxWarnings, "max-warnings", 0, "reject documents with more warnings than this")
	cmd.Flags().StringSliceVar(&gatePolicies, "gate-policies", nil, "additional gate policy files or directories (.rego, .json)")
	cmd.Flags().StringSliceVar(&skipPolicies, "skip-gate-policy", nil, "gate policies to disable, e.g. readability-assessable")
	cmd.Flags().BoolVar(&save, "save", false, "store the result (requires --store)")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "run the passes one after another")

	return cmd
}
