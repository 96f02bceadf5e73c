package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/amoebalabs/docguard/pkg/config"
	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/stores"
)

func newRulesCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage rule data",
		Long: `Lint rule-set files, import them into a store and inspect the resulting
policy specifications.`,
	}

	cmd.AddCommand(newRulesLintCommand(g))
	cmd.AddCommand(newRulesImportCommand(g))
	cmd.AddCommand(newRulesListCommand(g))
	cmd.AddCommand(newRulesShowCommand(g))
	cmd.AddCommand(newRulesDeleteCommand(g))

	return cmd
}

// lintReport is the JSON form of a lint run.
type lintReport struct {
	Files       int                      `json:"files"`
	PolicyTypes int                      `json:"policy_types"`
	Mappings    int                      `json:"mappings"`
	Rules       int                      `json:"rules"`
	Problems    []config.ValidationError `json:"problems,omitempty"`
}

func newRulesLintCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lint [paths...]",
		Short: "Check rule-set files for errors",
		Long: `Parse and validate rule-set files without loading them anywhere.

Every file is checked against the rule-set schema, and the files are then
combined to catch conflicts between them, such as a policy type defined
twice. Paths default to --rules.`,
		Example: `  docguard rules lint ./rules
  docguard rules lint "rules/**/*.yaml"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = g.rules
			}
			if len(paths) == 0 {
				return usageError(errors.New("no rule files given"))
			}

			parsed, err := config.NewParser().Parse(cmd.Context(), paths)
			if err != nil {
				return engine.NewConfigurationError("failed to read rule files", err)
			}

			report := lintReport{Files: len(parsed.Files), Problems: parsed.Errors}
			var loadErr *config.LoadError
			if !parsed.HasErrors() {
				b := rules.NewBuilder()
				if err := parsed.Apply(b); err != nil {
					if !errors.As(err, &loadErr) {
						return err
					}
					report.Problems = append(report.Problems, loadErr.Errors...)
				} else {
					stats := b.Build().Stats()
					report.PolicyTypes, report.Mappings, report.Rules = stats.PolicyTypes, stats.Mappings, stats.Rules
				}
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				for _, p := range report.Problems {
					fmt.Fprintf(out, "%s: %s\n", p.Severity, p.String())
				}
				fmt.Fprintf(out, "%d files, %d policy types, %d mappings, %d rules\n",
					report.Files, report.PolicyTypes, report.Mappings, report.Rules)
			}

			if err := parsed.Err(); err != nil {
				return &ExitError{Code: ExitConfiguration, Err: err}
			}
			if loadErr != nil {
				return &ExitError{Code: ExitConfiguration, Err: loadErr}
			}
			return nil
		},
	}
}

func newRulesImportCommand(g *globalOptions) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "import <paths...>",
		Short: "Import rule data into the store",
		Long: `Import rule-set files and control mapping sheets into the SQLite store.

Rule-set files (.yaml, .yml, .json, .cue) are validated together and written
in one transaction; a policy type already in the store is replaced.
Spreadsheet exports (.csv) are bulk-upserted as control mappings, where a
mapping for the same policy type and control replaces the earlier one.`,
		Example: `  docguard rules import --store docguard.db ./rules
  docguard rules import --store docguard.db controls.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := g.newServices(ctx, serviceOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			var sheets, ruleFiles []string
			for _, p := range args {
				if strings.EqualFold(filepath.Ext(p), ".csv") {
					sheets = append(sheets, p)
				} else {
					ruleFiles = append(ruleFiles, p)
				}
			}

			var summary stores.ImportSummary
			if len(ruleFiles) > 0 {
				snap, _, err := config.NewParser().Load(ctx, ruleFiles)
				if err != nil {
					return engine.NewConfigurationError("failed to load rule files", err)
				}
				if summary, err = svc.store.ImportSnapshot(ctx, snap, actor); err != nil {
					return err
				}
			}

			for _, path := range sheets {
				n, err := importSheet(cmd, svc, path)
				if err != nil {
					return err
				}
				summary.Mappings += n
			}

			svc.logger.Info().
				Int("specs", summary.Specs).
				Int("mappings", summary.Mappings).
				Int("thresholds", summary.Thresholds).
				Msg("Rule data imported")

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(out, summary)
			}
			fmt.Fprintf(out, "Imported %d policy types, %d mappings, %d thresholds\n",
				summary.Specs, summary.Mappings, summary.Thresholds)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "name recorded in the audit trail")

	return cmd
}

func importSheet(cmd *cobra.Command, svc *services, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, engine.NewInputError("failed to open mapping sheet", err)
	}
	defer f.Close()

	records, err := config.ReadMappingsCSV(f)
	if err != nil {
		return 0, engine.NewConfigurationError(fmt.Sprintf("invalid mapping sheet %s", path), err)
	}
	n, err := svc.store.UpsertMappings(cmd.Context(), records)
	if err != nil {
		if errors.Is(err, rules.ErrInvalidSpec) {
			return 0, engine.NewConfigurationError(fmt.Sprintf("invalid mapping sheet %s", path), err)
		}
		return 0, err
	}
	return n, nil
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "docguard"
}

func newRulesListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the known policy types",
		Example: `  docguard rules list --rules ./rules
  docguard rules list --store docguard.db --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			specs := make([]*rules.PolicySpec, 0, len(snap.PolicyTypes()))
			for _, pt := range snap.PolicyTypes() {
				spec, err := snap.GetSpec(pt)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(out, specs)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "POLICY TYPE\tSECTIONS\tRULES\tCONTROLS")
			for _, spec := range specs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n",
					spec.PolicyType, len(spec.RequiredSections), len(spec.Rules), joinOrDash(spec.Controls))
			}
			return tw.Flush()
		},
	}
}

// ruleView is everything a validation of one policy type runs against.
type ruleView struct {
	Policy      *rules.PolicySpec            `json:"policy"`
	Mappings    []rules.ControlMapping       `json:"mappings"`
	Readability *rules.ReadabilityThresholds `json:"readability,omitempty"`
}

func newRulesShowCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <policy-type>",
		Short: "Show the rule data for a policy type",
		Long: `Show the policy specification, the control mappings of its default
controls and the readability thresholds that apply, as YAML (or JSON with
--json).`,
		Example: `  docguard rules show --rules ./rules "Access Control Policy"`,
		Args:    cobra.ExactArgs(1),
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

			spec, err := snap.GetSpec(args[0])
			if err != nil {
				return engine.NewConfigurationError("unknown policy type", err).
					WithCode(engine.ErrCodeUnknownPolicyType).
					WithPolicyType(args[0])
			}

			view := ruleView{Policy: spec, Mappings: applicableMappings(snap, spec)}
			if t, err := snap.GetThresholds(spec.PolicyType); err == nil {
				view.Readability = &t
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(out, view)
			}
			return writeYAML(out, view)
		},
	}
}

// applicableMappings returns the mapping used for each of the spec's
// default controls, skipping controls without one.
func applicableMappings(snap *rules.Snapshot, spec *rules.PolicySpec) []rules.ControlMapping {
	var out []rules.ControlMapping
	for _, id := range spec.Controls {
		if m, err := snap.GetMappings(spec.PolicyType, []string{id}); err == nil {
			out = append(out, m...)
		}
	}
	return out
}

// writeYAML renders v as YAML using its JSON field names.
func writeYAML(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func newRulesDeleteCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <policy-type>",
		Short:   "Delete a policy type from the store",
		Example: `  docguard rules delete --store docguard.db "Legacy Policy"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := g.newServices(ctx, serviceOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.store.DeleteSpec(ctx, args[0]); err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return engine.NewConfigurationError("unknown policy type", err).
						WithCode(engine.ErrCodeUnknownPolicyType).
						WithPolicyType(args[0])
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
