package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	rules      []string
	storePath  string
	verbose    bool
	jsonOutput bool

	traceExporter string
	traceEndpoint string

	version string
}

// Execute runs the root command. The returned error is an *ExitError
// carrying the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return classify(rootCmd.ExecuteContext(ctx))
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	g := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "docguard",
		Short: "docguard - ISMS policy document validation",
		Long: `docguard validates generated ISMS policy documents against declarative rule
data before they are accepted into the document set.

Each document is checked in four passes:
  - Structure: every required section is present and long enough
  - Controls: every claimed Annex A control is evidenced by its keywords
  - Rules: keyword, cross-reference and numeric threshold rules
  - Readability: Flesch reading ease, sentence and word length

Rule data comes from YAML, JSON or CUE rule-set files, from a SQLite store,
or both. An optional acceptance gate evaluates Rego policies over the result.

Exit codes:
  0  document passed (with or without warnings) and was accepted
  1  document failed validation or was rejected by the gate
  2  configuration or input error (unknown policy type, unmapped control,
     invalid rule files, unreadable document)`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringSliceVarP(&g.rules, "rules", "r", nil, "rule-set files, directories or globs (repeatable)")
	rootCmd.PersistentFlags().StringVarP(&g.storePath, "store", "s", "", "SQLite store path")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&g.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&g.traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP collector endpoint")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand(g))
	rootCmd.AddCommand(newRulesCommand(g))
	rootCmd.AddCommand(newResultsCommand(g))
	rootCmd.AddCommand(newAuditCommand(g))
	rootCmd.AddCommand(newWatchCommand(g))
	rootCmd.AddCommand(newVersionCommand(g, commit, buildDate))

	return rootCmd
}
