package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(g *globalOptions, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information. With --store the schema version of the store
is printed too, after applying any pending migrations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "docguard %s\n  commit:  %s\n  built:   %s\n  go:      %s %s/%s\n",
				g.version, commit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)

			if g.storePath == "" {
				return nil
			}

			ctx := cmd.Context()
			svc, err := g.newServices(ctx, serviceOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()

			schema, dirty, err := svc.store.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(out, "  schema:  %d (%s)\n", schema, state)
			return nil
		},
	}
}
