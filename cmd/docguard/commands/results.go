package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/stores"
)

func newResultsCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect stored validation results",
		Long: `List, show and prune validation results kept in the SQLite store by
"docguard validate --save" and "docguard watch".`,
	}

	cmd.AddCommand(newResultsListCommand(g))
	cmd.AddCommand(newResultsShowCommand(g))
	cmd.AddCommand(newResultsPruneCommand(g))

	return cmd
}

func newResultsListCommand(g *globalOptions) *cobra.Command {
	var (
		policyType string
		verdict    string
		hash       string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored results, newest first",
		Example: `  docguard results list --store docguard.db
  docguard results list --store docguard.db --verdict fail --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			switch engine.Verdict(verdict) {
			case "", engine.VerdictPass, engine.VerdictPassWithWarnings, engine.VerdictFail:
			default:
				return usageError(fmt.Errorf("unknown verdict %q", verdict))
			}

			svc, err := g.newServices(ctx, serviceOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			records, err := svc.store.ListResults(ctx, stores.ResultFilter{
				PolicyType:   policyType,
				Verdict:      engine.Verdict(verdict),
				DocumentHash: hash,
				Limit:        limit,
				Offset:       offset,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if records == nil {
					records = []*stores.ResultRecord{}
				}
				return writeJSON(out, records)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tCREATED\tPOLICY TYPE\tVERDICT\tBLOCKING\tWARNINGS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.PolicyType, r.Verdict, r.Blocking, r.Warnings)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&policyType, "policy-type", "p", "", "only results for this policy type")
	cmd.Flags().StringVar(&verdict, "verdict", "", "only results with this verdict (pass, pass_with_warnings, fail)")
	cmd.Flags().StringVar(&hash, "document-hash", "", "only results for this document hash")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of results to skip")

	return cmd
}

func newResultsShowCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "show <id>",
		Short:   "Show a stored result",
		Example: `  docguard results show --store docguard.db 0f8e5c1a-...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := g.newServices(ctx, serviceOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			rec, err := svc.store.GetResult(ctx, args[0])
			if err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return usageError(fmt.Errorf("result %s not found", args[0]))
				}
				return err
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(out, rec)
			}

			result, err := rec.Decode()
			if err != nil {
				return fmt.Errorf("failed to decode result %s: %w", rec.ID, err)
			}
			fmt.Fprintf(out, "Result %s, %s\nDocument sha256 %s\n",
				rec.ID, rec.CreatedAt.Format(time.RFC3339), rec.DocumentHash)
			printResult(out, result)
			return nil
		},
	}
}

func newResultsPruneCommand(g *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete stored results older than a cutoff",
		Example: `  docguard results prune --store docguard.db --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if olderThan <= 0 {
				return usageError(errors.New("--older-than must be positive"))
			}

			svc, err := g.newServices(ctx, serviceOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			retention, err := stores.NewRetentionScheduler(svc.store, stores.RetentionOptions{
				Retain:  olderThan,
				Logger:  svc.logger,
				Metrics: svc.metrics,
				Events:  svc.events,
			})
			if err != nil {
				return err
			}

			removed, err := retention.Prune(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(out, map[string]int64{"removed": removed})
			}
			fmt.Fprintf(out, "Pruned %d results\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", stores.DefaultRetention, "age after which results are deleted")

	return cmd
}

func newAuditCommand(g *globalOptions) *cobra.Command {
	var (
		action string
		target string
		since  time.Duration
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		Long: `Show the audit trail kept in the store: rule imports and deletions,
validations, gate rejections, rule reloads and retention sweeps.`,
		Example: `  docguard audit --store docguard.db
  docguard audit --store docguard.db --action gate.rejected --since 24h
  docguard audit --store docguard.db --target "Access Control Policy"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			svc, err := g.newServices(ctx, serviceOptions{requireStore: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			filter := stores.AuditFilter{Action: action, TargetID: target, Limit: limit, Offset: offset}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			entries, err := svc.store.ListAuditEntries(ctx, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if entries == nil {
					entries = []*stores.AuditEntry{}
				}
				return writeJSON(out, entries)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tTARGET")
			for _, e := range entries {
				target := "-"
				if e.TargetID != nil {
					target = *e.TargetID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, target)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only entries with this action")
	cmd.Flags().StringVar(&target, "target", "", "only entries about this result id or policy type")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of entries to skip")

	return cmd
}
