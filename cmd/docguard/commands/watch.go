package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amoebalabs/docguard/pkg/config"
	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/policy"
	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/stores"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

func newWatchCommand(g *globalOptions) *cobra.Command {
	var (
		metricsAddr   string
		pruneSchedule string
		retain        time.Duration
		gatePolicies  []string
		skipPolicies  []string
		maxWarnings   int
		inboxDir      string
		save          bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Serve continuously, reloading rules as they change",
		Long: `Run docguard as a long-lived process.

The rule files given with --rules are watched and the rule snapshot is
rebuilt whenever they change; a change that does not validate keeps the
previous snapshot. With --store, stored rule data is the base the files are
layered on, every event is written to the audit trail and stored results are
pruned on --prune-schedule.

With --inbox, documents created in that directory are validated as they
arrive. Prometheus metrics are served on --metrics-addr.`,
		Example: `  # Watch rules and validate documents dropped into ./inbox
  docguard watch --rules ./rules --store docguard.db --inbox ./inbox --save

  # Prune results older than 30 days every night
  docguard watch -r ./rules -s docguard.db --prune-schedule "0 3 * * *" --retain 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(g.rules) == 0 {
				return usageError(errors.New("watch requires --rules"))
			}
			if save && g.storePath == "" {
				return usageError(errors.New("--save requires --store"))
			}

			svc, err := g.newServices(cmd.Context(), serviceOptions{metricsAddr: metricsAddr, asyncEvents: true})
			if err != nil {
				return err
			}
			defer svc.Close()

			grp, ctx := errgroup.WithContext(cmd.Context())

			holder := rules.NewHolder(rules.NewBuilder().Build())
			opts := config.WatcherOptions{Logger: svc.logger, Metrics: svc.metrics, Events: svc.events}
			if svc.store != nil {
				opts.Base = svc.baseBuilder
			}
			watcher := config.NewWatcher(config.NewParser(), holder, g.rules, opts)
			if err := watcher.Reload(ctx); err != nil {
				return engine.NewConfigurationError("failed to load rules", err)
			}
			if err := watcher.Watch(ctx); err != nil {
				return err
			}
			defer watcher.Close()

			req := validateRequest{Save: save}
			if len(gatePolicies) > 0 || len(skipPolicies) > 0 || cmd.Flags().Changed("max-warnings") {
				if req.Gate, err = svc.newGate(ctx, gatePolicies, skipPolicies); err != nil {
					return err
				}
				if cmd.Flags().Changed("max-warnings") {
					req.GateOptions = policy.Options{MaxWarnings: &maxWarnings}
				}
				if len(gatePolicies) > 0 {
					loader, err := req.Gate.Watch(ctx, gatePolicies)
					if err != nil {
						return err
					}
					defer loader.StopWatching()
				}
			}

			if svc.store != nil && pruneSchedule != "" {
				retention, err := stores.NewRetentionScheduler(svc.store, stores.RetentionOptions{
					Schedule: pruneSchedule,
					Retain:   retain,
					Logger:   svc.logger,
					Metrics:  svc.metrics,
					Events:   svc.events,
				})
				if err != nil {
					return usageError(err)
				}
				if err := retention.Start(ctx); err != nil {
					return err
				}
				defer retention.Stop()
			}

			if srv := svc.metrics.NewMetricsServer(); srv != nil {
				svc.logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
				grp.Go(func() error {
					return telemetry.ServeMetrics(srv)
				})
				grp.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			if inboxDir != "" {
				in := newInbox(inboxDir, svc, svc.newEngine(false), holder, req)
				grp.Go(func() error {
					return in.Run(ctx)
				})
			}

			grp.Go(func() error {
				<-ctx.Done()
				return nil
			})

			svc.logger.Info().Strs("rules", g.rules).Msg("docguard watching")
			return grp.Wait()
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9464", "address to serve Prometheus metrics on (empty disables)")
	cmd.Flags().StringVar(&pruneSchedule, "prune-schedule", "", `cron schedule for pruning stored results, e.g. "@daily"`)
	cmd.Flags().DurationVar(&retain, "retain", stores.DefaultRetention, "age after which stored results are pruned")
	cmd.Flags().StringSliceVar(&gatePolicies, "gate-policies", nil, "gate policy files or directories, reloaded on change")
	cmd.Flags().StringSliceVar(&skipPolicies, "skip-gate-policy", nil, "gate policies to disable")
	cmd.Flags().IntVar(&maxWarnings, "max-warnings", 0, "gate: reject documents with more warnings than this")
	cmd.Flags().StringVar(&inboxDir, "inbox", "", "directory whose new documents are validated")
	cmd.Flags().BoolVar(&save, "save", false, "store inbox results (requires --store)")

	return cmd
}
