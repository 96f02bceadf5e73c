package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// DefaultRetention is how long stored results are kept when no retention is
// configured.
const DefaultRetention = 30 * 24 * time.Hour

// ResultPruner deletes stored results older than a cutoff.
type ResultPruner interface {
	PruneResults(ctx context.Context, before time.Time) (int64, error)
}

// RetentionOptions configures a RetentionScheduler.
type RetentionOptions struct {
	// Schedule is a standard cron expression or descriptor such as "@daily".
	// Empty disables scheduling; Prune can still be called directly.
	Schedule string

	// Retain is the age after which results are pruned.
	Retain time.Duration

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
}

// RetentionScheduler prunes stored validation results on a cron schedule.
type RetentionScheduler struct {
	pruner ResultPruner
	opts   RetentionOptions
	cron   *cron.Cron
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// NewRetentionScheduler creates a scheduler for pruner. The schedule is
// checked here so that a typo fails at startup.
func NewRetentionScheduler(pruner ResultPruner, opts RetentionOptions) (*RetentionScheduler, error) {
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetention
	}
	if opts.Schedule != "" {
		if _, err := cron.ParseStandard(opts.Schedule); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", opts.Schedule, err)
		}
	}

	return &RetentionScheduler{
		pruner: pruner,
		opts:   opts,
		cron:   cron.New(),
		logger: opts.Logger.With().Str("component", "retention").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Prune removes results older than the retention period and returns the
// number removed.
func (s *RetentionScheduler) Prune(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.opts.Retain)

	removed, err := s.pruner.PruneResults(ctx, before)
	if err != nil {
		return 0, err
	}

	s.opts.Metrics.RecordResultsPruned(removed)
	_ = s.opts.Events.PublishResultsPruned(removed, before)
	return removed, nil
}

// Start schedules pruning until ctx is done. Without a schedule it does
// nothing.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Schedule == "" {
		s.logger.Info().Msg("Prune schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return fmt.Errorf("retention scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.opts.Schedule, func() { s.runPruning(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.opts.Schedule).
		Dur("retain", s.opts.Retain).
		Msg("Retention scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *RetentionScheduler) runPruning(ctx context.Context) {
	removed, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled pruning failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("Scheduled pruning completed")
	} else {
		s.logger.Debug().Msg("Scheduled pruning completed, nothing to remove")
	}
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info().Msg("Retention scheduler stopped")
	}
}

// NextRun returns the next scheduled prune, or nil when not scheduled.
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
