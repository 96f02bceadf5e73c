package stores

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/telemetry"
)

func TestNewRetentionScheduler(t *testing.T) {
	store := setupTestStore(t)

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"descriptor", "@daily", false},
		{"cron expression", "0 3 * * *", false},
		{"empty", "", false},
		{"invalid", "every day", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetentionScheduler(store, RetentionOptions{Schedule: tt.schedule, Logger: zerolog.Nop()})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRetentionScheduler() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetentionScheduler_Prune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedClock(store, start)
	for i := 0; i < 3; i++ {
		if _, err := store.SaveResult(ctx, newResult("Cryptography Policy"), "text"); err != nil {
			t.Fatal(err)
		}
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "docguard"})
	if err != nil {
		t.Fatal(err)
	}
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	var pruned []telemetry.Event
	events.Subscribe(func(e telemetry.Event) { pruned = append(pruned, e) }, telemetry.FilterByType(telemetry.EventTypeResultsPruned))

	s, err := NewRetentionScheduler(store, RetentionOptions{
		Retain:  90 * time.Second,
		Logger:  zerolog.Nop(),
		Metrics: metrics,
		Events:  events,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Rows were stamped at 0, 1 and 2 minutes; "now" is 3 minutes.
	s.now = func() time.Time { return start.Add(3 * time.Minute) }

	removed, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	left, err := store.ListResults(ctx, ResultFilter{})
	if err != nil || len(left) != 1 {
		t.Errorf("ListResults() = %d records, %v", len(left), err)
	}
	if len(pruned) != 1 || pruned[0].Data["removed"] != int64(2) {
		t.Errorf("pruned events = %+v", pruned)
	}
	if n, err := testutil.GatherAndCount(metrics.Registry(), "docguard_results_pruned_total"); err != nil || n != 1 {
		t.Errorf("pruned series = %d, %v", n, err)
	}
}

func TestRetentionScheduler_StartStop(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewRetentionScheduler(store, RetentionOptions{Schedule: "@hourly", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("expected error starting twice")
	}
	if next := s.NextRun(); next == nil || next.IsZero() {
		t.Errorf("NextRun() = %v", next)
	}

	s.Stop()
	s.Stop()
}
