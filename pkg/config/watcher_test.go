package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

const minimalRuleSet = `
readability: {min_words: 5}
policies:
  - policy_type: Cryptography Policy
    required_sections:
      - name: Purpose
`

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", minimalRuleSet)

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	var received []string
	events.Subscribe(func(e telemetry.Event) { received = append(received, e.Type) }, nil)

	holder := rules.NewHolder(rules.NewBuilder().Build())
	w := NewWatcher(NewParser(), holder, []string{dir}, WatcherOptions{Logger: zerolog.Nop(), Events: events})

	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	first := holder.Load()
	if _, err := first.GetSpec("Cryptography Policy"); err != nil {
		t.Fatalf("GetSpec() error = %v", err)
	}

	// A broken file keeps the previous snapshot.
	if err := os.WriteFile(path, []byte("policies: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if holder.Load() != first {
		t.Error("failed reload must not replace the snapshot")
	}

	want := []string{telemetry.EventTypeRulesReloaded, telemetry.EventTypeRulesReloadFailed}
	if len(received) != 2 || received[0] != want[0] || received[1] != want[1] {
		t.Errorf("events = %v, want %v", received, want)
	}
}

func TestWatcher_ReloadLayersOnBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rules.yaml", minimalRuleSet)

	base := func(context.Context) (*rules.Builder, error) {
		b := rules.NewBuilder()
		_, err := b.Upsert([]rules.MappingRecord{{ControlID: "A.8.24", Keywords: []string{"encryption"}}})
		return b, err
	}

	holder := rules.NewHolder(rules.NewBuilder().Build())
	w := NewWatcher(NewParser(), holder, []string{dir}, WatcherOptions{Logger: zerolog.Nop(), Base: base})
	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if _, err := holder.Load().GetMappings("Cryptography Policy", []string{"A.8.24"}); err != nil {
		t.Errorf("base mapping missing: %v", err)
	}
}

func TestWatcher_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", minimalRuleSet)

	holder := rules.NewHolder(rules.NewBuilder().Build())
	w := NewWatcher(NewParser(), holder, []string{path}, WatcherOptions{
		Logger:   zerolog.Nop(),
		Debounce: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	updated := minimalRuleSet + "  - policy_type: Backup Policy\n    required_sections: []\n"
	if err := os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := holder.Load().GetSpec("Backup Policy"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("snapshot was not reloaded after the file changed")
}
