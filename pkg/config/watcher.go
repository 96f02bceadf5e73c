package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// SourceFiles names the snapshot source recorded for file reloads.
const SourceFiles = "files"

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
	Events   *telemetry.EventPublisher
	Debounce time.Duration

	// Base returns the builder file rules are layered on, for example one
	// seeded from the database. Nil starts from an empty builder.
	Base func(ctx context.Context) (*rules.Builder, error)
}

// Watcher rebuilds the rule snapshot when rule files change and publishes
// it through a Holder. A reload that fails keeps the previous snapshot.
type Watcher struct {
	parser  *Parser
	holder  *rules.Holder
	sources []string
	opts    WatcherOptions
	logger  zerolog.Logger

	reloadMu sync.Mutex
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for sources that publishes into holder.
func NewWatcher(parser *Parser, holder *rules.Holder, sources []string, opts WatcherOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		parser:  parser,
		holder:  holder,
		sources: sources,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "rules-watcher").Logger(),
	}
}

// Reload parses the sources, builds a snapshot and swaps it in.
func (w *Watcher) Reload(ctx context.Context) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	snap, err := w.build(ctx)
	if err != nil {
		w.opts.Metrics.RecordRuleLoadError()
		_ = w.opts.Events.PublishRulesReloadFailed(SourceFiles, err.Error())
		return err
	}

	w.holder.Swap(snap)

	stats := snap.Stats()
	w.opts.Metrics.RecordSnapshotLoaded(SourceFiles)
	_ = w.opts.Events.PublishRulesReloaded(SourceFiles, stats.PolicyTypes, stats.Mappings)

	w.logger.Info().
		Int("policy_types", stats.PolicyTypes).
		Int("mappings", stats.Mappings).
		Int("rules", stats.Rules).
		Msg("Rule snapshot reloaded")

	return nil
}

func (w *Watcher) build(ctx context.Context) (*rules.Snapshot, error) {
	parsed, err := w.parser.Parse(ctx, w.sources)
	if err != nil {
		return nil, err
	}
	for _, e := range parsed.Errors {
		if e.Severity == SeverityWarning {
			w.logger.Warn().Str("file", e.File).Msg(e.Message)
		}
	}
	if err := parsed.Err(); err != nil {
		return nil, err
	}

	b := rules.NewBuilder()
	if w.opts.Base != nil {
		if b, err = w.opts.Base(ctx); err != nil {
			return nil, fmt.Errorf("failed to load base rules: %w", err)
		}
	}
	if err := parsed.Apply(b); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// Watch starts watching the sources and reloads on change until ctx is
// done. Directories are watched recursively; for files and globs the
// containing directory is watched so that editors replacing files are seen.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	for _, source := range w.sources {
		dir := source
		if isGlob(source) {
			dir, _ = doublestar.SplitPattern(filepath.ToSlash(source))
			dir = filepath.FromSlash(dir)
		} else if info, err := os.Stat(source); err == nil && !info.IsDir() {
			dir = filepath.Dir(source)
		}
		if err := w.watchDirectory(dir); err != nil {
			w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
		}
	}

	go w.processEvents(ctx)

	w.logger.Info().
		Int("sources", len(w.sources)).
		Msg("Started watching rule sources")

	return nil
}

// watchDirectory adds a directory and its subdirectories to the watcher.
func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// processEvents processes file system events and triggers debounced reloads.
func (w *Watcher) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchDirectory(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !IsRuleFile(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Rule file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.opts.Debounce, func() {
				if err := w.Reload(ctx); err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload rules; keeping previous snapshot")
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops watching for file changes.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
