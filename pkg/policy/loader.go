package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 500 * time.Millisecond

// Loader reads gate policies from .rego and .json files.
//
// A .rego file becomes one policy named after the file. Its leading comment
// block is the description, except for annotation lines:
//
//	# severity: warning
//	# tags: readability, budget
//	# disabled
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedPolicy

	watcher  *fsnotify.Watcher
	debounce time.Duration
}

type cachedPolicy struct {
	modTime time.Time
	policy  Policy
}

// NewLoader creates a gate policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:   logger.With().Str("component", "gate-loader").Logger(),
		cache:    make(map[string]cachedPolicy),
		debounce: reloadDebounce,
	}
}

// IsPolicyFile reports whether path has a gate policy extension.
func IsPolicyFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rego", ".json":
		return true
	}
	return false
}

// LoadFromPaths loads the policies under paths. A path is a file, a
// directory searched recursively, or a doublestar glob such as
// "gates/**/*.rego". Files named explicitly must load; files found in a
// directory or by a glob are skipped with a warning when they do not.
// Policies are returned sorted by name.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load gate policies from %s: %w", path, err)
		}
		policies = append(policies, loaded...)
	}

	sort.SliceStable(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	l.logger.Info().
		Int("policies", len(policies)).
		Int("sources", len(paths)).
		Msg("Gate policies loaded")

	return policies, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	if strings.ContainsAny(path, "*?[{") {
		matches, err := doublestar.FilepathGlob(path, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid glob: %w", err)
		}
		return l.loadFiles(ctx, matches), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsPolicyFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return l.loadFiles(ctx, files), nil
}

// loadFiles loads every policy file in files, skipping the ones that fail.
func (l *Loader) loadFiles(ctx context.Context, files []string) []Policy {
	var policies []Policy
	for _, f := range files {
		if !IsPolicyFile(f) {
			continue
		}
		p, err := l.loadFromFile(ctx, f)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", f).Msg("Skipping gate policy")
			continue
		}
		policies = append(policies, *p)
	}
	return policies
}

// loadFromFile loads one policy file. Unchanged files come from the cache.
func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		p := cached.policy
		return &p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p *Policy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rego":
		p, err = parseRegoFile(path, data)
	case ".json":
		p, err = parseJSONFile(data)
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]interface{})
	}
	p.Metadata["source"] = path

	l.mu.Lock()
	l.cache[path] = cachedPolicy{modTime: info.ModTime(), policy: *p}
	l.mu.Unlock()

	l.logger.Debug().Str("file", path).Str("policy", p.Name).Msg("Gate policy loaded")
	return p, nil
}

// parseRegoFile builds a policy from a .rego file and its header comments.
func parseRegoFile(path string, data []byte) (*Policy, error) {
	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Rego:     string(data),
		Severity: SeverityError,
		Enabled:  true,
		Tags:     []string{},
	}

	var description []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(description) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			if len(description) == 0 && (strings.HasPrefix(trimmed, "package ") || strings.HasPrefix(trimmed, "import ")) {
				continue
			}
			break
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		key, value, _ := strings.Cut(comment, ":")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "severity":
			sev := Severity(strings.ToLower(strings.TrimSpace(value)))
			if sev != SeverityError && sev != SeverityWarning {
				return nil, fmt.Errorf("unknown severity %q", strings.TrimSpace(value))
			}
			p.Severity = sev
		case "tags":
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					p.Tags = append(p.Tags, tag)
				}
			}
		case "disabled":
			p.Enabled = false
		default:
			if comment != "" {
				description = append(description, comment)
			}
		}
	}
	p.Description = strings.Join(description, " ")

	return p, nil
}

// parseJSONFile decodes a JSON policy definition. Severity defaults to error.
func parseJSONFile(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("JSON policy has no name")
	}
	if p.Rego == "" {
		return nil, fmt.Errorf("JSON policy %s has no rego", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return &p, nil
}

// Watch calls reload with the freshly loaded policies whenever a policy file
// under paths changes. Directories are watched rather than files so that
// editors replacing a file on save are noticed. Watching stops when ctx is
// done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dirs := make(map[string]bool)
	for _, path := range paths {
		root := path
		if strings.ContainsAny(path, "*?[{") {
			root, _ = doublestar.SplitPattern(filepath.ToSlash(path))
			root = filepath.FromSlash(root)
		}

		info, err := os.Stat(root)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch gate policy path")
			continue
		}
		if !info.IsDir() {
			dirs[filepath.Dir(root)] = true
			continue
		}
		_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				dirs[p] = true
			}
			return nil
		})
	}

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	l.watcher = watcher
	go l.processEvents(ctx, paths, reload)

	l.logger.Info().Int("directories", len(dirs)).Msg("Watching gate policies")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reload func([]Policy) error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !IsPolicyFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Gate policy changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.debounce, func() {
				if err := l.reload(ctx, paths, reload); err != nil {
					l.logger.Error().Err(err).Msg("Gate policies not reloaded; keeping the previous set")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Gate policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	if ctx.Err() != nil {
		return nil
	}

	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply gate policies: %w", err)
	}

	l.logger.Info().Int("policies", len(policies)).Msg("Gate policies reloaded")
	return nil
}

// StopWatching stops watching for policy changes.
func (l *Loader) StopWatching() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}
