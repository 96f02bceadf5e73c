package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/document"
	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/rules"
)

// inboxDebounce lets a generator finish writing a file before it is read.
const inboxDebounce = 500 * time.Millisecond

// inbox validates documents dropped into a directory against the current
// rule snapshot.
type inbox struct {
	dir      string
	svc      *services
	eng      *engine.Engine
	holder   *rules.Holder
	reader   *document.Reader
	req      validateRequest
	debounce time.Duration
	logger   zerolog.Logger

	// processed receives every completed validation when set.
	processed func(*validation)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newInbox(dir string, svc *services, eng *engine.Engine, holder *rules.Holder, req validateRequest) *inbox {
	return &inbox{
		dir:      dir,
		svc:      svc,
		eng:      eng,
		holder:   holder,
		reader:   document.NewReader(),
		req:      req,
		debounce: inboxDebounce,
		logger:   svc.tel.Logger.NewComponentLogger("inbox").Zerolog().With().Str("dir", dir).Logger(),
		timers:   make(map[string]*time.Timer),
	}
}

// isDocumentFile reports whether path looks like a generated document.
func isDocumentFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", ".html", ".htm":
		return true
	}
	return false
}

// Run validates the documents already in the directory, then every document
// created or rewritten there until ctx is done.
func (in *inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", in.dir, err)
	}

	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox %s: %w", in.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && isDocumentFile(e.Name()) {
			in.process(ctx, filepath.Join(in.dir, e.Name()))
		}
	}

	in.logger.Info().Msg("Watching inbox for documents")

	for {
		select {
		case <-ctx.Done():
			in.stopTimers()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isDocumentFile(event.Name) {
				continue
			}
			in.schedule(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Error().Err(err).Msg("Inbox watcher error")
		}
	}
}

// schedule validates path once it has been quiet for the debounce period.
func (in *inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if t, ok := in.timers[path]; ok {
		t.Stop()
	}
	in.timers[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()

		if ctx.Err() == nil {
			in.process(ctx, path)
		}
	})
}

func (in *inbox) stopTimers() {
	in.mu.Lock()
	defer in.mu.Unlock()

	for path, t := range in.timers {
		t.Stop()
		delete(in.timers, path)
	}
}

// process validates one file. Failures are logged; the inbox keeps running.
func (in *inbox) process(ctx context.Context, path string) {
	doc, err := in.reader.ReadFile(path)
	if err != nil {
		in.logger.Warn().Err(err).Str("file", path).Msg("Failed to read document")
		return
	}

	v, err := in.svc.validate(ctx, in.eng, in.holder.Load(), doc, in.req)
	if err != nil {
		in.logger.Error().Err(err).Str("file", path).Msg("Document not validated")
		return
	}

	if in.processed != nil {
		in.processed(v)
	}
}
