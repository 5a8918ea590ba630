// Package syncwatch follows a sync file that names the current item and
// reports every change of item to a handler.
//
// The file normally holds the path of the file being viewed. Its base name is
// resolved to an item id through a Resolver; a file holding a bare integer is
// taken as the id itself.
package syncwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/c360/windowcache/errors"
	"github.com/c360/windowcache/types"
)

// Handler receives the item named by the sync file.
type Handler func(ctx context.Context, id types.ItemID) error

// Resolver maps a file name to its item id. *itemstore.SQLStore satisfies it.
type Resolver interface {
	LookupByFilename(ctx context.Context, name string) (types.ItemID, bool, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithResolver resolves path-form sync content. Without one only bare
// integer ids are accepted.
func WithResolver(r Resolver) Option {
	return func(w *Watcher) {
		w.resolver = r
	}
}

// Watcher monitors one sync file.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  Handler
	resolver Resolver
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu          sync.Mutex
	lastContent string
	last        types.ItemID
	hasLast     bool
}

// New creates a watcher for path. Bursts of writes within debounce collapse
// into one read, and the handler runs at most once per debounce interval.
func New(path string, debounce time.Duration, handler Handler, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.New("sync file path is required"), "Watcher", "New", "validate path")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(errors.New("handler is required"), "Watcher", "New", "validate handler")
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		handler:  handler,
		logger:   logger.With("component", "syncwatch", "path", path),
		limiter:  rate.NewLimiter(rate.Every(debounce), 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run reads the sync file once and then follows it until ctx is done. The
// parent directory is watched rather than the file so replace-by-rename
// writers are seen too.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "Watcher", "Run", "create fsnotify watcher")
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return errors.WrapTransient(err, "Watcher", "Run", "watch directory")
	}
	w.logger.Info("Watching sync file")

	w.check(ctx)

	pending := make(chan struct{}, 1)
	var timerMu sync.Mutex
	var timer *time.Timer
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
			timerMu.Unlock()

		case <-pending:
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			w.check(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Sync watcher error", "error", err)
		}
	}
}

// check reads the file and dispatches a changed item id. Content that is
// unchanged since the last successful read is ignored, as is content that
// resolves to the item already dispatched.
func (w *Watcher) check(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("Failed to read sync file", "error", err)
		}
		return
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	w.mu.Lock()
	seen := content == w.lastContent
	w.mu.Unlock()
	if seen {
		return
	}

	id, found, err := w.resolve(ctx, content)
	if err != nil {
		// Not remembered, so the next change event tries again.
		w.logger.Warn("Failed to resolve sync file", "content", truncate(content, 128), "error", err)
		return
	}

	w.mu.Lock()
	w.lastContent = content
	unchanged := found && w.hasLast && w.last == id
	if found {
		w.last, w.hasLast = id, true
	}
	w.mu.Unlock()

	if !found {
		w.logger.Warn("Sync file names no known item", "content", truncate(content, 128))
		return
	}
	if unchanged {
		return
	}

	w.logger.Info("Current item changed", "item_id", id)
	if err := w.handler(ctx, id); err != nil {
		w.logger.Error("Sync handler failed", "item_id", id, "error", err)
	}
}

// resolve turns trimmed sync content into an item id. A bare integer is the
// id; anything else is a path whose base name goes to the resolver.
func (w *Watcher) resolve(ctx context.Context, content string) (types.ItemID, bool, error) {
	if id, err := ParseItemID([]byte(content)); err == nil {
		return id, true, nil
	}
	name := BaseName(content)
	if w.resolver == nil || name == "" {
		return 0, false, nil
	}
	return w.resolver.LookupByFilename(ctx, name)
}

// Last returns the most recently dispatched item.
func (w *Watcher) Last() (types.ItemID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.hasLast
}

// ParseItemID parses sync content that is a bare integer id, ignoring
// surrounding whitespace.
func ParseItemID(data []byte) (types.ItemID, error) {
	id, err := types.ParseItemID(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("sync content %q is not an item id: %w", truncate(string(data), 32), err)
	}
	return id, nil
}

// BaseName returns the last element of a sync file path. Both slash and
// backslash separate elements.
func BaseName(content string) string {
	return content[strings.LastIndexAny(content, `/\`)+1:]
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
