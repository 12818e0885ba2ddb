package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jellydator/ttlcache/v3"

	"property-feed-sync/feed"
	"property-feed-sync/models"
	"property-feed-sync/storage"
	"property-feed-sync/utils"
)

// Processor ingests one feed file. services.Pipeline and Forwarder both
// satisfy it.
type Processor interface {
	IngestFile(ctx context.Context, path string) (*models.IngestResult, error)
}

// Config locates the directories the agent works on.
type Config struct {
	WatchDir     string
	ProcessedDir string
	Debounce     time.Duration
}

// Agent watches a drop directory and feeds every new .xml or .zip file to
// its Processor, strictly one file at a time. Successful sources are moved
// to the processed directory; failures stay where they are.
type Agent struct {
	cfg      Config
	proc     Processor
	archiver storage.Archiver
	logger   *utils.Logger
	now      func() time.Time

	debounce *ttlcache.Cache[string, struct{}]

	mu      sync.Mutex
	pending []string
	queued  map[string]bool
	wake    chan struct{}
}

// NewAgent creates an Agent. archiver may be nil.
func NewAgent(cfg Config, proc Processor, archiver storage.Archiver, logger *utils.Logger) *Agent {
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	a := &Agent{
		cfg:      cfg,
		proc:     proc,
		archiver: archiver,
		logger:   logger,
		now:      time.Now,
		queued:   make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
	a.debounce = ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.Debounce),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	a.debounce.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
		if reason == ttlcache.EvictionReasonExpired {
			a.enqueue(item.Key())
		}
	})
	return a
}

// Run watches until ctx is cancelled. The file being processed when that
// happens is allowed to finish.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.ProcessedDir, 0755); err != nil {
		return fmt.Errorf("watcher: create processed dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: init: %w", err)
	}
	defer w.Close()
	if err := w.Add(a.cfg.WatchDir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", a.cfg.WatchDir, err)
	}

	go a.debounce.Start()
	defer a.debounce.Stop()

	if err := a.scanExisting(); err != nil {
		a.logger.Warn("[watcher] Initial scan failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.work(ctx)
	}()

	a.logger.Info("[watcher] Watching %s (processed → %s)", a.cfg.WatchDir, a.cfg.ProcessedDir)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("[watcher] Stopping, waiting for in-flight file...")
			<-done
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				<-done
				return nil
			}
			a.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				<-done
				return nil
			}
			a.logger.Error("[watcher] fsnotify: %v", err)
		}
	}
}

// handleEvent (re)arms the debounce timer of a candidate feed file.
func (a *Agent) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !a.candidate(ev.Name) {
		return
	}
	a.logger.Debug("[watcher] %s %s", ev.Op, ev.Name)
	a.debounce.Set(ev.Name, struct{}{}, ttlcache.DefaultTTL)
}

// candidate accepts visible feed files directly inside the watch directory.
func (a *Agent) candidate(path string) bool {
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(a.cfg.WatchDir) {
		return false
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return feed.IsFeedFile(path)
}

func (a *Agent) scanExisting() error {
	entries, err := os.ReadDir(a.cfg.WatchDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(a.cfg.WatchDir, e.Name())
		if e.Type().IsRegular() && a.candidate(path) {
			a.enqueue(path)
		}
	}
	return nil
}

func (a *Agent) enqueue(path string) {
	a.mu.Lock()
	if !a.queued[path] {
		a.queued[path] = true
		a.pending = append(a.pending, path)
	}
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Agent) next() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return "", false
	}
	path := a.pending[0]
	a.pending = a.pending[1:]
	delete(a.queued, path)
	return path, true
}

// work drains the queue one file at a time.
func (a *Agent) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		path, ok := a.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-a.wake:
				continue
			}
		}
		a.process(context.WithoutCancel(ctx), path)
	}
}

func (a *Agent) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		a.logger.Debug("[watcher] %s vanished before processing", path)
		return
	}

	a.logger.Info("[watcher] New file detected: %s", path)
	res, err := a.proc.IngestFile(ctx, path)
	if err != nil {
		a.logger.Error("[watcher] Failed to process %s (left in place): %v", path, err)
		return
	}

	dest, err := a.archive(ctx, path)
	if err != nil {
		a.logger.Error("[watcher] %v", err)
		return
	}
	if res.Extracted != "" {
		if _, err := a.archive(ctx, res.Extracted); err != nil {
			a.logger.Warn("[watcher] %v", err)
		}
	}

	processed, total := 0, 0
	if res.Sync != nil {
		processed, total = res.Sync.Processed, res.Sync.Total
	}
	a.logger.Info("[watcher] %s done: %d/%d properties synced, moved to %s", filepath.Base(path), processed, total, dest)
}

// archive moves path into the processed directory under a unix-millis
// prefix and mirrors it when an archiver is configured.
func (a *Agent) archive(ctx context.Context, path string) (string, error) {
	dest := filepath.Join(a.cfg.ProcessedDir, fmt.Sprintf("%d_%s", a.now().UnixMilli(), filepath.Base(path)))
	if err := moveFile(path, dest); err != nil {
		return "", fmt.Errorf("watcher: move %s: %w", path, err)
	}
	if a.archiver != nil {
		if err := a.archiver.Archive(ctx, dest); err != nil {
			a.logger.Warn("[watcher] Mirror of %s failed: %v", filepath.Base(dest), err)
		}
	}
	return dest, nil
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
