// Package syncer keeps the index database in step with the markdown files
// under a graph root. Files are ground truth; the synchronizer observes
// filesystem events, debounces them per path, and runs each settled change
// through the read-checksum-parse-save pipeline.
package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grovekit/grove/internal/cache"
	"github.com/grovekit/grove/internal/parser"
	"github.com/grovekit/grove/internal/repository"
	"github.com/grovekit/grove/internal/storage"
)

// DefaultDebounce is the quiet period a path must hold before its pending
// change is processed.
const DefaultDebounce = 500 * time.Millisecond

// scanWorkers bounds the parallelism of the initial full-tree scan.
const scanWorkers = 4

// Config tunes the synchronizer.
type Config struct {
	// Debounce is the per-path quiet period. Zero means DefaultDebounce.
	Debounce time.Duration
	// IgnoreTTL bounds own-write suppression entries. Zero means
	// DefaultIgnoreTTL.
	IgnoreTTL time.Duration
	// Logger receives sync activity. Nil means zap.NewNop().
	Logger *zap.Logger
}

// ScanStats reports the outcome of a full scan.
type ScanStats struct {
	Files    int
	Synced   int
	Skipped  int
	Failures int
}

// pendingChange is one coalesced change for a path. The last event wins.
type pendingChange struct {
	op       EventOp
	queuedAt time.Time
}

// Syncer drives file events into the index.
type Syncer struct {
	root      string
	parser    *parser.Parser
	pages     *repository.PageRepository
	syncState *repository.SyncStateRepository
	cache     *cache.EntityCache
	ignored   *IgnoreSet
	debounce  time.Duration
	logger    *zap.Logger

	watcher   *Watcher
	pending   map[string]pendingChange
	pendingMu sync.Mutex

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a synchronizer for the given graph root.
func New(root string, pages *repository.PageRepository, syncState *repository.SyncStateRepository, entityCache *cache.EntityCache, cfg Config) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Syncer{
		root:      root,
		parser:    parser.New(),
		pages:     pages,
		syncState: syncState,
		cache:     entityCache,
		ignored:   NewIgnoreSet(cfg.IgnoreTTL),
		debounce:  debounce,
		logger:    logger,
		pending:   make(map[string]pendingChange),
	}
}

// Ignored returns the own-write suppression set. The client registers a path
// here before each programmatic file write.
func (s *Syncer) Ignored() *IgnoreSet {
	return s.ignored
}

// Start begins watching the graph root. Events accumulate in the pending set
// and are processed after the per-path quiet period. Start returns once the
// watcher is running; processing happens on background goroutines until ctx
// is cancelled or Stop is called.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("syncer already running")
	}

	watcher, err := NewWatcher(s.root)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	s.watcher = watcher

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(2)
	go s.collectEvents(ctx)
	go s.drainPending(ctx)

	s.logger.Info("watching graph root", zap.String("root", s.root))
	return nil
}

// Stop cancels the watch and waits for in-flight processing to finish. A
// batch that already fired is allowed to complete.
func (s *Syncer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	watcher := s.watcher
	s.mu.Unlock()

	cancel()
	err := watcher.Stop()
	s.wg.Wait()
	return err
}

// collectEvents moves watcher events into the pending map. Event delivery
// never blocks on processing.
func (s *Syncer) collectEvents(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events():
			if !ok {
				return
			}
			s.admit(event)

		case err, ok := <-s.watcher.Errors():
			if !ok {
				return
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// admit moves one watcher event into the pending set unless own-write
// suppression consumes it. It reports whether the event was admitted.
func (s *Syncer) admit(event Event) bool {
	if s.ignored.Consume(event.Path) {
		s.logger.Debug("suppressed own write", zap.String("path", event.Path))
		return false
	}
	s.pendingMu.Lock()
	s.pending[event.Path] = pendingChange{op: event.Op, queuedAt: time.Now()}
	s.pendingMu.Unlock()
	return true
}

// drainPending periodically processes paths whose quiet period has elapsed.
func (s *Syncer) drainPending(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processSettled(ctx)
			s.ignored.Sweep()
		}
	}
}

// processSettled drains every pending path that has been quiet long enough.
// The map is released before processing so new events keep accumulating
// while a batch runs.
func (s *Syncer) processSettled(ctx context.Context) {
	now := time.Now()

	s.pendingMu.Lock()
	batch := make(map[string]pendingChange)
	for path, change := range s.pending {
		if now.Sub(change.queuedAt) >= s.debounce {
			batch[path] = change
			delete(s.pending, path)
		}
	}
	s.pendingMu.Unlock()

	for path, change := range batch {
		if err := s.processChange(ctx, path, change.op); err != nil {
			s.logger.Error("failed to sync file",
				zap.String("path", path),
				zap.String("op", change.op.String()),
				zap.Error(err))
		}
	}
}

// processChange runs one settled change through the pipeline.
func (s *Syncer) processChange(ctx context.Context, path string, op EventOp) error {
	if op == OpDelete {
		return s.processDelete(ctx, path)
	}
	// A tracked file that disappeared before its quiet period elapsed is a
	// delete. An untracked one never made it into the index, so there is
	// nothing to remove.
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if _, serr := s.syncState.Get(ctx, path); errors.Is(serr, storage.ErrNotFound) {
			s.logger.Debug("file vanished before indexing", zap.String("path", path))
			return nil
		} else if serr != nil {
			return serr
		}
		return s.processDelete(ctx, path)
	}
	_, err := s.SyncFile(ctx, path)
	return err
}

// SyncFile indexes one markdown file: checksum short-circuit, parse, save,
// record sync state. It reports whether the index was actually updated.
func (s *Syncer) SyncFile(ctx context.Context, path string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	checksum := Checksum(content)

	prev, err := s.syncState.Get(ctx, path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if prev != nil && prev.Checksum == checksum {
		s.logger.Debug("checksum unchanged", zap.String("path", path))
		return false, nil
	}

	name := PageNameForPath(path)
	page := s.parser.BuildPage(name, path, string(content))
	if err := s.pages.Save(ctx, page); err != nil {
		return false, fmt.Errorf("failed to index %s: %w", path, err)
	}

	now := time.Now()
	modTime := now
	if info, err := os.Stat(path); err == nil {
		modTime = info.ModTime()
	}
	if err := s.syncState.Upsert(ctx, &repository.SyncState{
		FilePath:     path,
		LastModified: modTime,
		LastSynced:   now,
		Checksum:     checksum,
	}); err != nil {
		return false, err
	}

	s.cache.InvalidatePage(name)
	s.logger.Info("indexed page", zap.String("page", name), zap.String("path", path))
	return true, nil
}

// processDelete removes a page whose source file is gone.
func (s *Syncer) processDelete(ctx context.Context, path string) error {
	name := PageNameForPath(path)
	if err := s.pages.Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete page %q: %w", name, err)
	}
	if err := s.syncState.Delete(ctx, path); err != nil {
		return err
	}
	s.cache.InvalidatePage(name)
	s.logger.Info("removed page", zap.String("page", name), zap.String("path", path))
	return nil
}

// InitialScan walks the graph root and indexes every markdown file. Called
// on first open of an empty index, and by explicit resync requests.
func (s *Syncer) InitialScan(ctx context.Context) (ScanStats, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(s.root, path) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return ScanStats{}, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}

	stats := ScanStats{Files: len(paths)}
	var statsMu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(scanWorkers)
	for _, path := range paths {
		group.Go(func() error {
			synced, err := s.SyncFile(ctx, path)
			statsMu.Lock()
			defer statsMu.Unlock()
			switch {
			case err != nil:
				stats.Failures++
				s.logger.Warn("failed to index during scan", zap.String("path", path), zap.Error(err))
			case synced:
				stats.Synced++
			default:
				stats.Skipped++
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return stats, err
	}

	s.logger.Info("scan complete",
		zap.Int("files", stats.Files),
		zap.Int("synced", stats.Synced),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failures", stats.Failures))
	return stats, nil
}

// PageNameForPath derives the page name from a file path: the base name
// without its extension, with namespace separators restored. Writers flatten
// "/" in page names to "___" so the file sits directly in its directory.
func PageNameForPath(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(name, "___", "/")
}

// Checksum returns the hex SHA-256 digest of file content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
