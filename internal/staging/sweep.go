package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sweeper deletes aged staging directories on a schedule. Directories newer
// than the retention window, and those whose job is still active, are left
// alone.
type Sweeper struct {
	root      string
	retention time.Duration
	interval  time.Duration
	dryRun    bool
	isActive  func(batchID string) bool
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over stagingRoot. isActive reports whether a
// batch id still has a running job; it may be nil.
func NewSweeper(root string, retention, interval time.Duration, dryRun bool, isActive func(string) bool, logger *slog.Logger) *Sweeper {
	if isActive == nil {
		isActive = func(string) bool { return false }
	}
	return &Sweeper{
		root:      root,
		retention: retention,
		interval:  interval,
		dryRun:    dryRun,
		isActive:  isActive,
		logger:    logger,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// SweepOnce scans the staging root and removes expired job directories.
// Returns the number of directories removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.WarnContext(ctx, "staging sweep scan failed", "root", s.root, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-s.retention)
	removed := 0

	for _, e := range entries {
		if ctx.Err() != nil {
			return removed
		}
		if !e.IsDir() {
			continue
		}

		batchID := e.Name()
		if s.isActive(batchID) {
			continue
		}

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.root, batchID)
		if s.dryRun {
			s.logger.InfoContext(ctx, "staging sweep would remove directory", "batch_id", batchID)
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			s.logger.WarnContext(ctx, "staging sweep remove failed", "batch_id", batchID, "error", err)
			continue
		}
		s.logger.InfoContext(ctx, "removed aged staging directory", "batch_id", batchID, "age", time.Since(info.ModTime()).Round(time.Minute).String())
		removed++
	}

	return removed
}
