// Package archive compacts the receipt log on a schedule and ships retired
// segments off-box before deleting them. Receipts are never dropped by
// compaction; only superseded log records disappear, and the raw segments
// survive in the archive for audit.
package archive

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Destination is the interface for an archive target.
type Destination interface {
	// Store persists one retired segment under its file name.
	Store(ctx context.Context, name string, data []byte) error
}

// Compacter is the store surface the scheduler needs: compact the log and
// report the file paths of the segments that were retired.
type Compacter interface {
	Compact() ([]string, error)
}

// Scheduler periodically compacts the store and archives retired segments.
type Scheduler struct {
	store       Compacter
	destination Destination // nil = delete retired segments without archiving
	interval    time.Duration
	logger      *slog.Logger

	// pending holds retired segment paths whose upload or delete has not
	// succeeded yet. Compact reports each path once, so failures must be
	// carried here to be retried. Accessed only from the scheduler goroutine
	// (or CompactOnce callers, which are serialized with it).
	pending map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that compacts at the given interval.
func NewScheduler(store Compacter, dest Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:       store,
		destination: dest,
		interval:    interval,
		logger:      logger,
		pending:     make(map[string]struct{}),
	}
}

// Start begins periodic compaction.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current cycle (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CompactOnce(ctx)
		}
	}
}

// CompactOnce performs one compact-archive-delete cycle. A segment is deleted
// only after its archive upload succeeds; failed uploads keep the path in the
// pending set and are retried on the next cycle. Exposed for tests and the
// reconcile admin path.
func (s *Scheduler) CompactOnce(ctx context.Context) {
	retired, err := s.store.Compact()
	if err != nil {
		s.logger.Error("compaction failed", "err", err)
		return
	}
	for _, p := range retired {
		s.pending[p] = struct{}{}
	}

	archived, deleted := 0, 0
	for p := range s.pending {
		if s.destination != nil {
			data, err := os.ReadFile(p)
			if err != nil {
				if os.IsNotExist(err) {
					// Removed out of band; nothing left to archive.
					delete(s.pending, p)
				} else {
					s.logger.Error("reading retired segment failed", "path", p, "err", err)
				}
				continue
			}
			if err := s.destination.Store(ctx, filepath.Base(p), data); err != nil {
				s.logger.Error("archiving segment failed", "path", p, "err", err)
				continue
			}
			archived++
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing retired segment failed", "path", p, "err", err)
			continue
		}
		delete(s.pending, p)
		deleted++
	}

	s.logger.Info("compaction completed",
		"retired", len(retired), "archived", archived, "deleted", deleted)
}
