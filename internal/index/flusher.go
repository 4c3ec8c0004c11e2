package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushInterval matches the historical five minute save cadence.
const DefaultFlushInterval = 5 * time.Minute

// Flusher writes index snapshots to a SnapshotStore, periodically and on demand.
// Saves are serialized so an older snapshot never overwrites a newer one.
type Flusher struct {
	index    *Index
	store    SnapshotStore
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	saved uint64
	ever  bool
}

// NewFlusher creates a flusher for ix.
func NewFlusher(ix *Index, store SnapshotStore, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{index: ix, store: store, interval: interval, logger: logger}
}

// Flush saves the current snapshot unless it has not changed since the last save.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, version := f.index.Snapshot()
	if f.ever && version == f.saved {
		return nil
	}
	if err := f.store.Save(ctx, entries); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	f.saved = version
	f.ever = true
	f.logger.Debug("index snapshot saved", "entries", len(entries), "version", version)
	return nil
}

// Run flushes every interval until ctx is done, then performs a final flush
// and returns its error. Callers wait on Run to know shutdown flushing finished.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final save must not inherit it.
			if err := f.Flush(context.WithoutCancel(ctx)); err != nil {
				f.logger.Error("final snapshot flush failed", "error", err)
				return err
			}
			f.logger.Info("index snapshot flushed", "entries", f.index.Len())
			return nil
		case <-ticker.C:
			if err := f.Flush(ctx); err != nil {
				f.logger.Error("periodic snapshot flush failed", "error", err)
			}
		}
	}
}
