package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Nrfhsa/Image-To-URL/internal/blobstore"
)

// OpenOptions configures Open.
type OpenOptions struct {
	Blobs     blobstore.BlobStore
	Snapshots SnapshotStore
	Workers   int
	Logger    *slog.Logger
}

// OpenResult reports what the startup passes found.
type OpenResult struct {
	Reconcile *ReconcileResult
	Restored  int
	Pruned    int
}

// Open builds a ready index: reconcile against the blob store, overlay the
// persisted snapshot, then drop entries whose file no longer exists.
// A corrupt snapshot is logged and ignored; the scan result stands alone.
func Open(ctx context.Context, opts OpenOptions) (*Index, *OpenResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ix := New()
	rec, err := ix.Reconcile(ctx, opts.Blobs, opts.Workers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: %w", err)
	}
	result := &OpenResult{Reconcile: rec}

	if opts.Snapshots != nil {
		snapshot, err := opts.Snapshots.Load(ctx)
		switch {
		case errors.Is(err, ErrCorruptSnapshot):
			logger.Error("ignoring unreadable index snapshot", "error", err)
		case err != nil:
			return nil, nil, fmt.Errorf("load snapshot: %w", err)
		default:
			result.Restored = ix.Restore(snapshot)
		}
	}

	pruned, err := ix.Prune(ctx, opts.Blobs, logger)
	if err != nil {
		return nil, nil, err
	}
	result.Pruned = pruned

	logger.Info("index ready",
		"files_scanned", rec.Scanned,
		"files_skipped", rec.Skipped,
		"snapshot_entries", result.Restored,
		"pruned", result.Pruned,
		"entries", ix.Len(),
	)
	return ix, result, nil
}

// Prune removes entries whose backing file is missing and returns how many were dropped.
func (ix *Index) Prune(ctx context.Context, blobs blobstore.BlobStore, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, _ := ix.Snapshot()
	pruned := 0
	for fp, name := range entries {
		has, err := blobs.Has(ctx, name)
		if err != nil {
			return pruned, fmt.Errorf("check blob %s: %w", name, err)
		}
		if has {
			continue
		}
		if !ix.RemoveIf(fp, name) {
			continue
		}
		pruned++
		logger.Warn("dropping index entry without backing file", "filename", name, "fingerprint", fp)
	}
	return pruned, nil
}
