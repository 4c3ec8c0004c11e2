package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Nrfhsa/Image-To-URL/internal/blobstore"
	"github.com/Nrfhsa/Image-To-URL/internal/fingerprint"
)

// DefaultReconcileWorkers bounds concurrent file hashing during reconciliation.
const DefaultReconcileWorkers = 4

// ReconcileResult summarizes a reconciliation pass.
type ReconcileResult struct {
	Scanned int
	Indexed int
	Skipped int
}

// Reconcile hashes every file currently in blobs and inserts (fingerprint, name)
// for each. Files that cannot be read are logged and skipped. When several files
// share content, the canonical "<fingerprint><ext>" name is preferred.
func (ix *Index) Reconcile(ctx context.Context, blobs blobstore.BlobStore, workers int, logger *slog.Logger) (*ReconcileResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultReconcileWorkers
	}

	infos, err := blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	sums := make([]string, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, info := range infos {
		g.Go(func() error {
			fp, err := hashBlob(gctx, blobs, info.Name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("reconcile: skipping unreadable file", "filename", info.Name, "error", err)
				return nil
			}
			sums[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ReconcileResult{Scanned: len(infos)}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, info := range infos {
		fp := sums[i]
		if fp == "" {
			result.Skipped++
			continue
		}
		if existing, ok := ix.entries[fp]; ok && existing != info.Name && isCanonical(fp, existing) {
			logger.Debug("reconcile: duplicate content", "filename", info.Name, "canonical", existing)
			continue
		}
		ix.insertLocked(fp, info.Name)
		result.Indexed++
	}
	if result.Indexed > 0 {
		ix.version++
	}

	return result, nil
}

func hashBlob(ctx context.Context, blobs blobstore.BlobStore, name string) (string, error) {
	r, err := blobs.Read(ctx, name)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return fingerprint.Reader(r)
}

func isCanonical(fp, name string) bool {
	return strings.HasPrefix(name, fp)
}
