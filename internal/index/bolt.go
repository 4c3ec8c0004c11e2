package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketFingerprints = []byte("fingerprints")

// BoltSnapshots stores the snapshot in a bbolt database, one key per fingerprint.
type BoltSnapshots struct {
	db *bolt.DB
}

// NewBoltSnapshots opens or creates a bbolt database at the given path.
func NewBoltSnapshots(dbPath string) (*BoltSnapshots, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFingerprints); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketFingerprints, err)
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSnapshots{db: db}, nil
}

// Load reads every fingerprint entry.
func (s *BoltSnapshots) Load(_ context.Context) (map[string]string, error) {
	entries := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprints)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			entries[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return entries, nil
}

// Save replaces the bucket contents with entries in a single transaction.
func (s *BoltSnapshots) Save(ctx context.Context, entries map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketFingerprints) != nil {
			if err := tx.DeleteBucket(bucketFingerprints); err != nil {
				return fmt.Errorf("clear snapshot: %w", err)
			}
		}
		b, err := tx.CreateBucket(bucketFingerprints)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketFingerprints, err)
		}
		for fp, name := range entries {
			if err := b.Put([]byte(fp), []byte(name)); err != nil {
				return fmt.Errorf("store entry %s: %w", fp, err)
			}
		}
		return nil
	})
}

// Close releases the bbolt database.
func (s *BoltSnapshots) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
