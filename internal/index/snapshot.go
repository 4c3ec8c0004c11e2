package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptSnapshot is returned when a persisted snapshot cannot be decoded.
var ErrCorruptSnapshot = errors.New("corrupt index snapshot")

// SnapshotStore persists the whole index as a full-replace snapshot.
type SnapshotStore interface {
	// Load returns the last saved snapshot. A store that was never written
	// returns an empty map and no error.
	Load(ctx context.Context) (map[string]string, error)

	// Save replaces the stored snapshot with entries.
	Save(ctx context.Context, entries map[string]string) error

	// Close releases resources.
	Close() error
}

// JSONFile stores the snapshot as a flat JSON object at a fixed path.
type JSONFile struct {
	path string
}

// NewJSONFile returns a snapshot store writing to path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Load reads and decodes the snapshot file.
func (f *JSONFile) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return entries, nil
}

// Save writes entries to a temp file next to the snapshot and renames it into place.
func (f *JSONFile) Save(ctx context.Context, entries map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = map[string]string{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Close is a no-op for file snapshots.
func (f *JSONFile) Close() error {
	return nil
}
