package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() map[string]string {
	return map[string]string{
		fp("a"): fp("a") + ".png",
		fp("b"): fp("b") + ".jpg",
	}
}

func snapshotStores(t *testing.T) map[string]SnapshotStore {
	t.Helper()
	dir := t.TempDir()
	bolt, err := NewBoltSnapshots(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]SnapshotStore{
		"json": NewJSONFile(filepath.Join(dir, "nested", "file-hash-map.json")),
		"bolt": bolt,
	}
}

func TestSnapshotStore_EmptyLoad(t *testing.T) {
	for name, store := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	for name, store := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, sampleEntries()))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, sampleEntries(), got)
		})
	}
}

func TestSnapshotStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	for name, store := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, sampleEntries()))
			require.NoError(t, store.Save(ctx, map[string]string{fp("c"): "c.gif"}))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{fp("c"): "c.gif"}, got)
		})
	}
}

func TestSnapshotStore_SaveEmpty(t *testing.T) {
	ctx := context.Background()
	for name, store := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, sampleEntries()))
			require.NoError(t, store.Save(ctx, nil))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSnapshotStore_CancelledSave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, store := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Save(ctx, sampleEntries()), context.Canceled)
		})
	}
}

func TestJSONFile_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	store := NewJSONFile(path)
	require.NoError(t, store.Save(context.Background(), map[string]string{fp("a"): "a.png"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"`+fp("a")+`":"a.png"}`, string(data))
	assert.Contains(t, string(data), "\n  \"", "snapshot is indented for humans")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestJSONFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewJSONFile(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestBoltSnapshots_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	store, err := NewBoltSnapshots(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleEntries()))
	require.NoError(t, store.Close())

	store, err = NewBoltSnapshots(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleEntries(), got)
}
