package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore records saves in memory.
type countingStore struct {
	mu    sync.Mutex
	saves int
	last  map[string]string
	err   error
}

func (s *countingStore) Load(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *countingStore) Save(ctx context.Context, entries map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.last = entries
	return nil
}

func (s *countingStore) Close() error { return nil }

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestFlusher_SkipsUnchanged(t *testing.T) {
	ix := New()
	store := &countingStore{}
	f := NewFlusher(ix, store, time.Hour, quietLogger())
	ctx := context.Background()

	require.NoError(t, f.Flush(ctx))
	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, 1, store.count(), "first flush always writes, second is a no-op")

	ix.Insert(fp("a"), "a.png")
	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, 2, store.count())
	assert.Equal(t, map[string]string{fp("a"): "a.png"}, store.last)
}

func TestFlusher_RetriesAfterFailure(t *testing.T) {
	ix := New()
	ix.Insert(fp("a"), "a.png")
	store := &countingStore{err: errors.New("disk full")}
	f := NewFlusher(ix, store, time.Hour, quietLogger())

	assert.Error(t, f.Flush(context.Background()))

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	require.NoError(t, f.Flush(context.Background()))
	assert.Equal(t, 1, store.count())
}

func TestFlusher_RunPeriodicAndFinal(t *testing.T) {
	ix := New()
	store := &countingStore{}
	f := NewFlusher(ix, store, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	ix.Insert(fp("a"), "a.png")
	assert.Eventually(t, func() bool { return store.count() >= 1 }, time.Second, 5*time.Millisecond)

	ix.Insert(fp("b"), "b.png")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2, "final flush captures the last mutation")
}

func TestFlusher_FinalFlushError(t *testing.T) {
	ix := New()
	store := &countingStore{err: errors.New("read-only filesystem")}
	f := NewFlusher(ix, store, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, f.Run(ctx))
}
