package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotifier_NilConfig(t *testing.T) {
	assert.Nil(t, NewNotifier(nil, quietLogger()))
	assert.Nil(t, NewNotifier(&NotifierConfig{}, quietLogger()))
}

func TestNotifier_NilReceiver(t *testing.T) {
	var n *Notifier
	n.Notify(EventUpload, "a.png", "fp")
	n.Wait()
}

func TestNotifier_Delivers(t *testing.T) {
	var mu sync.Mutex
	var received []NotifyEvent

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev NotifyEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	}))
	defer ts.Close()

	n := NewNotifier(&NotifierConfig{URLs: []string{ts.URL, ts.URL}}, quietLogger())
	require.NotNil(t, n)

	n.Notify(EventDelete, "abc.png", "abc")
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, EventDelete, received[0].Event)
	assert.Equal(t, "abc.png", received[0].Filename)
	assert.Equal(t, "abc", received[0].Fingerprint)
	_, err := time.Parse(time.RFC3339, received[0].Timestamp)
	assert.NoError(t, err)
}

func TestNotifier_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := NewNotifier(&NotifierConfig{URLs: []string{ts.URL}, Backoff: time.Millisecond}, quietLogger())
	n.Notify(EventUpload, "a.png", "a")
	n.Wait()

	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifier_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	n := NewNotifier(&NotifierConfig{URLs: []string{ts.URL}, Backoff: time.Millisecond}, quietLogger())
	n.Notify(EventDeleteAll, "", "")
	n.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
