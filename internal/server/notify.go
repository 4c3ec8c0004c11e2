package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Notification events.
const (
	EventUpload    = "upload"
	EventDelete    = "delete"
	EventDeleteAll = "delete_all"
)

// NotifyEvent is the payload POSTed to notification URLs.
type NotifyEvent struct {
	Event       string `json:"event"`
	Filename    string `json:"filename,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// NotifierConfig holds the notification targets.
type NotifierConfig struct {
	URLs []string

	// Backoff is the base delay between retries. Zero means one second.
	Backoff time.Duration
}

// Notifier sends store changes to configured URLs.
type Notifier struct {
	urls    []string
	backoff time.Duration
	client  *http.Client
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a notifier. Returns nil if no URLs are configured.
func NewNotifier(cfg *NotifierConfig, logger *slog.Logger) *Notifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Notifier{
		urls:    cfg.URLs,
		backoff: backoff,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Notify delivers an event asynchronously. A nil notifier does nothing.
func (n *Notifier) Notify(event, filename, fingerprint string) {
	if n == nil {
		return
	}

	ev := &NotifyEvent{
		Event:       event,
		Filename:    filename,
		Fingerprint: fingerprint,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(ev)
	}()
}

// Wait blocks until every pending delivery has finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) send(ev *NotifyEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("notify: marshal event", "error", err)
		return
	}

	for _, url := range n.urls {
		if err := n.post(url, data); err != nil {
			n.logger.Warn("notify: delivery failed", "url", url, "event", ev.Event, "error", err)
		} else {
			n.logger.Debug("notify: delivered", "url", url, "event", ev.Event)
		}
	}
}

// post sends a single POST with up to 2 retries on transport errors and 5xx.
func (n *Notifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * n.backoff)
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "imgdedup/1.0")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr
		}
	}

	return lastErr
}
