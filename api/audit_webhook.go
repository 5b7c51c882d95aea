package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// webhookQueueSize bounds the events waiting for delivery.
	webhookQueueSize = 1024
	// webhookAttempts is the number of POSTs per event; only 5xx and
	// transport errors are retried.
	webhookAttempts = 2
)

// webhookEvent is the JSON payload POSTed for each audit event.
type webhookEvent struct {
	Event      string            `json:"event"`
	PadID      string            `json:"pad_id,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an external collector. enqueue
// never blocks a request: when the queue is full the event is dropped.
type auditWebhook struct {
	url         string
	headerName  string
	headerValue string
	client      *http.Client
	retryDelay  time.Duration
	logger      *slog.Logger
	events      chan webhookEvent
	dropped     atomic.Int64
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// newAuditWebhook starts a dispatcher posting to url. header, if set, is a
// single "Name: value" request header such as an Authorization token.
func newAuditWebhook(url, header string, logger *slog.Logger) *auditWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &auditWebhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
		logger:     logger.With("component", "audit-webhook"),
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	if name, value, ok := strings.Cut(header, ":"); ok {
		w.headerName = strings.TrimSpace(name)
		w.headerValue = strings.TrimSpace(value)
	} else if header != "" {
		w.logger.Warn("ignoring malformed webhook header, want \"Name: value\"")
	}
	w.start()
	return w
}

func (w *auditWebhook) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for evt := range w.events {
			w.deliver(evt)
		}
	}()
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("queue full, dropping event", "event", evt.Event, "dropped_total", n)
	}
}

// close stops accepting events and waits until the queue is drained.
func (w *auditWebhook) close() {
	w.closeOnce.Do(func() {
		close(w.events)
		w.wg.Wait()
	})
}

func (w *auditWebhook) deliver(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "event", evt.Event, "error", err)
		return
	}
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		if !w.post(body, evt.Event, attempt) {
			return
		}
	}
}

// post sends one attempt and reports whether it is worth retrying.
func (w *auditWebhook) post(body []byte, event string, attempt int) (retry bool) {
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("request creation failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SignPad-Audit-Webhook/1.0")
	if w.headerName != "" {
		req.Header.Set(w.headerName, w.headerValue)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("request failed", "event", event, "attempt", attempt, "error", err)
		return true
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return false
	case resp.StatusCode >= 500:
		w.logger.Warn("collector error", "event", event, "status", resp.StatusCode, "attempt", attempt)
		return true
	default:
		w.logger.Warn("collector rejected event", "event", event, "status", resp.StatusCode)
		return false
	}
}
