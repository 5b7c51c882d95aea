package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a webhook endpoint that answers with a scripted sequence of
// status codes (200 once the script runs out) and keeps every request.
type collector struct {
	mu       sync.Mutex
	statuses []int
	bodies   [][]byte
	headers  []http.Header
}

func newCollector(t *testing.T, statuses ...int) (*collector, *httptest.Server) {
	c := &collector{statuses: statuses}
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	c.headers = append(c.headers, r.Header.Clone())
	status := http.StatusOK
	if len(c.statuses) > 0 {
		status, c.statuses = c.statuses[0], c.statuses[1:]
	}
	w.WriteHeader(status)
}

func (c *collector) requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func testWebhook(url, header string) *auditWebhook {
	w := newAuditWebhook(url, header, slog.New(slog.DiscardHandler))
	w.retryDelay = time.Millisecond
	return w
}

func TestWebhook_DeliversPayload(t *testing.T) {
	c, srv := newCollector(t)
	wh := testWebhook(srv.URL, "")
	wh.enqueue(webhookEvent{
		Event:      "signature_received",
		PadID:      "pad-42",
		RemoteAddr: "10.0.0.1:5555",
		Timestamp:  "2025-06-15T12:00:00Z",
		Attrs:      map[string]string{"subject": "user-7"},
	})
	wh.close()

	require.Equal(t, 1, c.requests())
	assert.Equal(t, "application/json", c.headers[0].Get("Content-Type"))
	assert.Equal(t, "SignPad-Audit-Webhook/1.0", c.headers[0].Get("User-Agent"))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(c.bodies[0], &parsed))
	assert.Equal(t, "signature_received", parsed["event"])
	assert.Equal(t, "pad-42", parsed["pad_id"])
	assert.Equal(t, "10.0.0.1:5555", parsed["remote_addr"])
	assert.Equal(t, "2025-06-15T12:00:00Z", parsed["timestamp"])
	assert.Equal(t, map[string]any{"subject": "user-7"}, parsed["attrs"])
}

func TestWebhook_OmitsEmptyFields(t *testing.T) {
	c, srv := newCollector(t)
	wh := testWebhook(srv.URL, "")
	wh.enqueue(webhookEvent{Event: "operator_auth_failure", Timestamp: "2025-06-15T12:00:00Z"})
	wh.close()

	require.Equal(t, 1, c.requests())
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(c.bodies[0], &parsed))
	assert.NotContains(t, parsed, "pad_id")
	assert.NotContains(t, parsed, "attrs")
}

func TestWebhook_RetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		want     int
	}{
		{"success", []int{http.StatusNoContent}, 1},
		{"server error retried once", []int{http.StatusBadGateway}, 2},
		{"gives up after two server errors", []int{http.StatusInternalServerError, http.StatusInternalServerError}, webhookAttempts},
		{"client error not retried", []int{http.StatusBadRequest}, 1},
		{"unauthorized not retried", []int{http.StatusUnauthorized}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newCollector(t, tt.statuses...)
			wh := testWebhook(srv.URL, "")
			wh.enqueue(webhookEvent{Event: "pad_registered", Timestamp: "2025-01-01T00:00:00Z"})
			wh.close()
			assert.Equal(t, tt.want, c.requests())
		})
	}
}

func TestWebhook_TransportErrorDoesNotBlockQueue(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	wh := testWebhook(dead.URL, "")
	wh.enqueue(webhookEvent{Event: "pad_registered", Timestamp: "2025-01-01T00:00:00Z"})
	wh.enqueue(webhookEvent{Event: "pad_registered", Timestamp: "2025-01-01T00:00:01Z"})

	closed := make(chan struct{})
	go func() {
		wh.close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
}

func TestWebhook_ExtraHeader(t *testing.T) {
	c, srv := newCollector(t)
	wh := testWebhook(srv.URL, "Authorization:  Bearer my-token-123 ")
	wh.enqueue(webhookEvent{Event: "pad_validated", Timestamp: "2025-01-01T00:00:00Z"})
	wh.close()

	require.Equal(t, 1, c.requests())
	assert.Equal(t, "Bearer my-token-123", c.headers[0].Get("Authorization"))
}

func TestWebhook_MalformedHeaderIgnored(t *testing.T) {
	c, srv := newCollector(t)
	wh := testWebhook(srv.URL, "Bearer no-colon")
	assert.Empty(t, wh.headerName)
	wh.enqueue(webhookEvent{Event: "pad_validated", Timestamp: "2025-01-01T00:00:00Z"})
	wh.close()

	require.Equal(t, 1, c.requests())
	assert.Empty(t, c.headers[0].Get("Authorization"))
}

func TestWebhook_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	unblock := sync.OnceFunc(func() { close(release) })
	t.Cleanup(unblock)

	wh := &auditWebhook{
		url:        srv.URL,
		client:     &http.Client{Timeout: 5 * time.Second},
		retryDelay: time.Millisecond,
		logger:     slog.New(slog.DiscardHandler),
		events:     make(chan webhookEvent, 2),
	}
	wh.start()

	done := make(chan struct{})
	go func() {
		for range 10 {
			wh.enqueue(webhookEvent{Event: "flood", Timestamp: "2025-01-01T00:00:00Z"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	// One event may be in flight, two queued; the rest are dropped.
	assert.GreaterOrEqual(t, wh.dropped.Load(), int64(7))

	unblock()
	wh.close()
}

func TestWebhook_CloseDrainsQueue(t *testing.T) {
	c, srv := newCollector(t)
	wh := testWebhook(srv.URL, "")
	for range 5 {
		wh.enqueue(webhookEvent{Event: "drain_test", Timestamp: "2025-01-01T00:00:00Z"})
	}
	wh.close()
	wh.close()

	assert.Equal(t, 5, c.requests())
}

func TestNewWebhookEventLiftsPadID(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	evt := newWebhookEvent(AuditPadValidated, "10.0.0.1:5555", at, []slog.Attr{
		padAttr("pad-42"),
		slog.String("kid", "pad-42-1"),
	})
	assert.Equal(t, webhookEvent{
		Event:      "pad_validated",
		PadID:      "pad-42",
		RemoteAddr: "10.0.0.1:5555",
		Timestamp:  "2025-06-15T12:00:00Z",
		Attrs:      map[string]string{"kid": "pad-42-1"},
	}, evt)

	assert.Nil(t, newWebhookEvent(AuditPadRegistered, "", at, []slog.Attr{padAttr("pad-42")}).Attrs)
}
