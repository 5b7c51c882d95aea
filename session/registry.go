// Package session tracks live pad connections and pushes events to them.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/signpad/internal/uuid"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("session closed")

// Conn is a single live connection to a pad.
type Conn interface {
	ID() string
	IsOpen() bool
	Send(data []byte) error
	Close() error
}

type entry struct {
	conn  Conn
	padID string
}

// Registry maps session IDs to open connections and the pad each is bound
// to. Sends happen outside the lock on a snapshot, so a slow or failing
// session never blocks Connect or Disconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]entry
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]entry),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "session-registry")
	return r
}

// Connect binds conn to padID. Connections without a well-formed pad ID are
// not tracked and Connect reports false.
func (r *Registry) Connect(conn Conn, padID string) bool {
	if !uuid.Valid(padID) {
		r.logger.Warn("refusing to track session without pad id", "session_id", conn.ID())
		return false
	}
	r.mu.Lock()
	r.sessions[conn.ID()] = entry{conn: conn, padID: padID}
	n := len(r.sessions)
	r.mu.Unlock()
	r.logger.Info("session connected", "session_id", conn.ID(), "pad_id", padID, "sessions", n)
	return true
}

// Disconnect forgets a session. Unknown IDs are ignored.
func (r *Registry) Disconnect(sessionID string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		r.logger.Info("session disconnected", "session_id", sessionID, "pad_id", e.padID)
	}
}

// Broadcast sends ev to every open session.
func (r *Registry) Broadcast(ev Event) {
	r.send(ev, func(entry) bool { return true })
}

// SendTo sends ev to every open session bound to padID and returns how many
// sessions it was delivered to.
func (r *Registry) SendTo(ev Event, padID string) int {
	return r.send(ev, func(e entry) bool { return e.padID == padID })
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountFor returns the number of tracked sessions bound to padID.
func (r *Registry) CountFor(padID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.padID == padID {
			n++
		}
	}
	return n
}

func (r *Registry) send(ev Event, match func(entry) bool) int {
	data, err := ev.Marshal()
	if err != nil {
		r.logger.Error("encoding event", "event", ev.Kind, "error", err)
		return 0
	}

	r.mu.RLock()
	targets := make([]entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		if match(e) {
			targets = append(targets, e)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, e := range targets {
		if !e.conn.IsOpen() {
			r.evict(e)
			continue
		}
		if err := e.conn.Send(data); err != nil {
			r.logger.Warn("sending event failed", "session_id", e.conn.ID(), "pad_id", e.padID, "event", ev.Kind, "error", err)
			if !e.conn.IsOpen() {
				r.evict(e)
			}
			continue
		}
		delivered++
	}
	return delivered
}

// evict removes a closed session, unless it has since been replaced.
func (r *Registry) evict(e entry) {
	id := e.conn.ID()
	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && cur.conn == e.conn {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	r.logger.Debug("evicted closed session", "session_id", id, "pad_id", e.padID)
}

// RunHeartbeat broadcasts a heartbeat event every interval until ctx is
// done.
func (r *Registry) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Broadcast(NewEvent(KindHeartbeat, ""))
		}
	}
}
