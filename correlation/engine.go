// Package correlation pairs an operator's wait for a pad response with the
// response itself. At most one wait is active per pad; a newer wait
// supersedes the older one. Every wait ends with exactly one Outcome.
package correlation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmcleod/signpad/session"
)

// DefaultTimeout is used when Wait is given a non-positive timeout.
const DefaultTimeout = 180 * time.Second

// Notifier pushes events to the sessions of a pad. *session.Registry
// satisfies it.
type Notifier interface {
	SendTo(ev session.Event, padID string) int
}

// Observer is called once per finished wait.
type Observer func(padID string, o Outcome, waited time.Duration)

type pendingWait struct {
	padID    string
	started  time.Time
	resolved atomic.Bool
	done     chan Outcome
	timer    *time.Timer
}

// resolve delivers o unless the wait already has an outcome. Callers hold
// Engine.mu.
func (w *pendingWait) resolve(o Outcome) bool {
	if !w.resolved.CompareAndSwap(false, true) {
		return false
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.done <- o
	return true
}

// Engine tracks the active wait of each pad.
type Engine struct {
	mu    sync.Mutex
	waits map[string]*pendingWait

	notifier       Notifier
	observer       Observer
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithObserver registers a callback invoked for every finished wait.
func WithObserver(fn Observer) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// NewEngine returns an Engine that sends hide events through n when a wait
// times out. n may be nil.
func NewEngine(n Notifier, opts ...Option) *Engine {
	e := &Engine{
		waits:          make(map[string]*pendingWait),
		notifier:       n,
		defaultTimeout: DefaultTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "correlation")
	return e
}

// Wait blocks until the pad responds, the timeout fires, a newer Wait for
// the same pad supersedes this one, or ctx is done. The result is always
// returned as an Outcome.
func (e *Engine) Wait(ctx context.Context, padID string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	w := &pendingWait{
		padID:   padID,
		started: time.Now(),
		done:    make(chan Outcome, 1),
	}

	e.mu.Lock()
	prev, hadPrev := e.waits[padID]
	superseded := hadPrev && e.finishLocked(prev, Outcome{Kind: Superseded})
	w.timer = time.AfterFunc(timeout, func() { e.expire(w) })
	e.waits[padID] = w
	e.mu.Unlock()
	if superseded {
		e.finished(prev, Outcome{Kind: Superseded})
	}

	select {
	case o := <-w.done:
		return o
	case <-ctx.Done():
		e.finish(w, Outcome{Kind: Error, Err: ctx.Err()})
		// Either our outcome or a concurrent one is now buffered.
		return <-w.done
	}
}

// ResolveSignature completes the pad's wait with OK and the signature
// payload. It reports false when no wait is pending.
func (e *Engine) ResolveSignature(padID, payload string) bool {
	return e.resolvePad(padID, Outcome{Kind: OK, Payload: payload})
}

// ResolveCancel completes the pad's wait with Cancel.
func (e *Engine) ResolveCancel(padID string) bool {
	return e.resolvePad(padID, Outcome{Kind: Cancel})
}

// ResolveError completes the pad's wait with Error.
func (e *Engine) ResolveError(padID string, err error) bool {
	return e.resolvePad(padID, Outcome{Kind: Error, Err: err})
}

// Pending returns the number of active waits.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waits)
}

// IsPending reports whether padID has an active wait.
func (e *Engine) IsPending(padID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.waits[padID]
	return ok
}

func (e *Engine) resolvePad(padID string, o Outcome) bool {
	e.mu.Lock()
	w, ok := e.waits[padID]
	resolved := ok && e.finishLocked(w, o)
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("no pending wait", "pad_id", padID, "outcome", o.Kind)
		return false
	}
	if resolved {
		e.finished(w, o)
	}
	return resolved
}

// finish removes w from the active set, if it is still the active wait for
// its pad, and delivers o.
func (e *Engine) finish(w *pendingWait, o Outcome) bool {
	e.mu.Lock()
	resolved := e.finishLocked(w, o)
	e.mu.Unlock()
	if resolved {
		e.finished(w, o)
	}
	return resolved
}

func (e *Engine) finishLocked(w *pendingWait, o Outcome) bool {
	if cur, ok := e.waits[w.padID]; ok && cur == w {
		delete(e.waits, w.padID)
	}
	return w.resolve(o)
}

func (e *Engine) finished(w *pendingWait, o Outcome) {
	e.logger.Info("wait finished", "pad_id", w.padID, "outcome", o.String())
	e.observe(w, o)
}

func (e *Engine) expire(w *pendingWait) {
	if !e.finish(w, Outcome{Kind: Timeout}) {
		return
	}
	if e.notifier != nil {
		n := e.notifier.SendTo(session.NewEvent(session.KindHide, "hide"), w.padID)
		e.logger.Debug("hide sent after timeout", "pad_id", w.padID, "sessions", n)
	}
}

func (e *Engine) observe(w *pendingWait, o Outcome) {
	if e.observer != nil {
		e.observer(w.padID, o, time.Since(w.started))
	}
}
