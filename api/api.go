// Package api exposes the pad registry, the pad session channel and the
// signature correlation engine over HTTP and WebSocket.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/signpad/auth"
	"github.com/jmcleod/signpad/correlation"
	"github.com/jmcleod/signpad/pad"
	"github.com/jmcleod/signpad/session"
	"github.com/jmcleod/signpad/signature"
	"github.com/jmcleod/signpad/storage"
)

// API holds the dependencies needed by the REST and WebSocket handlers.
type API struct {
	repo     storage.Repository
	pads     *pad.Registry
	auth     *auth.Authenticator
	sessions *session.Registry
	engine   *correlation.Engine
	archive  *signature.Archive

	audit    *auditLogger
	limiter  *verificationLimiter
	metrics  *Metrics
	upgrader websocket.Upgrader
	logger   *slog.Logger

	registerer    prometheus.Registerer
	alertFn       AlertFunc
	webhookURL    string
	webhookHeader string
	webhook       *auditWebhook
	operatorToken string
	waitTimeout   time.Duration
	baseURL       string
	keyBits       int
	origins       []string
}

//go:embed openapi.yaml
var openapiDoc []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for the API and its components.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithOperatorToken requires operator routes to present the given bearer
// token. An empty token leaves them open.
func WithOperatorToken(token string) Option {
	return func(a *API) {
		a.operatorToken = token
	}
}

// WithWaitTimeout sets how long wait-for-response blocks before reporting
// a timeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(a *API) {
		a.waitTimeout = d
	}
}

// WithBaseURL sets the externally visible base URL reported to pads when
// a key pair is issued.
func WithBaseURL(u string) Option {
	return func(a *API) {
		a.baseURL = u
	}
}

// WithMetricsRegisterer enables Prometheus instrumentation on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(a *API) {
		a.registerer = reg
	}
}

// WithAlertFunc sets the callback for anomaly alerts such as spikes of
// rejected pad assertions.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook forwards every audit event to url. header, if set, is a
// single "Name: value" request header.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// WithKeyBits overrides the RSA modulus size of issued pad keys.
func WithKeyBits(bits int) Option {
	return func(a *API) {
		a.keyBits = bits
	}
}

// WithAllowedOrigins restricts the Origin headers accepted on the pad
// WebSocket. Pads run as separate device apps, so by default any origin is
// accepted and pad identity rests on the subprotocol check alone. "*"
// in the list also accepts any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) {
		a.origins = origins
	}
}

// New creates a new API instance persisting to repo.
func New(repo storage.Repository, opts ...Option) *API {
	a := &API{
		repo:        repo,
		waitTimeout: correlation.DefaultTimeout,
		keyBits:     pad.DefaultKeyBits,
		limiter:     newVerificationLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.alerts = newAlertCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
		a.audit.webhook = a.webhook
	}

	a.pads = pad.NewRegistry(pad.NewRepositoryStore(repo),
		pad.WithLogger(a.logger), pad.WithKeyBits(a.keyBits))
	a.auth = auth.New(a.pads, auth.WithLogger(a.logger))
	a.archive = signature.NewArchive(repo, signature.WithLogger(a.logger))
	a.sessions = session.NewRegistry(session.WithLogger(a.logger))
	a.engine = correlation.NewEngine(a.sessions,
		correlation.WithLogger(a.logger),
		correlation.WithDefaultTimeout(a.waitTimeout),
		correlation.WithObserver(a.observeWait))

	if a.registerer != nil {
		a.metrics = newMetrics(a.registerer, a.sessions.Len, a.engine.Pending)
		a.audit.metrics = a.metrics
	}

	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{padProtocol},
		CheckOrigin:     originChecker(a.origins),
	}
	return a
}

// Pads returns the pad registry the API serves.
func (a *API) Pads() *pad.Registry { return a.pads }

// Sessions returns the live pad session registry.
func (a *API) Sessions() *session.Registry { return a.sessions }

// Engine returns the correlation engine.
func (a *API) Engine() *correlation.Engine { return a.engine }

// Run drives background work until ctx is done: the heartbeat broadcast
// (when heartbeat is positive) and periodic limiter cleanup.
func (a *API) Run(ctx context.Context, heartbeat time.Duration) {
	if heartbeat > 0 {
		go a.sessions.RunHeartbeat(ctx, heartbeat)
	}
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.sweep()
		}
	}
}

// Close stops the audit webhook dispatcher, flushing queued events.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiDoc)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)

		// Operator routes.
		r.Group(func(r chi.Router) {
			r.Use(a.OperatorAuth)
			r.Post("/pads", a.RegisterPad)
			r.Get("/pads", a.ListPads)
			r.Get("/pads/{padID}", a.GetPad)
			r.Post("/pads/{padID}/keys", a.IssueKeyPair)
			r.Get("/pads/{padID}/audit", a.ListPadAudit)

			r.Get("/signature-pad/show", a.ShowPad)
			r.Get("/signature-pad/hide", a.HidePad)
			r.Get("/signature-pad/wait-for-response", a.WaitForResponse)

			r.Get("/signatures", a.ListSignatures)
			r.Get("/signatures/{subject}", a.GetSignature)
		})

		// Pad-facing routes, authenticated by the pad's own assertions.
		r.Post("/signature-pad/validate", a.ValidatePad)
		r.Post("/signature-pad/signature", a.ReceiveSignature)
		r.Post("/signature-pad/cancel", a.CancelSignature)
		r.Get("/signature-pad/ws", a.PadWebSocket)
	})

	return r
}

func (a *API) observeWait(padID string, o correlation.Outcome, waited time.Duration) {
	if a.metrics != nil {
		a.metrics.observeWait(o.Kind, waited)
	}
}
