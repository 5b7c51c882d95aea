package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditPadRegistered           AuditEvent = "pad_registered"
	AuditKeyIssued               AuditEvent = "key_issued"
	AuditPadValidated            AuditEvent = "pad_validated"
	AuditPairingRejected         AuditEvent = "pairing_rejected"
	AuditSignatureReceived       AuditEvent = "signature_received"
	AuditSignatureCancelled      AuditEvent = "signature_cancelled"
	AuditAssertionRejected       AuditEvent = "assertion_rejected"
	AuditWebSocketRejected       AuditEvent = "ws_rejected"
	AuditWebSocketConnected      AuditEvent = "ws_connected"
	AuditVerificationRateLimited AuditEvent = "verification_rate_limited"
	AuditOperatorAuthFailure     AuditEvent = "operator_auth_failure"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	alerts  *alertCollector
	metrics *Metrics
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// emit writes the audit record and fans it out to alerting, metrics and
// the webhook when configured.
func (al *auditLogger) emit(level slog.Level, event AuditEvent, r *http.Request, attrs []slog.Attr) {
	now := time.Now().UTC()
	record := append([]slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}, attrs...)
	al.logger.LogAttrs(r.Context(), level, "audit", record...)

	al.alerts.recordEvent(event)
	if al.metrics != nil {
		al.metrics.auditEvents.WithLabelValues(string(event)).Inc()
	}
	if al.webhook != nil {
		al.webhook.enqueue(newWebhookEvent(event, r.RemoteAddr, now, attrs))
	}
}

// newWebhookEvent flattens attrs into the webhook payload, lifting pad_id
// to its own field.
func newWebhookEvent(event AuditEvent, remoteAddr string, at time.Time, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Event:      string(event),
		RemoteAddr: remoteAddr,
		Timestamp:  at.Format(time.RFC3339),
	}
	for _, a := range attrs {
		if a.Key == "pad_id" {
			evt.PadID = a.Value.String()
			continue
		}
		if evt.Attrs == nil {
			evt.Attrs = make(map[string]string, len(attrs))
		}
		evt.Attrs[a.Key] = a.Value.String()
	}
	return evt
}

// logPad records an action on a single pad.
func (al *auditLogger) logPad(event AuditEvent, r *http.Request, padID string, extra ...slog.Attr) {
	al.emit(slog.LevelInfo, event, r, append([]slog.Attr{padAttr(padID)}, extra...))
}

// logFailure records a rejected request at warn level.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.emit(slog.LevelWarn, event, r, append([]slog.Attr{slog.String("reason", reason)}, extra...))
}
