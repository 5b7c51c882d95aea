package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/signpad/auth"
	"github.com/jmcleod/signpad/pad"
	"github.com/jmcleod/signpad/session"
	"github.com/jmcleod/signpad/signature"
)

// maxAssertionBytes bounds a pad assertion body. Signature assertions carry
// PNG and SVG renderings of the signature.
const maxAssertionBytes = 4 << 20

var errMissingSignature = fmt.Errorf("%w: assertion carries no sigpng claim", pad.ErrBadRequest)

func readAssertion(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAssertionBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", pad.ErrBadRequest, err)
	}
	if len(body) > maxAssertionBytes {
		return "", fmt.Errorf("%w: assertion too large", pad.ErrBadRequest)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: empty assertion", pad.ErrBadRequest)
	}
	return token, nil
}

// assertion is a verified request from a pad.
type assertion struct {
	pad    *pad.Pad
	claims *auth.Claims
	token  string
}

// verifiedAssertion runs the pad-facing handshake: rate limit, pad lookup,
// assertion verification. On failure it has already written the response
// and returns nil.
func (a *API) verifiedAssertion(w http.ResponseWriter, r *http.Request, requireValidated bool) *assertion {
	padID, ok := padIDFromHeader(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing "+padHeader+" header")
		return nil
	}
	if blocked, retryAfter := a.limiter.check(padID); blocked {
		a.audit.logPad(AuditVerificationRateLimited, r, padID)
		writeRateLimited(w, retryAfter)
		return nil
	}
	p, err := a.auth.Authenticate(r.Context(), padID, requireValidated)
	if err != nil {
		a.audit.logFailure(AuditAssertionRejected, r, err.Error(), padAttr(padID))
		mapError(w, err)
		return nil
	}
	token, err := readAssertion(r)
	if err != nil {
		mapError(w, err)
		return nil
	}
	claims, err := a.auth.VerifyAssertion(p, token)
	if err != nil {
		a.limiter.recordFailure(p.ID)
		a.audit.logFailure(AuditAssertionRejected, r, err.Error(), padAttr(p.ID))
		if requireValidated && errors.Is(err, auth.ErrMalformedAssertion) {
			a.engine.ResolveError(p.ID, err)
		}
		mapError(w, err)
		return nil
	}
	a.limiter.recordSuccess(p.ID)
	return &assertion{pad: p, claims: claims, token: token}
}

// ValidatePad handles POST /signature-pad/validate. The body is an RS256
// assertion signed with the issued private key whose claims report the
// matching public JWK and the device's client environment.
func (a *API) ValidatePad(w http.ResponseWriter, r *http.Request) {
	as := a.verifiedAssertion(w, r, false)
	if as == nil {
		return
	}
	p := as.pad
	pairing := as.claims.Pairing()
	if len(pairing.PublicJWK) == 0 {
		a.audit.logFailure(AuditPairingRejected, r, "publicJwk claim missing", padAttr(p.ID))
		writeError(w, http.StatusBadRequest, "publicJwk claim is required")
		return
	}
	if _, _, err := auth.ParsePublicJWK(pairing.PublicJWK); err != nil {
		a.audit.logFailure(AuditPairingRejected, r, err.Error(), padAttr(p.ID))
		writeError(w, http.StatusBadRequest, "JWK is not an RSA public key")
		return
	}
	if !auth.SameKey(p.VerificationKey(), pairing.PublicJWK) {
		a.audit.logFailure(AuditPairingRejected, r, "reported key does not match issued key", padAttr(p.ID))
		writeError(w, http.StatusBadRequest, "reported public key does not match the issued key")
		return
	}

	validated, err := a.pads.ConfirmValidation(r.Context(), p.ID, pairing.PublicJWK, pairing.ClientEnvironment)
	if err != nil {
		a.audit.logFailure(AuditPairingRejected, r, err.Error(), padAttr(p.ID))
		mapError(w, err)
		return
	}
	a.audit.logPad(AuditPadValidated, r, validated.ID, slog.String("kid", validated.KeyID()))
	a.appendAuditEntry(r.Context(), validated.ID, auditActionValidated, map[string]string{"kid": validated.KeyID()})
	writeJSON(w, http.StatusOK, a.padResponse(validated))
}

// ReceiveSignature handles POST /signature-pad/signature. The verified
// assertion is archived under its subject and the pad's pending wait, if
// any, is resolved with the PNG rendering.
func (a *API) ReceiveSignature(w http.ResponseWriter, r *http.Request) {
	as := a.verifiedAssertion(w, r, true)
	if as == nil {
		return
	}
	p := as.pad
	sig := as.claims.Signature()
	if sig.PNG == "" {
		a.audit.logFailure(AuditAssertionRejected, r, errMissingSignature.Error(), padAttr(p.ID))
		a.engine.ResolveError(p.ID, errMissingSignature)
		mapError(w, errMissingSignature)
		return
	}
	if sig.Issuer != "" && sig.Issuer != p.ID {
		a.logger.Warn("signature issuer differs from pad", "pad_id", p.ID, "iss", sig.Issuer)
	}

	if sig.Subject != "" {
		err := a.archive.Store(r.Context(), &signature.Record{
			Subject:  sig.Subject,
			PadID:    p.ID,
			PadName:  sig.PadName,
			Name:     sig.Name,
			Mail:     sig.Mail,
			Token:    as.token,
			IssuedAt: sig.IssuedAt,
		})
		if err != nil {
			a.logger.Error("archiving signature", "pad_id", p.ID, "subject", sig.Subject, "error", err)
		}
	} else {
		a.logger.Warn("signature without subject not archived", "pad_id", p.ID)
	}

	resolved := a.engine.ResolveSignature(p.ID, sig.PNG)
	a.audit.logPad(AuditSignatureReceived, r, p.ID,
		slog.String("subject", sig.Subject),
		slog.Bool("waiting", resolved))
	a.appendAuditEntry(r.Context(), p.ID, auditActionSignatureReceived, map[string]string{"subject": sig.Subject})
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// CancelSignature handles POST /signature-pad/cancel, sent when the user
// presses cancel on the pad.
func (a *API) CancelSignature(w http.ResponseWriter, r *http.Request) {
	padID, ok := padIDFromHeader(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing "+padHeader+" header")
		return
	}
	p, err := a.auth.Authenticate(r.Context(), padID, true)
	if err != nil {
		mapError(w, err)
		return
	}
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resolved := a.engine.ResolveCancel(p.ID)
	a.audit.logPad(AuditSignatureCancelled, r, p.ID, slog.Bool("waiting", resolved))
	a.appendAuditEntry(r.Context(), p.ID, auditActionSignatureCancelled, nil)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// PadWebSocket handles GET /signature-pad/ws. The pad identifies itself
// through the subprotocol list "SIGNATURE_PAD_UUID, <padID>"; only
// validated pads are upgraded.
func (a *API) PadWebSocket(w http.ResponseWriter, r *http.Request) {
	padID, ok := padIDFromSubprotocol(r)
	if !ok {
		a.audit.logFailure(AuditWebSocketRejected, r, "missing pad subprotocol")
		writeError(w, http.StatusUnauthorized, "missing "+padProtocol+" subprotocol")
		return
	}
	p, err := a.auth.Authenticate(r.Context(), padID, true)
	if err != nil {
		a.audit.logFailure(AuditWebSocketRejected, r, err.Error(), padAttr(padID))
		writeError(w, http.StatusForbidden, "signature pad not authorized")
		return
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		a.logger.Warn("websocket upgrade failed", "pad_id", p.ID, "error", err)
		return
	}
	conn := session.NewWSConn(ws)
	if !a.sessions.Connect(conn, p.ID) {
		conn.Close()
		return
	}
	defer a.sessions.Disconnect(conn.ID())
	a.audit.logPad(AuditWebSocketConnected, r, p.ID, slog.String("session_id", conn.ID()))

	err = conn.ReadLoop(func(msg []byte) {
		a.logger.Debug("message from pad", "pad_id", p.ID, "session_id", conn.ID(), "bytes", len(msg))
	})
	if err != nil {
		a.logger.Debug("pad session ended", "pad_id", p.ID, "session_id", conn.ID(), "error", err)
	}
}
