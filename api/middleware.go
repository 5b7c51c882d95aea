package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

const (
	// padHeader carries the pad ID on pad-facing requests.
	padHeader = "SIGNATURE_PAD_UUID"
	// padProtocol is the WebSocket subprotocol a pad offers, followed by
	// its pad ID as a second protocol entry.
	padProtocol = "SIGNATURE_PAD_UUID"
)

// OperatorAuth requires the configured operator bearer token. With no
// token configured every request passes.
func (a *API) OperatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.operatorToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			a.audit.logFailure(AuditOperatorAuthFailure, r, "missing bearer token")
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.operatorToken)) != 1 {
			a.audit.logFailure(AuditOperatorAuthFailure, r, "invalid operator token")
			writeError(w, http.StatusUnauthorized, "invalid operator token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// padIDFromHeader returns the pad ID a pad-facing request claims to come
// from.
func padIDFromHeader(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(padHeader))
	return id, id != ""
}

// padIDFromSubprotocol extracts the pad ID from a WebSocket handshake
// offering "SIGNATURE_PAD_UUID, <padID>".
func padIDFromSubprotocol(r *http.Request) (string, bool) {
	var protocols []string
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				protocols = append(protocols, p)
			}
		}
	}
	for i := 0; i+1 < len(protocols); i++ {
		if protocols[i] == padProtocol {
			return protocols[i+1], true
		}
	}
	return "", false
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func padAttr(padID string) slog.Attr {
	return slog.String("pad_id", padID)
}

// originChecker builds the WebSocket origin policy. An empty allow-list or
// one containing "*" admits every origin, including requests without one.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(strings.TrimRight(o, "/"), origin)
		})
	}
}
