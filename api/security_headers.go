package api

import "net/http"

// staticSecurityHeaders go on every API response. The API answers only
// with JSON and upgrades to WebSocket, so nothing may be framed or loaded
// as a subresource, and responses carrying keys or signatures are never
// cached. The documentation UIs are mounted outside this middleware.
var staticSecurityHeaders = map[string]string{
	"X-Content-Type-Options":       "nosniff",
	"X-Frame-Options":              "DENY",
	"Referrer-Policy":              "no-referrer",
	"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
	"Cross-Origin-Resource-Policy": "same-origin",
	"Cache-Control":                "no-store",
}

// SecurityHeaders applies staticSecurityHeaders, plus HSTS when the request
// arrived over TLS.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for name, value := range staticSecurityHeaders {
			h.Set(name, value)
		}
		if requestIsSecure(r) {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
