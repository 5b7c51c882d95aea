// Package auth verifies that inbound pad requests come from a known pad and
// that the assertions they carry were signed with that pad's key.
//
// Loading and authorizing a pad is kept separate from verifying its
// signature so unknown or unvalidated pads are rejected before any RSA work,
// and so the pairing step can skip the validated check.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/signpad/pad"
)

// ErrMalformedAssertion marks assertions that could not be decoded at all,
// as opposed to ones whose signature did not verify.
var ErrMalformedAssertion = fmt.Errorf("%w: malformed assertion", pad.ErrBadRequest)

// PadSource loads pads by ID. *pad.Registry satisfies it.
type PadSource interface {
	Get(ctx context.Context, padID string) (*pad.Pad, error)
}

// Authenticator performs the pad handshake checks.
type Authenticator struct {
	pads   PadSource
	logger *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// New returns an Authenticator reading pads from src.
func New(src PadSource, opts ...Option) *Authenticator {
	a := &Authenticator{pads: src, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "auth")
	return a
}

// Authenticate loads the pad and, when requireValidated is set, rejects
// pads that have not completed pairing.
func (a *Authenticator) Authenticate(ctx context.Context, padID string, requireValidated bool) (*pad.Pad, error) {
	p, err := a.pads.Get(ctx, padID)
	if err != nil {
		a.logger.Debug("pad lookup failed", "pad_id", padID, "error", err)
		return nil, err
	}
	if requireValidated && !p.Validated {
		return nil, fmt.Errorf("%s: %w", padID, pad.ErrNotValidated)
	}
	return p, nil
}

// VerifyAssertion parses token and checks its RS256 signature against the
// pad's verification key. Any failure is reported as pad.ErrBadRequest.
func (a *Authenticator) VerifyAssertion(p *pad.Pad, token string) (*Claims, error) {
	key, kid, err := ParsePublicJWK(p.VerificationKey())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pad.ErrBadRequest, err)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if headerKID, _ := t.Header["kid"].(string); headerKID != "" && kid != "" && headerKID != kid {
			return nil, fmt.Errorf("key id %q does not match pad key %q", headerKID, kid)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAssertion, err)
		}
		return nil, fmt.Errorf("%w: assertion verification failed: %v", pad.ErrBadRequest, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: assertion verification failed", pad.ErrBadRequest)
	}
	claims.KeyID, _ = parsed.Header["kid"].(string)
	return claims, nil
}

// ParsePublicJWK decodes an RSA public JWK and returns the key and its kid.
func ParsePublicJWK(raw json.RawMessage) (*rsa.PublicKey, string, error) {
	if len(raw) == 0 {
		return nil, "", errors.New("pad has no public key")
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, "", fmt.Errorf("malformed public key: %w", err)
	}
	switch k := jwk.Key.(type) {
	case *rsa.PublicKey:
		return k, jwk.KeyID, nil
	case *rsa.PrivateKey:
		return nil, "", errors.New("public key expected, got private key")
	default:
		return nil, "", fmt.Errorf("public key is not RSA (%T)", jwk.Key)
	}
}

// SameKey reports whether two public JWKs describe the same RSA key with
// the same kid.
func SameKey(a, b json.RawMessage) bool {
	ka, kidA, err := ParsePublicJWK(a)
	if err != nil {
		return false
	}
	kb, kidB, err := ParsePublicJWK(b)
	if err != nil {
		return false
	}
	return kidA == kidB && ka.Equal(kb)
}
