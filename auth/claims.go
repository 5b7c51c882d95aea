package auth

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the claim set carried by assertions a pad signs. Pairing
// assertions carry PublicJWK and ClientEnvironment; signature assertions
// carry the captured image and the signer identity.
type Claims struct {
	jwt.RegisteredClaims

	PublicJWK         json.RawMessage `json:"publicJwk,omitempty"`
	ClientEnvironment map[string]any  `json:"clientEnvironment,omitempty"`

	SigPNG string `json:"sigpng,omitempty"`
	SigSVG string `json:"sigsvg,omitempty"`
	SigPad string `json:"sigpad,omitempty"`
	Name   string `json:"name,omitempty"`
	Mail   string `json:"mail,omitempty"`

	// KeyID is the kid from the token header, if any.
	KeyID string `json:"-"`
}

// PairingClaims is the view of an assertion sent to complete pairing.
type PairingClaims struct {
	PublicJWK         json.RawMessage
	ClientEnvironment map[string]any
}

// SignatureClaims is the view of an assertion carrying a captured signature.
type SignatureClaims struct {
	Issuer   string
	Subject  string
	PadName  string
	PNG      string
	SVG      string
	Name     string
	Mail     string
	IssuedAt time.Time
}

// Pairing returns the pairing view of c.
func (c *Claims) Pairing() PairingClaims {
	return PairingClaims{
		PublicJWK:         c.PublicJWK,
		ClientEnvironment: c.ClientEnvironment,
	}
}

// Signature returns the signature view of c. IssuedAt is zero when the
// token carried no iat.
func (c *Claims) Signature() SignatureClaims {
	s := SignatureClaims{
		Issuer:  c.Issuer,
		Subject: c.Subject,
		PadName: c.SigPad,
		PNG:     c.SigPNG,
		SVG:     c.SigSVG,
		Name:    c.Name,
		Mail:    c.Mail,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	return s
}
