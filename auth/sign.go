package auth

import (
	"crypto/rsa"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Sign produces an RS256 assertion the way a pad does: the private JWK's
// kid goes in the header, claims in the payload.
func Sign(privateJWK []byte, claims jwt.Claims) (string, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(privateJWK); err != nil {
		return "", fmt.Errorf("parsing private jwk: %w", err)
	}
	key, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private jwk is not an RSA private key (%T)", jwk.Key)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if jwk.KeyID != "" {
		token.Header["kid"] = jwk.KeyID
	}
	return token.SignedString(key)
}
