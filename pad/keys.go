package pad

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/go-jose/go-jose/v4"
)

// DefaultKeyBits is the RSA modulus size for issued pad keys.
const DefaultKeyBits = 2048

// KeyIssuance is the result of issuing a key pair to a pad. The private JWK
// is sealed in a memguard enclave; it exists only until the operator has
// been shown it and is never persisted.
type KeyIssuance struct {
	PadID      string
	KeyID      string
	KeyVersion int
	PublicJWK  json.RawMessage
	PrivateJWK *memguard.Enclave
}

// OpenPrivateJWK decrypts the private JWK into a locked buffer. The caller
// must Destroy the buffer once it has been delivered.
func (k *KeyIssuance) OpenPrivateJWK() (*memguard.LockedBuffer, error) {
	if k.PrivateJWK == nil {
		return nil, fmt.Errorf("private key for %s no longer available", k.KeyID)
	}
	return k.PrivateJWK.Open()
}

func newSigningKey(bits int) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}
	return priv, nil
}

func signingJWK(priv *rsa.PrivateKey, kid string) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       priv,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// publicJWK encodes the public half of priv under kid.
func publicJWK(priv *rsa.PrivateKey, kid string) (json.RawMessage, error) {
	pub, err := signingJWK(priv, kid).Public().MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding public jwk: %w", err)
	}
	return pub, nil
}

// sealPrivateJWK encodes priv under kid straight into an enclave.
func sealPrivateJWK(priv *rsa.PrivateKey, kid string) (*memguard.Enclave, error) {
	jwk := signingJWK(priv, kid)
	privJSON, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding private jwk: %w", err)
	}
	// NewEnclave wipes privJSON.
	return memguard.NewEnclave(privJSON), nil
}
