// Package pad owns signature pad identity, pairing state and key material.
//
// A pad is registered by an operator, receives a server-generated RSA key
// pair whose private half is transferred to the device out-of-band, and is
// validated once the device proves possession of that key. Validation is a
// one-way, one-time transition.
package pad

import (
	"encoding/json"
	"strconv"
	"time"
)

// Pad is a single signing device.
type Pad struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Validated  bool   `json:"validated"`
	KeyVersion int    `json:"key_version"`
	// PendingKey is the public JWK issued by IssueKeyPair and not yet
	// confirmed by the device.
	PendingKey json.RawMessage `json:"pending_key,omitempty"`
	// PublicKey is the confirmed public JWK. It is only set once Validated is true.
	PublicKey         json.RawMessage `json:"public_key,omitempty"`
	ClientEnvironment map[string]any  `json:"client_environment,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ValidatedAt       time.Time       `json:"validated_at,omitzero"`

	// Revision is the storage version the pad was loaded at. Store
	// implementations use it for compare-and-swap writes.
	Revision uint64 `json:"-"`
}

// KeyID returns the identifier of the pad's current key pair.
func (p *Pad) KeyID() string {
	return KeyIDFor(p.ID, p.KeyVersion)
}

// VerificationKey returns the public JWK assertions from this pad must be
// signed with: the confirmed key once validated, the pending key before.
func (p *Pad) VerificationKey() json.RawMessage {
	if p.Validated {
		return p.PublicKey
	}
	return p.PendingKey
}

// KeyIDFor derives the key identifier for a pad and key version.
func KeyIDFor(padID string, version int) string {
	return padID + "-" + strconv.Itoa(version)
}

func (p *Pad) clone() *Pad {
	cp := *p
	cp.PendingKey = append(json.RawMessage(nil), p.PendingKey...)
	cp.PublicKey = append(json.RawMessage(nil), p.PublicKey...)
	if p.ClientEnvironment != nil {
		cp.ClientEnvironment = make(map[string]any, len(p.ClientEnvironment))
		for k, v := range p.ClientEnvironment {
			cp.ClientEnvironment[k] = v
		}
	}
	return &cp
}
