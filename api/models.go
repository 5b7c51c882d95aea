package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterPadRequest is the JSON body for POST /pads.
type RegisterPadRequest struct {
	Name string `json:"name"`
}

// PadResponse describes a pad.
type PadResponse struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Validated         bool            `json:"validated"`
	KeyVersion        int             `json:"key_version"`
	KeyID             string          `json:"kid,omitempty"`
	PublicJWK         json.RawMessage `json:"public_jwk,omitempty"`
	ClientEnvironment map[string]any  `json:"client_environment,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ValidatedAt       time.Time       `json:"validated_at,omitzero"`
	Sessions          int             `json:"sessions"`
}

// ListPadsResponse is returned from GET /pads.
type ListPadsResponse struct {
	Pads []PadResponse `json:"pads"`
	PaginationMeta
}

// KeyPairResponse is returned from POST /pads/{padID}/keys. The private JWK
// is shown exactly once.
type KeyPairResponse struct {
	PadID      string          `json:"pad_id"`
	KeyID      string          `json:"kid"`
	KeyVersion int             `json:"key_version"`
	PublicJWK  json.RawMessage `json:"public_jwk"`
	PrivateJWK json.RawMessage `json:"private_jwk"`
	BaseURL    string          `json:"base_url,omitempty"`
}

// DeliveryResponse reports how many live sessions received a pushed event.
type DeliveryResponse struct {
	PadID    string `json:"pad_id"`
	Event    string `json:"event"`
	Sessions int    `json:"sessions"`
}

// ResponsePayload is the result of wait-for-response. Status is one of ok,
// timeout, cancel, superseded or error; Data carries the PNG data URL when
// Status is ok.
type ResponsePayload struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

// StatusResponse acknowledges a pad-facing request.
type StatusResponse struct {
	Status string `json:"status"`
}

// SignatureResponse is returned from GET /signatures/{subject}.
type SignatureResponse struct {
	Subject    string    `json:"subject"`
	PadID      string    `json:"pad_id"`
	PadName    string    `json:"pad_name,omitempty"`
	Name       string    `json:"name,omitempty"`
	Mail       string    `json:"mail,omitempty"`
	Token      string    `json:"token"`
	IssuedAt   time.Time `json:"issued_at,omitzero"`
	ReceivedAt time.Time `json:"received_at"`
}

// ListSignaturesResponse is returned from GET /signatures.
type ListSignaturesResponse struct {
	Subjects []string `json:"subjects"`
	PaginationMeta
}

// AuditEntry is one entry of a pad's activity trail.
type AuditEntry struct {
	ID        string            `json:"id"`
	PadID     string            `json:"pad_id"`
	Action    string            `json:"action"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ListAuditResponse is returned from GET /pads/{padID}/audit.
type ListAuditResponse struct {
	Entries []AuditEntry `json:"entries"`
	PaginationMeta
}
