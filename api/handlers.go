package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/signpad/correlation"
	"github.com/jmcleod/signpad/pad"
	"github.com/jmcleod/signpad/session"
)

func (a *API) padResponse(p *pad.Pad) PadResponse {
	resp := PadResponse{
		ID:                p.ID,
		Name:              p.Name,
		Validated:         p.Validated,
		KeyVersion:        p.KeyVersion,
		PublicJWK:         p.PublicKey,
		ClientEnvironment: p.ClientEnvironment,
		CreatedAt:         p.CreatedAt,
		ValidatedAt:       p.ValidatedAt,
		Sessions:          a.sessions.CountFor(p.ID),
	}
	if p.KeyVersion > 0 {
		resp.KeyID = p.KeyID()
	}
	return resp
}

// RegisterPad handles POST /pads.
func (a *API) RegisterPad(w http.ResponseWriter, r *http.Request) {
	var req RegisterPadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := a.pads.Register(r.Context(), req.Name)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logPad(AuditPadRegistered, r, p.ID, slog.String("name", p.Name))
	a.appendAuditEntry(r.Context(), p.ID, auditActionRegistered, map[string]string{"name": p.Name})
	writeJSON(w, http.StatusCreated, a.padResponse(p))
}

// ListPads handles GET /pads.
func (a *API) ListPads(w http.ResponseWriter, r *http.Request) {
	pads, err := a.pads.List(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	pads, meta := page(r, pads)
	resp := ListPadsResponse{Pads: make([]PadResponse, 0, len(pads)), PaginationMeta: meta}
	for _, p := range pads {
		resp.Pads = append(resp.Pads, a.padResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPad handles GET /pads/{padID}.
func (a *API) GetPad(w http.ResponseWriter, r *http.Request) {
	p, err := a.pads.Get(r.Context(), chi.URLParam(r, "padID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.padResponse(p))
}

// IssueKeyPair handles POST /pads/{padID}/keys. The private JWK leaves the
// server in this response and is not retained.
func (a *API) IssueKeyPair(w http.ResponseWriter, r *http.Request) {
	padID := chi.URLParam(r, "padID")
	issued, err := a.pads.IssueKeyPair(r.Context(), padID)
	if err != nil {
		mapError(w, err)
		return
	}
	buf, err := issued.OpenPrivateJWK()
	if err != nil {
		a.logger.Error("opening issued private key", "pad_id", padID, "error", err)
		writeError(w, http.StatusInternalServerError, "private key unavailable")
		return
	}
	defer buf.Destroy()

	a.audit.logPad(AuditKeyIssued, r, issued.PadID, slog.String("kid", issued.KeyID))
	a.appendAuditEntry(r.Context(), issued.PadID, auditActionKeyIssued, map[string]string{"kid": issued.KeyID})

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, KeyPairResponse{
		PadID:      issued.PadID,
		KeyID:      issued.KeyID,
		KeyVersion: issued.KeyVersion,
		PublicJWK:  issued.PublicJWK,
		PrivateJWK: json.RawMessage(buf.Bytes()),
		BaseURL:    a.baseURL,
	})
}

// ListPadAudit handles GET /pads/{padID}/audit.
func (a *API) ListPadAudit(w http.ResponseWriter, r *http.Request) {
	p, err := a.pads.Get(r.Context(), chi.URLParam(r, "padID"))
	if err != nil {
		mapError(w, err)
		return
	}
	entries, err := a.listAuditEntries(r.Context(), p.ID)
	if err != nil {
		mapError(w, err)
		return
	}
	entries, meta := page(r, entries)
	resp := ListAuditResponse{Entries: make([]AuditEntry, 0, len(entries)), PaginationMeta: meta}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntry{
			ID:        e.ID,
			PadID:     e.PadID,
			Action:    string(e.Action),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ShowPad handles GET /signature-pad/show?uuid=&uid=, asking the pad to
// present the signing screen for a user.
func (a *API) ShowPad(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := a.pads.Get(r.Context(), q.Get("uuid"))
	if err != nil {
		mapError(w, err)
		return
	}
	uid := strings.TrimSpace(q.Get("uid"))
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	n := a.sessions.SendTo(session.NewEvent(session.KindShow, uid), p.ID)
	a.appendAuditEntry(r.Context(), p.ID, auditActionShown, map[string]string{"uid": uid})
	writeJSON(w, http.StatusOK, DeliveryResponse{PadID: p.ID, Event: string(session.KindShow), Sessions: n})
}

// HidePad handles GET /signature-pad/hide?uuid=.
func (a *API) HidePad(w http.ResponseWriter, r *http.Request) {
	p, err := a.pads.Get(r.Context(), r.URL.Query().Get("uuid"))
	if err != nil {
		mapError(w, err)
		return
	}
	n := a.sessions.SendTo(session.NewEvent(session.KindHide, "hide"), p.ID)
	a.appendAuditEntry(r.Context(), p.ID, auditActionHidden, nil)
	writeJSON(w, http.StatusOK, DeliveryResponse{PadID: p.ID, Event: string(session.KindHide), Sessions: n})
}

// WaitForResponse handles GET /signature-pad/wait-for-response?uuid=. It
// blocks until the pad delivers a signature, the user cancels, another
// operator starts waiting on the same pad, or the wait times out. Every
// outcome is reported with 200 and a status.
func (a *API) WaitForResponse(w http.ResponseWriter, r *http.Request) {
	p, err := a.pads.Get(r.Context(), r.URL.Query().Get("uuid"))
	if err != nil {
		mapError(w, err)
		return
	}
	o := a.engine.Wait(r.Context(), p.ID, a.waitTimeout)
	resp := ResponsePayload{Status: string(o.Kind)}
	if o.Kind == correlation.OK {
		resp.Data = o.Payload
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSignatures handles GET /signatures.
func (a *API) ListSignatures(w http.ResponseWriter, r *http.Request) {
	subjects, err := a.archive.Subjects(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	subjects, meta := page(r, subjects)
	writeJSON(w, http.StatusOK, ListSignaturesResponse{Subjects: subjects, PaginationMeta: meta})
}

// GetSignature handles GET /signatures/{subject}.
func (a *API) GetSignature(w http.ResponseWriter, r *http.Request) {
	rec, err := a.archive.Load(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SignatureResponse{
		Subject:    rec.Subject,
		PadID:      rec.PadID,
		PadName:    rec.PadName,
		Name:       rec.Name,
		Mail:       rec.Mail,
		Token:      rec.Token,
		IssuedAt:   rec.IssuedAt,
		ReceivedAt: rec.ReceivedAt,
	})
}
