package api

import (
	"context"
	"sort"
	"time"

	"github.com/jmcleod/signpad/internal/uuid"
	"github.com/jmcleod/signpad/storage"
)

// auditRecordPrefix namespaces a pad's activity trail; the full record
// type is the prefix followed by the pad ID.
const auditRecordPrefix = "AUDIT:"

type auditAction string

const (
	auditActionRegistered         auditAction = "registered"
	auditActionKeyIssued          auditAction = "key_issued"
	auditActionValidated          auditAction = "validated"
	auditActionShown              auditAction = "shown"
	auditActionHidden             auditAction = "hidden"
	auditActionSignatureReceived  auditAction = "signature_received"
	auditActionSignatureCancelled auditAction = "signature_cancelled"
)

type auditEntry struct {
	ID        string            `json:"id"`
	PadID     string            `json:"pad_id"`
	Action    auditAction       `json:"action"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// appendAuditEntry records an action in the pad's trail. Failures are
// logged; the trail never blocks the action it describes.
func (a *API) appendAuditEntry(ctx context.Context, padID string, action auditAction, detail map[string]string) {
	entry := auditEntry{
		ID:        uuid.New(),
		PadID:     padID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	rec, err := storage.EncodeRecord(entry, 1)
	if err == nil {
		err = a.repo.Put(ctx, auditRecordPrefix+padID, entry.ID, rec)
	}
	if err != nil {
		a.logger.Warn("appending audit entry failed", "pad_id", padID, "action", action, "error", err)
	}
}

// listAuditEntries returns the pad's trail, newest first.
func (a *API) listAuditEntries(ctx context.Context, padID string) ([]auditEntry, error) {
	recordType := auditRecordPrefix + padID
	ids, err := a.repo.List(ctx, recordType)
	if err != nil {
		return nil, err
	}
	entries := make([]auditEntry, 0, len(ids))
	for _, id := range ids {
		rec, err := a.repo.Get(ctx, recordType, id)
		if err != nil {
			continue
		}
		var entry auditEntry
		if err := rec.Decode(&entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}
