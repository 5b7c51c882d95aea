// Package signature archives the signed assertions pads deliver, keyed by
// the subject they were captured for. A newer signature for the same
// subject replaces the older one.
package signature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jmcleod/signpad/pad"
	"github.com/jmcleod/signpad/storage"
)

const recordType = "SIGNATURE"

// Record is one archived signature.
type Record struct {
	Subject    string    `json:"subject"`
	PadID      string    `json:"pad_id"`
	PadName    string    `json:"pad_name,omitempty"`
	Name       string    `json:"name,omitempty"`
	Mail       string    `json:"mail,omitempty"`
	Token      string    `json:"token"`
	IssuedAt   time.Time `json:"issued_at,omitzero"`
	ReceivedAt time.Time `json:"received_at"`
}

// Archive persists signature records in a storage.Repository.
type Archive struct {
	repo   storage.Repository
	logger *slog.Logger
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// NewArchive returns an Archive backed by repo.
func NewArchive(repo storage.Repository, opts ...Option) *Archive {
	a := &Archive{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "signature-archive")
	return a
}

// Store saves rec, replacing any earlier signature for the same subject.
func (a *Archive) Store(ctx context.Context, rec *Record) error {
	rec.Subject = strings.TrimSpace(rec.Subject)
	if rec.Subject == "" {
		return fmt.Errorf("%w: signature subject required", pad.ErrBadRequest)
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	stored, err := storage.EncodeRecord(rec, 0)
	if err != nil {
		return err
	}
	if err := a.repo.Put(ctx, recordType, rec.Subject, stored); err != nil {
		return fmt.Errorf("%w: %v", pad.ErrUnavailable, err)
	}
	a.logger.Info("signature archived", "subject", rec.Subject, "pad_id", rec.PadID)
	return nil
}

// Load returns the latest signature for subject.
func (a *Archive) Load(ctx context.Context, subject string) (*Record, error) {
	stored, err := a.repo.Get(ctx, recordType, subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("signature for %q: %w", subject, pad.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", pad.ErrUnavailable, err)
	}
	var rec Record
	if err := stored.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", pad.ErrUnavailable, err)
	}
	return &rec, nil
}

// Subjects lists the subjects with an archived signature.
func (a *Archive) Subjects(ctx context.Context) ([]string, error) {
	ids, err := a.repo.List(ctx, recordType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pad.ErrUnavailable, err)
	}
	sort.Strings(ids)
	return ids, nil
}
