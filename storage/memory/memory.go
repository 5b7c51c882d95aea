// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmcleod/signpad/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Record
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Record)}
}

func (r *Repository) Put(_ context.Context, recordType, recordID string, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(recordType, recordID, record)
	return nil
}

func (r *Repository) putLocked(recordType, recordID string, record *storage.Record) {
	if _, ok := r.data[recordType]; !ok {
		r.data[recordType] = make(map[string]*storage.Record)
	}
	r.data[recordType][recordID] = record.Clone()
}

func (r *Repository) Get(_ context.Context, recordType, recordID string) (*storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data[recordType][recordID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *Repository) List(_ context.Context, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data[recordType]))
	for id := range r.data[recordType] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[recordType][recordID]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(r.data[recordType], recordID)
	return nil
}

func (r *Repository) PutCAS(_ context.Context, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.data[recordType][recordID]
	if !ok {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		r.putLocked(recordType, recordID, record)
		return nil
	}
	if existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	r.putLocked(recordType, recordID, record)
	return nil
}
