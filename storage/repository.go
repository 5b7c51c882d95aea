// Package storage provides the key-value persistence layer for pad and
// signature records.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Repository defines the interface for versioned record storage. Records are
// keyed by (recordType, recordID); recordType acts as a namespace.
type Repository interface {
	Put(ctx context.Context, recordType string, recordID string, record *Record) error
	Get(ctx context.Context, recordType string, recordID string) (*Record, error)
	List(ctx context.Context, recordType string) ([]string, error)
	Delete(ctx context.Context, recordType string, recordID string) error
	// PutCAS writes record only if the stored version equals expectedVersion.
	// An expectedVersion of 0 means the record must not exist yet.
	PutCAS(ctx context.Context, recordType string, recordID string, expectedVersion uint64, record *Record) error
}
