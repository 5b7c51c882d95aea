package pad

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmcleod/signpad/storage"
)

const padRecordType = "PAD"

// Store is the persistence collaborator for pads.
type Store interface {
	// Load returns the pad with the given ID, or an error wrapping
	// storage.ErrNotFound when there is none. The returned pad carries the
	// Revision it was stored at.
	Load(ctx context.Context, id string) (*Pad, error)
	// Save writes p if the stored revision still equals p.Revision, and
	// advances p.Revision on success. A lost race returns storage.ErrCASFailed.
	Save(ctx context.Context, p *Pad) error
	// List returns the IDs of all stored pads.
	List(ctx context.Context) ([]string, error)
}

// RepositoryStore adapts a storage.Repository to the Store interface.
type RepositoryStore struct {
	repo storage.Repository
}

var _ Store = (*RepositoryStore)(nil)

// NewRepositoryStore returns a Store persisting pads as JSON records.
func NewRepositoryStore(repo storage.Repository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

func (s *RepositoryStore) Load(ctx context.Context, id string) (*Pad, error) {
	rec, err := s.repo.Get(ctx, padRecordType, id)
	if err != nil {
		return nil, err
	}
	var p Pad
	if err := rec.Decode(&p); err != nil {
		return nil, fmt.Errorf("pad %s: %w", id, err)
	}
	p.Revision = rec.Version
	return &p, nil
}

func (s *RepositoryStore) Save(ctx context.Context, p *Pad) error {
	rec, err := storage.EncodeRecord(p, p.Revision+1)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(ctx, padRecordType, p.ID, p.Revision, rec); err != nil {
		return err
	}
	p.Revision = rec.Version
	return nil
}

func (s *RepositoryStore) List(ctx context.Context) ([]string, error) {
	return s.repo.List(ctx, padRecordType)
}

// storeError maps persistence failures onto the pad error taxonomy.
func storeError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
