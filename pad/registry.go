package pad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/signpad/internal/uuid"
	"github.com/jmcleod/signpad/storage"
)

// maxCASAttempts bounds how often a mutation is retried after losing a
// compare-and-swap race.
const maxCASAttempts = 3

// Registry creates, loads and mutates pads. It holds no pad state of its
// own; every call is a round trip to the Store.
type Registry struct {
	store   Store
	logger  *slog.Logger
	keyBits int
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithKeyBits overrides the RSA modulus size of issued keys.
func WithKeyBits(bits int) Option {
	return func(r *Registry) {
		r.keyBits = bits
	}
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		logger:  slog.Default(),
		keyBits: DefaultKeyBits,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "pad-registry")
	return r
}

// NormalizeName trims and NFKC-normalizes a display name.
func NormalizeName(name string) string {
	return strings.TrimSpace(norm.NFKC.String(name))
}

// Register creates and persists a new, unvalidated pad.
func (r *Registry) Register(ctx context.Context, displayName string) (*Pad, error) {
	name := NormalizeName(displayName)
	if name == "" {
		return nil, fmt.Errorf("%w: display name required", ErrBadRequest)
	}
	p := &Pad{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.Save(ctx, p); err != nil {
		return nil, storeError(p.ID, err)
	}
	r.logger.Info("signature pad registered", "pad_id", p.ID, "name", p.Name)
	return p, nil
}

// Get loads the current state of a pad.
func (r *Registry) Get(ctx context.Context, padID string) (*Pad, error) {
	if !uuid.Valid(padID) {
		return nil, fmt.Errorf("%q: %w", padID, ErrNotFound)
	}
	p, err := r.store.Load(ctx, padID)
	if err != nil {
		return nil, storeError(padID, err)
	}
	return p, nil
}

// List returns all pads ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]*Pad, error) {
	ids, err := r.store.List(ctx)
	if err != nil {
		return nil, storeError("", err)
	}
	pads := make([]*Pad, 0, len(ids))
	for _, id := range ids {
		p, err := r.store.Load(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, storeError(id, err)
		}
		pads = append(pads, p)
	}
	sort.Slice(pads, func(i, j int) bool {
		return pads[i].CreatedAt.Before(pads[j].CreatedAt)
	})
	return pads, nil
}

// IssueKeyPair generates a new key pair for an unvalidated pad, bumps its
// key version and records the public half as the pending key. The RSA key
// is generated once; a lost update only re-derives the kid. The private
// JWK is sealed after the winning write.
func (r *Registry) IssueKeyPair(ctx context.Context, padID string) (*KeyIssuance, error) {
	current, err := r.Get(ctx, padID)
	if err != nil {
		return nil, err
	}
	if current.Validated {
		return nil, ErrAlreadyValidated
	}
	priv, err := newSigningKey(r.keyBits)
	if err != nil {
		return nil, err
	}
	var (
		kid string
		pub json.RawMessage
	)
	p, err := r.mutate(ctx, padID, func(p *Pad) error {
		if p.Validated {
			return ErrAlreadyValidated
		}
		version := p.KeyVersion + 1
		kid = KeyIDFor(p.ID, version)
		encoded, err := publicJWK(priv, kid)
		if err != nil {
			return err
		}
		pub = encoded
		p.KeyVersion = version
		p.PendingKey = pub
		return nil
	})
	if err != nil {
		return nil, err
	}
	sealed, err := sealPrivateJWK(priv, kid)
	if err != nil {
		return nil, err
	}
	r.logger.Info("key pair issued", "pad_id", p.ID, "kid", kid)
	return &KeyIssuance{
		PadID:      p.ID,
		KeyID:      kid,
		KeyVersion: p.KeyVersion,
		PublicJWK:  pub,
		PrivateJWK: sealed,
	}, nil
}

// ConfirmValidation completes pairing: the reported public key and client
// environment are stored and the pad becomes validated.
func (r *Registry) ConfirmValidation(ctx context.Context, padID string, publicJWK json.RawMessage, clientEnvironment map[string]any) (*Pad, error) {
	if len(publicJWK) == 0 {
		return nil, fmt.Errorf("%w: public key required", ErrBadRequest)
	}
	p, err := r.mutate(ctx, padID, func(p *Pad) error {
		if p.Validated {
			return ErrAlreadyValidated
		}
		p.PublicKey = append(json.RawMessage(nil), publicJWK...)
		p.PendingKey = nil
		p.ClientEnvironment = clientEnvironment
		p.Validated = true
		p.ValidatedAt = r.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("signature pad validated", "pad_id", p.ID, "kid", p.KeyID())
	return p, nil
}

// mutate re-reads the pad, applies fn and writes it back with a version
// check. Losing the race re-reads and re-applies fn, so fn always sees
// the latest persisted state.
func (r *Registry) mutate(ctx context.Context, padID string, fn func(*Pad) error) (*Pad, error) {
	for attempt := 1; ; attempt++ {
		current, err := r.Get(ctx, padID)
		if err != nil {
			return nil, err
		}
		next := current.clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		err = r.store.Save(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, storage.ErrCASFailed) {
			return nil, storeError(padID, err)
		}
		if attempt >= maxCASAttempts {
			return nil, fmt.Errorf("%w: concurrent update of pad %s", ErrUnavailable, padID)
		}
		r.logger.Debug("pad update lost race, retrying", "pad_id", padID, "attempt", attempt)
	}
}
