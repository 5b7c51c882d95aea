// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (record_type, record_id)
// that mirrors the key space used by the BBolt and in-memory backends. The
// record payload is stored as BYTEA alongside its version column so that
// compare-and-swap can be checked with a row lock.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/signpad/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Put(ctx context.Context, recordType, recordID string, record *storage.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (record_type, record_id, version, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (record_type, record_id)
		 DO UPDATE SET version = $3, data = $4, updated_at = now()`,
		recordType, recordID, record.Version, record.Data)
	return err
}

func (s *Store) Get(ctx context.Context, recordType, recordID string) (*storage.Record, error) {
	var rec storage.Record
	err := s.pool.QueryRow(ctx,
		`SELECT version, data FROM records WHERE record_type = $1 AND record_id = $2`,
		recordType, recordID).Scan(&rec.Version, &rec.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, recordType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id FROM records WHERE record_type = $1 ORDER BY record_id`,
		recordType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, recordType, recordID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE record_type = $1 AND record_id = $2`,
		recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) PutCAS(ctx context.Context, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := putCASInTx(ctx, tx, recordType, recordID, expectedVersion, record); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// putCASInTx performs a compare-and-swap put within an existing transaction.
func putCASInTx(ctx context.Context, tx pgx.Tx, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	var currentVersion uint64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE record_type = $1 AND record_id = $2
		 FOR UPDATE`,
		recordType, recordID).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO records (record_type, record_id, version, data)
			 VALUES ($1, $2, $3, $4)`,
			recordType, recordID, record.Version, record.Data)
		return err
	}
	if err != nil {
		return err
	}

	if expectedVersion == 0 || currentVersion != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE records SET version = $3, data = $4, updated_at = now()
		 WHERE record_type = $1 AND record_id = $2`,
		recordType, recordID, record.Version, record.Data)
	return err
}
