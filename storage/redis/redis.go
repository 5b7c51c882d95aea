// Package redis implements storage.Repository on top of Redis.
//
// Each record is stored as a JSON-encoded storage.Record under
// "<prefix>:<recordType>:<recordID>", and the IDs of every record type are
// tracked in a set at "<prefix>:<recordType>:_index" so List does not need
// to SCAN the keyspace.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/signpad/storage"
)

const defaultPrefix = "signpad"

// Store implements storage.Repository backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using the given client. An empty prefix
// selects the default "signpad" key prefix.
func NewRepository(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// NewRepositoryFromAddr dials the Redis server at addr and verifies the
// connection with a PING.
func NewRepositoryFromAddr(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRepository(client, ""), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(recordType, recordID string) string {
	return s.prefix + ":" + recordType + ":" + recordID
}

func (s *Store) indexKey(recordType string) string {
	return s.prefix + ":" + recordType + ":_index"
}

func (s *Store) Put(ctx context.Context, recordType, recordID string, record *storage.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(recordType, recordID), data, 0)
		pipe.SAdd(ctx, s.indexKey(recordType), recordID)
		return nil
	})
	return err
}

func (s *Store) Get(ctx context.Context, recordType, recordID string) (*storage.Record, error) {
	data, err := s.client.Get(ctx, s.key(recordType, recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, recordType string) ([]string, error) {
	return s.client.SMembers(ctx, s.indexKey(recordType)).Result()
}

func (s *Store) Delete(ctx context.Context, recordType, recordID string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, s.key(recordType, recordID))
		pipe.SRem(ctx, s.indexKey(recordType), recordID)
		return nil
	})
	if err != nil {
		return err
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

// PutCAS uses WATCH/MULTI so a concurrent writer between the version read and
// the write aborts the transaction.
func (s *Store) PutCAS(ctx context.Context, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := s.key(recordType, recordID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return storage.ErrCASFailed
			}
		case err != nil:
			return err
		default:
			if expectedVersion == 0 {
				return storage.ErrCASFailed
			}
			var current storage.Record
			if err := json.Unmarshal(existing, &current); err != nil {
				return err
			}
			if current.Version != expectedVersion {
				return storage.ErrCASFailed
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.indexKey(recordType), recordID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrCASFailed
	}
	return err
}
