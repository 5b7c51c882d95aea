package storage

import (
	"encoding/json"
	"fmt"
)

// Record is a stored value with its optimistic-concurrency version.
type Record struct {
	Version uint64 `json:"version"`
	Data    []byte `json:"data"`
}

// EncodeRecord marshals v to JSON and wraps it in a Record at the given version.
func EncodeRecord(v any, version uint64) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Record{Version: version, Data: data}, nil
}

// Decode unmarshals the record payload into v.
func (r *Record) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return fmt.Errorf("decoding record: empty payload")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Version: r.Version, Data: append([]byte(nil), r.Data...)}
}
