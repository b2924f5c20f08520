// Package storage persists one record sequence per room.
//
// A Store is the durable unit for a single room. Load never fails on a
// missing room: it initializes an empty sequence and returns it. Commit
// replaces the sequence wholesale so a concurrent Load sees either the old or
// the new sequence in full. Read-modify-write atomicity is not provided here;
// callers serialize per room through the room registry.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is the record sequence of one room.
type Store[T any] interface {
	// Load returns the persisted sequence, initializing an empty one if the
	// room has no state yet.
	Load(ctx context.Context) ([]T, error)
	// Commit atomically replaces the persisted sequence.
	Commit(ctx context.Context, records []T) error
}

// Backend opens per-room stores of one record kind.
type Backend[T any] interface {
	// Open returns the store for roomID. It does not touch storage.
	Open(roomID string) (Store[T], error)
	// Rooms lists the ids of rooms that have persisted state.
	Rooms(ctx context.Context) ([]string, error)
}

func encodeRecords[T any](records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	return json.Marshal(records)
}

func decodeRecords[T any](payload []byte) ([]T, error) {
	records := []T{}
	if len(payload) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}
