package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypedStore wraps Store with JSON marshaling for a specific type.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a new typed store wrapper for the given kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Get retrieves and unmarshals the state for an ID.
// found is false if nothing was stored yet.
func (s *TypedStore[T]) Get(id string) (value T, found bool, err error) {
	rec, err := s.store.Get(s.kind, id)
	if err != nil || rec == nil {
		return value, false, err
	}

	if err := json.Unmarshal(rec.Payload, &value); err != nil {
		return value, false, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}

	return value, true, nil
}

// UpdatedAt returns when the state for an ID was last written.
func (s *TypedStore[T]) UpdatedAt(id string) (time.Time, error) {
	rec, err := s.store.Get(s.kind, id)
	if err != nil || rec == nil {
		return time.Time{}, err
	}
	return rec.UpdatedAt, nil
}

// Set marshals and stores the state for an ID.
func (s *TypedStore[T]) Set(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.store.Set(s.kind, id, payload)
}

// Delete removes the state for an ID.
func (s *TypedStore[T]) Delete(id string) error {
	return s.store.Delete(s.kind, id)
}
