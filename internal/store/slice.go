package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Slice is a typed view of one path of the store: a value paired with its setter.
type Slice[T any] struct {
	store *Store
	path  Path
}

// NewSlice binds a typed slice to path.
func NewSlice[T any](store *Store, path Path) Slice[T] {
	return Slice[T]{store: store, path: path}
}

// Path returns the address of the slice.
func (slice Slice[T]) Path() Path {
	return slice.path
}

// Get returns the current value. A missing leaf yields the zero value.
func (slice Slice[T]) Get() (T, error) {
	var value T
	if _, err := slice.store.Get(slice.path, &value); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// Set replaces the value.
func (slice Slice[T]) Set(value T) error {
	return slice.store.Set(slice.path, value)
}

// Update replaces the value with updater(previous) atomically with respect to other writers.
func (slice Slice[T]) Update(updater func(previous T) (T, error)) error {
	if updater == nil {
		return errMissingUpdater
	}
	return slice.store.Update(slice.path, func(current any, exists bool) (any, error) {
		var previous T
		if exists {
			if err := decodeNode(current, &previous); err != nil {
				return nil, fmt.Errorf("store: decode %s: %w", slice.path, err)
			}
		}
		return updater(previous)
	})
}

// Subscribe registers for changes that overlap the slice.
func (slice Slice[T]) Subscribe(ctx context.Context) (<-chan Change, func()) {
	return slice.store.Subscribe(ctx, slice.path)
}

// Notify publishes a non-data change for the slice.
func (slice Slice[T]) Notify(kind ChangeKind) {
	slice.store.Notify(slice.path, kind)
}

func decodeNode(node any, target any) error {
	encoded, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, target)
}
