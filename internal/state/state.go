// Package state provides the local key-value storage that application state is
// persisted to. Values are opaque strings, usually JSON documents, in the manner
// of browser local storage.
package state

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a storage that has been closed.
var ErrClosed = errors.New("storage is closed")

// Storage is a string key-value store.
// Implementations must be safe for concurrent use.
type Storage interface {
	// GetItem returns the value stored under key. ok is false when the key is absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Close releases the underlying resources.
	Close() error
}
