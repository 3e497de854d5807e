package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Medium.Get when a key has never been written.
var ErrNotFound = errors.New("medium: key not found")

// Medium is a durable string key-value space. Each collection occupies one key.
type Medium interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// Update atomically replaces the value at key with fn(current).
	// exists is false when the key is absent. Returning an error aborts the write.
	Update(ctx context.Context, key string, fn func(current string, exists bool) (string, error)) error
	Close() error
}
