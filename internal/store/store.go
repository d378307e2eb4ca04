package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotFound is returned when an operation targets a key that does not exist.
var ErrNotFound = errors.New("key not found")

// Backend is a key-value store holding one record of named fields per key.
// Every call may fail; implementations never panic on store errors.
type Backend interface {
	// Exists reports whether key holds a record.
	Exists(ctx context.Context, key string) (bool, error)

	// Create atomically stores fields under key if the key is absent.
	// It returns false, without modifying anything, if the key already exists.
	Create(ctx context.Context, key string, fields map[string]string) (bool, error)

	// IncrementField adds by to the integer field and returns the new value.
	// A missing field counts as zero; a missing key yields ErrNotFound.
	IncrementField(ctx context.Context, key, field string, by int64) (int64, error)

	// SetField overwrites one field of an existing record.
	SetField(ctx context.Context, key, field, value string) error

	// GetAll returns every field of the record at key, or ErrNotFound.
	GetAll(ctx context.Context, key string) (map[string]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns every stored key.
	ListKeys(ctx context.Context) ([]string, error)

	// Close releases the connection or database handle.
	Close() error
}

// retry runs op with bounded exponential backoff. It is used for optimistic
// concurrency conflicts, which resolve once the competing writer is done.
func retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Millisecond),
		backoff.WithMaxInterval(250*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, 20), ctx))
}
