package model

import (
	"context"
	"errors"
)

// ErrFlowNotFound is returned when a flow key has no Connection State.
var ErrFlowNotFound = errors.New("flow not found")

// FlowTable defines the capability every flow table implementation provides,
// whether it keeps state in process or in an external store.
type FlowTable interface {
	// GetOrCreate returns the state for id, creating it if absent.
	// Exactly one caller observes created == true for a given key.
	GetOrCreate(ctx context.Context, id FlowID) (state ConnectionState, created bool, err error)

	// Update looks up (creating if absent) the flow for id and applies d to it.
	Update(ctx context.Context, id FlowID, d *Datagram) (UpdateResult, error)

	// Get returns a copy of the state for key, or ErrFlowNotFound.
	Get(ctx context.Context, key string) (ConnectionState, error)

	// Snapshot returns copies of all entries, in no particular order.
	Snapshot(ctx context.Context) ([]ConnectionState, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Len returns the number of tracked flows.
	Len(ctx context.Context) (int, error)

	// Close releases resources held by the table.
	Close() error
}
