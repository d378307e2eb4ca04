package model

import (
	"context"
	"time"
)

// TableSnapshot is a point-in-time copy of a flow table.
type TableSnapshot struct {
	Taken time.Time
	Flows []ConnectionState
}

// Writer defines a generic interface for writing flow table snapshots to a persistent store.
type Writer interface {
	// Write persists one snapshot.
	Write(ctx context.Context, snapshot TableSnapshot) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration

	// Name identifies the writer in logs.
	Name() string
}
