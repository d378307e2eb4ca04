package api

import (
	"FlowSentry/internal/model"
	"context"
)

// Tracker is the part of the ingester the query surface reads.
type Tracker interface {
	Latest() (model.ConnectionState, bool)
	Count() uint64
	ResetCount()
}

// Facade is the read-only view of a running engine. Every method is safe
// to call while datagrams are being ingested; results are copies.
type Facade struct {
	table   model.FlowTable
	tracker Tracker
}

// NewFacade creates a facade over table and tracker.
func NewFacade(table model.FlowTable, tracker Tracker) *Facade {
	return &Facade{table: table, tracker: tracker}
}

// Latest returns the most recently tracked flow, if any.
func (f *Facade) Latest() (model.ConnectionState, bool) {
	return f.tracker.Latest()
}

// Snapshot returns a copy of every tracked flow.
func (f *Facade) Snapshot(ctx context.Context) ([]model.ConnectionState, error) {
	return f.table.Snapshot(ctx)
}

// Get returns one flow by canonical key, or model.ErrFlowNotFound.
func (f *Facade) Get(ctx context.Context, key string) (model.ConnectionState, error) {
	return f.table.Get(ctx, key)
}

// Len returns the number of tracked flows.
func (f *Facade) Len(ctx context.Context) (int, error) {
	return f.table.Len(ctx)
}

// Count returns the processed datagram counter.
func (f *Facade) Count() uint64 {
	return f.tracker.Count()
}

// ResetCount zeroes the processed datagram counter.
func (f *Facade) ResetCount() {
	f.tracker.ResetCount()
}
