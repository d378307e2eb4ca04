package flowtable

import (
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Evicting bounds an inner table by entry count and idle time. Keys are
// tracked in an expirable LRU; when the LRU drops a key the flow is deleted
// from the inner table. Keys are refreshed before the inner write so that
// expiry never removes a flow that was just written.
type Evicting struct {
	model.FlowTable
	keys      *expirable.LRU[string, struct{}]
	opTimeout time.Duration
}

// NewEvicting wraps inner. A zero maxEntries or idle disables that bound.
func NewEvicting(inner model.FlowTable, maxEntries int, idle, opTimeout time.Duration) *Evicting {
	e := &Evicting{FlowTable: inner, opTimeout: opTimeout}
	e.keys = expirable.NewLRU[string, struct{}](maxEntries, e.evict, idle)
	return e
}

func (e *Evicting) evict(key string, _ struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opTimeout)
	defer cancel()
	if err := e.FlowTable.Delete(ctx, key); err != nil {
		logger.Warn("Failed to evict flow", "flow", key, "error", err)
		return
	}
	logger.Debug("Evicted flow", "flow", key)
}

// Warm registers the keys already present in the inner table, so that
// flows restored from a durable backend are bounded too.
func (e *Evicting) Warm(ctx context.Context) error {
	states, err := e.FlowTable.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, s := range states {
		e.keys.Add(s.Key, struct{}{})
	}
	logger.Info("Eviction tracking warmed", "flows", len(states))
	return nil
}

func (e *Evicting) GetOrCreate(ctx context.Context, id model.FlowID) (model.ConnectionState, bool, error) {
	e.keys.Add(id.Key, struct{}{})
	return e.FlowTable.GetOrCreate(ctx, id)
}

func (e *Evicting) Update(ctx context.Context, id model.FlowID, d *model.Datagram) (model.UpdateResult, error) {
	e.keys.Add(id.Key, struct{}{})
	return e.FlowTable.Update(ctx, id, d)
}

func (e *Evicting) Delete(ctx context.Context, key string) error {
	e.keys.Remove(key)
	return e.FlowTable.Delete(ctx, key)
}
