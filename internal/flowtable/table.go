package flowtable

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"FlowSentry/internal/store"
	"context"
	"time"
)

var timeNow = time.Now

// Open builds the flow table selected by cfg.Table.Backend, wrapped in an
// Evicting decorator when a size or idle bound is configured.
func Open(ctx context.Context, cfg *config.Config) (model.FlowTable, error) {
	opTimeout, err := cfg.Table.OpTimeoutDuration()
	if err != nil {
		return nil, err
	}
	idle, err := cfg.Table.IdleTimeoutDuration()
	if err != nil {
		return nil, err
	}
	countAll := cfg.Tracking.CountAllSegments

	var table model.FlowTable
	if cfg.Table.Backend == "memory" || cfg.Table.Backend == "" {
		table = NewMemory(countAll)
	} else {
		backend, err := store.Open(cfg)
		if err != nil {
			return nil, err
		}
		table = NewStore(backend, opTimeout, countAll)
	}
	logger.Info("Flow table ready", "backend", cfg.Table.Backend, "count_all_segments", countAll)

	if cfg.Table.MaxEntries == 0 && idle == 0 {
		return table, nil
	}

	evicting := NewEvicting(table, cfg.Table.MaxEntries, idle, opTimeout)
	if err := evicting.Warm(ctx); err != nil {
		table.Close()
		return nil, err
	}
	logger.Info("Flow eviction enabled", "max_entries", cfg.Table.MaxEntries, "idle_timeout", idle)
	return evicting, nil
}
