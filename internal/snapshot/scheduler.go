package snapshot

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"context"
	"sync"
	"time"
)

// NewWriters creates every enabled writer in cfg. Writers that cannot be
// created are logged and skipped.
func NewWriters(ctx context.Context, cfg config.SnapshotConfig) []model.Writer {
	writers := make([]model.Writer, 0, len(cfg.Writers))
	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}

		interval, err := time.ParseDuration(def.SnapshotInterval)
		if err != nil {
			logger.Warn("Invalid snapshot_interval, skipping writer", "type", def.Type, "error", err)
			continue
		}

		switch def.Type {
		case "gob":
			writers = append(writers, NewGobWriter(def.Gob.RootPath, interval))
		case "clickhouse":
			w, err := NewClickHouseWriter(ctx, def.ClickHouse, interval)
			if err != nil {
				logger.Warn("Failed to create writer, skipping", "type", def.Type, "error", err)
				continue
			}
			writers = append(writers, w)
		default:
			logger.Warn("Unknown writer type in config, skipping", "type", def.Type)
		}
	}
	return writers
}

// Scheduler periodically copies a flow table and hands the copy to its writers,
// one goroutine per writer.
type Scheduler struct {
	table   model.FlowTable
	writers []model.Writer
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for writers over table.
func NewScheduler(table model.FlowTable, writers []model.Writer) *Scheduler {
	return &Scheduler{table: table, writers: writers, done: make(chan struct{})}
}

// Start launches one snapshot loop per writer.
func (s *Scheduler) Start() {
	for _, w := range s.writers {
		s.wg.Add(1)
		go s.run(w)
		logger.Info("Started snapshotter", "writer", w.Name(), "interval", w.GetInterval())
	}
}

// Stop takes a final snapshot for every writer and waits for the loops to exit.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	for _, w := range s.writers {
		if c, ok := w.(interface{ Close() error }); ok {
			c.Close()
		}
	}
}

func (s *Scheduler) run(w model.Writer) {
	defer s.wg.Done()
	interval := w.GetInterval()
	if interval <= 0 {
		logger.Warn("Invalid interval for writer, snapshotter will not run", "writer", w.Name(), "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.TakeSnapshot(context.Background(), w)
		case <-s.done:
			s.TakeSnapshot(context.Background(), w)
			return
		}
	}
}

// TakeSnapshot copies the table once and writes the copy with w.
func (s *Scheduler) TakeSnapshot(ctx context.Context, w model.Writer) {
	flows, err := s.table.Snapshot(ctx)
	if err != nil {
		logger.Error("Failed to snapshot flow table", "writer", w.Name(), "error", err)
		return
	}
	snap := model.TableSnapshot{Taken: time.Now(), Flows: flows}
	if err := w.Write(ctx, snap); err != nil {
		logger.Error("Failed to write snapshot", "writer", w.Name(), "error", err)
		return
	}
	logger.Debug("Snapshot written", "writer", w.Name(), "flows", len(flows))
}
