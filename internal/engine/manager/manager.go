package manager

import (
	"FlowSentry/internal/alerter"
	"FlowSentry/internal/api"
	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/ingest"
	"FlowSentry/internal/flowtable"
	"FlowSentry/internal/geo"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"FlowSentry/internal/notification"
	"FlowSentry/internal/query"
	"FlowSentry/internal/snapshot"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// gaugeInterval is how often the flow table size is published.
const gaugeInterval = 10 * time.Second

// Manager owns one engine: its flow table, the ingester feeding it, and the
// snapshot, alerting and query components around it.
type Manager struct {
	table     model.FlowTable
	ingester  *ingest.Ingester
	metrics   *metrics.Metrics
	scheduler *snapshot.Scheduler
	alerter   *alerter.Alerter
	server    *api.Server
	closers   []func()

	done    chan struct{}
	gaugeWg sync.WaitGroup
}

// NewManager builds every component configured in cfg for the host local.
// Nothing runs until Start.
func NewManager(ctx context.Context, cfg *config.Config, local net.IP) (*Manager, error) {
	table, err := flowtable.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		table:   table,
		metrics: metrics.New(),
		done:    make(chan struct{}),
	}

	notifiers, err := m.notifiers(cfg)
	if err != nil {
		m.closeAll()
		return nil, err
	}
	m.alerter, err = alerter.NewAlerter(cfg.Alerter, notifiers...)
	if err != nil {
		m.closeAll()
		return nil, fmt.Errorf("failed to create alerter: %w", err)
	}

	m.ingester = ingest.New(table, ingest.OptionsFromConfig(cfg, local), m.metrics, m.alerter)
	m.scheduler = snapshot.NewScheduler(table, snapshot.NewWriters(ctx, cfg.Snapshot))

	handler := &api.Handler{
		Facade:  api.NewFacade(table, m.ingester),
		Geo:     geo.NewClient(cfg.API.GeoLookupURL),
		History: historyQuerier(ctx, cfg),
		Alerts:  m.alerter,
		Metrics: m.metrics.Handler(),
	}
	m.server, err = api.NewServer(cfg.API, handler)
	if err != nil {
		m.closeAll()
		return nil, err
	}
	return m, nil
}

// notifiers returns the digest channels enabled in cfg. With the alerter
// disabled, alerts are still logged and streamed but never digested.
func (m *Manager) notifiers(cfg *config.Config) ([]model.Notifier, error) {
	if !cfg.Alerter.Enabled {
		return nil, nil
	}
	var notifiers []model.Notifier
	if cfg.SMTP.Host != "" {
		notifiers = append(notifiers, notification.NewEmailNotifier(cfg.SMTP))
	}
	if cfg.Alerter.NATSSubject != "" {
		n, err := notification.NewNATSNotifier(cfg.Probe.NATSURL, cfg.Alerter.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS notifier: %w", err)
		}
		m.closers = append(m.closers, n.Close)
		notifiers = append(notifiers, n)
	}
	if len(notifiers) == 0 {
		logger.Warn("Alerter is enabled in config, but no notifiers are configured")
	} else {
		logger.Info("Alerter enabled and initialized", "notifiers", len(notifiers))
	}
	return notifiers, nil
}

// historyQuerier connects to the first enabled ClickHouse writer's database.
// Without one, history routes report that they are unavailable.
func historyQuerier(ctx context.Context, cfg *config.Config) query.Querier {
	for _, w := range cfg.Snapshot.Writers {
		if !w.Enabled || w.Type != "clickhouse" {
			continue
		}
		q, err := query.NewClickHouseQuerier(ctx, w.ClickHouse)
		if err != nil {
			logger.Warn("Flow history disabled", "error", err)
			return nil
		}
		return q
	}
	return nil
}

// Ingester returns the engine's ingester.
func (m *Manager) Ingester() *ingest.Ingester {
	return m.ingester
}

// Server returns the engine's query servers.
func (m *Manager) Server() *api.Server {
	return m.server
}

// Start launches the background components: snapshots, alert digests, the
// table size gauge and the query servers.
func (m *Manager) Start() {
	m.scheduler.Start()
	m.alerter.Start()

	m.gaugeWg.Add(1)
	go m.runGauge()

	m.server.Start()
	logger.Info("Manager started")
}

// Run ingests src until it is exhausted, ctx is cancelled, or it fails.
func (m *Manager) Run(ctx context.Context, src model.DatagramSource) error {
	return m.ingester.Run(ctx, src)
}

func (m *Manager) runGauge() {
	defer m.gaugeWg.Done()
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.publishTableSize()
		case <-m.done:
			m.publishTableSize()
			return
		}
	}
}

func (m *Manager) publishTableSize() {
	ctx, cancel := context.WithTimeout(context.Background(), gaugeInterval)
	defer cancel()
	n, err := m.table.Len(ctx)
	if err != nil {
		logger.Warn("Failed to read flow table size", "error", err)
		return
	}
	m.metrics.FlowEntries.Set(float64(n))
}

// Stop shuts the engine down: the query servers first, then a final snapshot
// and alert digest, then the table itself.
func (m *Manager) Stop() {
	logger.Info("Manager stopping...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.server.Stop(ctx)

	close(m.done)
	m.gaugeWg.Wait()

	logger.Info("Waiting for snapshotters to finish...")
	m.scheduler.Stop()
	m.alerter.Stop()

	m.closeAll()
	logger.Info("Manager stopped.")
}

func (m *Manager) closeAll() {
	for _, c := range m.closers {
		c()
	}
	m.closers = nil
	if err := m.table.Close(); err != nil {
		logger.Warn("Failed to close flow table", "error", err)
	}
}
