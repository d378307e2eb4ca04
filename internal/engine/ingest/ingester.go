package ingest

import (
	"FlowSentry/internal/flow"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome is what the ingester did with one datagram.
type Outcome int

const (
	Filtered Outcome = iota
	Excluded
	Unidentified
	Tracked
	StoreFailed
)

func (o Outcome) String() string {
	switch o {
	case Filtered:
		return metrics.OutcomeFiltered
	case Excluded:
		return metrics.OutcomeExcluded
	case Unidentified:
		return metrics.OutcomeUnidentified
	case Tracked:
		return metrics.OutcomeTracked
	case StoreFailed:
		return metrics.OutcomeStoreFailed
	default:
		return "unknown"
	}
}

// MatchAll disables the address filter.
const MatchAll = "*"

// Options configures an Ingester.
type Options struct {
	// Local is the IPv4 address of the monitored host.
	Local net.IP
	// Filter must appear in "src:port->dst:port" for a datagram to be tracked.
	Filter string
	// ExcludePorts drops datagrams to or from these ports, such as the
	// backing store's own traffic.
	ExcludePorts []uint16
	// SynThreshold is the SYN count at which a flow direction is reported.
	SynThreshold uint32
}

// AlertSink receives SYN alerts.
type AlertSink interface {
	Raise(alert model.SynAlert)
}

// Ingester applies captured datagrams to a flow table, one at a time, in capture order.
type Ingester struct {
	table   model.FlowTable
	opts    Options
	exclude map[uint16]struct{}
	metrics *metrics.Metrics
	alerts  AlertSink

	latest    atomic.Pointer[model.ConnectionState]
	processed atomic.Uint64
}

// New creates an ingester over table. alerts may be nil.
func New(table model.FlowTable, opts Options, m *metrics.Metrics, alerts AlertSink) *Ingester {
	if opts.Filter == "" {
		opts.Filter = MatchAll
	}
	if m == nil {
		m = metrics.New()
	}
	exclude := make(map[uint16]struct{}, len(opts.ExcludePorts))
	for _, p := range opts.ExcludePorts {
		exclude[p] = struct{}{}
	}
	return &Ingester{table: table, opts: opts, exclude: exclude, metrics: m, alerts: alerts}
}

// Run feeds every datagram produced by src through Process until src is
// exhausted or ctx is cancelled. A failing source is returned as an error.
func (i *Ingester) Run(ctx context.Context, src model.DatagramSource) error {
	out := make(chan *model.Datagram, 1024)
	errc := make(chan error, 1)
	go func() {
		errc <- src.ReadDatagrams(ctx, out)
		close(out)
	}()

	logger.Info("Ingestion started", "local", i.opts.Local.String(), "filter", i.opts.Filter, "excluded_ports", i.opts.ExcludePorts)
	for d := range out {
		i.Process(ctx, d)
	}

	if err := <-errc; err != nil {
		return fmt.Errorf("capture source failed: %w", err)
	}
	logger.Info("Ingestion finished", "processed", i.Count())
	return nil
}

// Process applies one datagram and reports what happened to it.
func (i *Ingester) Process(ctx context.Context, d *model.Datagram) Outcome {
	outcome := i.process(ctx, d)
	i.metrics.Datagrams.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (i *Ingester) process(ctx context.Context, d *model.Datagram) Outcome {
	if i.opts.Filter != MatchAll && !strings.Contains(d.String(), i.opts.Filter) {
		return Filtered
	}
	if i.excluded(d) {
		logger.Debug("Skipped excluded datagram", "datagram", d.String())
		return Excluded
	}

	id, err := flow.Resolve(d, i.opts.Local)
	if err != nil {
		logger.Debug("Unable to identify flow direction", "error", err)
		return Unidentified
	}

	res, err := i.table.Update(ctx, id, d)
	if err != nil {
		logger.Warn("Failed to update flow", "flow", id.Key, "direction", id.Direction.String(), "error", err)
		i.metrics.StoreErrors.Inc()
		return StoreFailed
	}

	state := res.State
	i.latest.Store(&state)
	i.processed.Add(1)
	if res.Created {
		i.metrics.FlowsCreated.Inc()
		i.metrics.FlowEntries.Inc()
	}

	if res.SynCounted && res.SynCount == i.opts.SynThreshold {
		i.raise(id, res.SynCount, d.Timestamp)
	}
	return Tracked
}

func (i *Ingester) excluded(d *model.Datagram) bool {
	if _, ok := i.exclude[d.SrcPort]; ok {
		return true
	}
	_, ok := i.exclude[d.DstPort]
	return ok
}

func (i *Ingester) raise(id model.FlowID, count uint32, ts time.Time) {
	logger.Warn(fmt.Sprintf("%s | %d unanswered SYN packets", id.Key, count),
		"flow", id.Key, "direction", id.Direction.String(), "count", count)
	i.metrics.SynAlerts.Inc()

	if i.alerts == nil {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	i.alerts.Raise(model.SynAlert{
		ID:        uuid.NewString(),
		Flow:      id.Key,
		Direction: id.Direction.String(),
		Count:     count,
		Peer:      id.A,
		Local:     id.Z,
		Raised:    ts,
	})
}

// Latest returns the state of the most recently tracked flow.
func (i *Ingester) Latest() (model.ConnectionState, bool) {
	s := i.latest.Load()
	if s == nil {
		return model.ConnectionState{}, false
	}
	return *s, true
}

// Count returns the number of datagrams tracked since start or the last reset.
func (i *Ingester) Count() uint64 {
	return i.processed.Load()
}

// ResetCount zeroes the tracked datagram counter.
func (i *Ingester) ResetCount() {
	i.processed.Store(0)
}
