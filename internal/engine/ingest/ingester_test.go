package ingest

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/flowtable"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	local = net.ParseIP("10.0.0.5")
	peer  = net.ParseIP("93.184.216.34")
)

func outbound(flags model.TCPFlags) *model.Datagram {
	return &model.Datagram{
		Timestamp: time.Unix(1700000000, 0),
		SrcIP:     local, SrcPort: 51000,
		DstIP: peer, DstPort: 80,
		Seq: 1, Flags: flags,
	}
}

func inbound(payload uint32, flags model.TCPFlags) *model.Datagram {
	return &model.Datagram{
		Timestamp: time.Unix(1700000001, 0),
		SrcIP:     peer, SrcPort: 80,
		DstIP: local, DstPort: 51000,
		PayloadBytes: payload, Seq: 9, Ack: 2, Flags: flags,
	}
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []model.SynAlert
}

func (r *alertRecorder) Raise(a model.SynAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func newIngester(t *testing.T, opts Options) (*Ingester, *flowtable.Memory, *alertRecorder) {
	t.Helper()
	if opts.Local == nil {
		opts.Local = local
	}
	if opts.SynThreshold == 0 {
		opts.SynThreshold = 3
	}
	table := flowtable.NewMemory(false)
	alerts := &alertRecorder{}
	return New(table, opts, metrics.New(), alerts), table, alerts
}

const key = "93.184.216.34:80<->10.0.0.5:51000"

func TestWorkedExample(t *testing.T) {
	ing, table, _ := newIngester(t, Options{})
	ctx := context.Background()

	assert.Equal(t, Tracked, ing.Process(ctx, outbound(model.FlagSYN)))
	state, err := table.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), state.ZToASynCounter)
	assert.Equal(t, uint32(0), state.AToZSynCounter)

	assert.Equal(t, Tracked, ing.Process(ctx, inbound(512, model.FlagSYN|model.FlagACK)))
	state, err = table.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(512), state.AToZBytes)
	assert.Equal(t, uint32(9), state.AToZLastSeq)
	assert.Equal(t, uint32(2), state.AToZLastAck)

	latest, ok := ing.Latest()
	require.True(t, ok)
	assert.Equal(t, key, latest.Key)
	assert.Equal(t, uint64(2), ing.Count())

	n, err := table.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSingleThresholdSignal(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stdout)

	ing, _, alerts := newIngester(t, Options{})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.Equal(t, Tracked, ing.Process(ctx, outbound(model.FlagSYN)))
	}

	require.Len(t, alerts.alerts, 1)
	a := alerts.alerts[0]
	assert.Equal(t, key, a.Flow)
	assert.Equal(t, "z_to_a", a.Direction)
	assert.Equal(t, uint32(3), a.Count)
	assert.Equal(t, model.Endpoint{IP: "93.184.216.34", Port: 80}, a.Peer)
	assert.NotEmpty(t, a.ID)

	assert.Equal(t, 1, strings.Count(buf.String(), " | 3 unanswered SYN packets"))
}

func TestNonSYNSegmentsDoNotAlert(t *testing.T) {
	ing, _, alerts := newIngester(t, Options{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ing.Process(ctx, outbound(model.FlagACK))
	}
	assert.Empty(t, alerts.alerts)
}

func TestFilter(t *testing.T) {
	ing, table, _ := newIngester(t, Options{Filter: "93.184.216.34:80"})
	ctx := context.Background()

	assert.Equal(t, Tracked, ing.Process(ctx, outbound(model.FlagSYN)))
	other := outbound(model.FlagSYN)
	other.DstIP = net.ParseIP("1.1.1.1")
	assert.Equal(t, Filtered, ing.Process(ctx, other))

	n, _ := table.Len(ctx)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), ing.Count())
}

func TestSelfExclusion(t *testing.T) {
	ing, table, _ := newIngester(t, Options{ExcludePorts: []uint16{6379}})
	ctx := context.Background()

	redis := outbound(model.FlagSYN)
	redis.DstPort = 6379
	assert.Equal(t, Excluded, ing.Process(ctx, redis))

	reply := inbound(10, model.FlagACK)
	reply.SrcPort = 6379
	assert.Equal(t, Excluded, ing.Process(ctx, reply))

	n, _ := table.Len(ctx)
	assert.Zero(t, n)
}

func TestUnidentified(t *testing.T) {
	ing, table, _ := newIngester(t, Options{})
	d := outbound(model.FlagSYN)
	d.SrcIP = net.ParseIP("192.168.1.1")
	assert.Equal(t, Unidentified, ing.Process(context.Background(), d))
	n, _ := table.Len(context.Background())
	assert.Zero(t, n)
	_, ok := ing.Latest()
	assert.False(t, ok)
}

type failingTable struct{ *flowtable.Memory }

func (failingTable) Update(context.Context, model.FlowID, *model.Datagram) (model.UpdateResult, error) {
	return model.UpdateResult{}, errors.New("connection refused")
}

func TestStoreFailureContinues(t *testing.T) {
	ing := New(failingTable{flowtable.NewMemory(false)}, Options{Local: local, SynThreshold: 3}, nil, nil)
	assert.Equal(t, StoreFailed, ing.Process(context.Background(), outbound(model.FlagSYN)))
	assert.Equal(t, StoreFailed, ing.Process(context.Background(), outbound(model.FlagSYN)))
	assert.Zero(t, ing.Count())
}

type lenCountingTable struct {
	*flowtable.Memory
	calls int
}

func (l *lenCountingTable) Len(ctx context.Context) (int, error) {
	l.calls++
	return l.Memory.Len(ctx)
}

func TestNewFlowsDoNotScanTable(t *testing.T) {
	table := &lenCountingTable{Memory: flowtable.NewMemory(false)}
	ing := New(table, Options{Local: local, SynThreshold: 3}, metrics.New(), nil)

	for port := uint16(1); port <= 200; port++ {
		d := outbound(model.FlagSYN)
		d.SrcPort = 40000 + port
		require.Equal(t, Tracked, ing.Process(context.Background(), d))
	}
	assert.Zero(t, table.calls)
	n, err := table.Memory.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, n)
}

func TestResetCount(t *testing.T) {
	ing, _, _ := newIngester(t, Options{})
	ing.Process(context.Background(), outbound(model.FlagSYN))
	require.Equal(t, uint64(1), ing.Count())
	ing.ResetCount()
	assert.Zero(t, ing.Count())
}

type sliceSource struct {
	datagrams []*model.Datagram
	err       error
}

func (s *sliceSource) ReadDatagrams(ctx context.Context, out chan<- *model.Datagram) error {
	for _, d := range s.datagrams {
		out <- d
	}
	return s.err
}

func (s *sliceSource) Close() {}

func TestRun(t *testing.T) {
	ing, table, alerts := newIngester(t, Options{})
	src := &sliceSource{datagrams: []*model.Datagram{
		outbound(model.FlagSYN), outbound(model.FlagSYN), outbound(model.FlagSYN), inbound(0, model.FlagRST | model.FlagACK),
	}}
	require.NoError(t, ing.Run(context.Background(), src))

	state, err := table.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), state.ZToASynCounter)
	assert.Len(t, alerts.alerts, 1)
	assert.Equal(t, uint64(4), ing.Count())
}

func TestRunSourceFailure(t *testing.T) {
	ing, _, _ := newIngester(t, Options{})
	err := ing.Run(context.Background(), &sliceSource{
		datagrams: []*model.Datagram{outbound(model.FlagSYN)},
		err:       errors.New("device went away"),
	})
	assert.ErrorContains(t, err, "device went away")
	assert.Equal(t, uint64(1), ing.Count())
}

func TestExcludedPorts(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.ExcludePorts = []uint16{22}
	assert.Equal(t, []uint16{22, 4222}, ExcludedPorts(cfg))

	cfg.Table.Backend = "redis"
	assert.Equal(t, []uint16{22, 4222, 6379}, ExcludedPorts(cfg))

	cfg.Table.Backend = "nats"
	cfg.Table.NATS.URL = "nats://10.0.0.9:4223"
	assert.Equal(t, []uint16{22, 4222, 4223}, ExcludedPorts(cfg))

	opts := OptionsFromConfig(cfg, local)
	assert.Equal(t, uint32(3), opts.SynThreshold)
	assert.Equal(t, "*", opts.Filter)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "tracked", Tracked.String())
	assert.Equal(t, "store_failed", StoreFailed.String())
}
