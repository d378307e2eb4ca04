package api

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/flowtable"
	"FlowSentry/internal/geo"
	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"
	"FlowSentry/internal/query"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const flowKey = "93.184.216.34:80<->10.0.0.5:51000"

type fakeTracker struct {
	latest *model.ConnectionState
	count  atomic.Uint64
}

func (f *fakeTracker) Latest() (model.ConnectionState, bool) {
	if f.latest == nil {
		return model.ConnectionState{}, false
	}
	return *f.latest, true
}
func (f *fakeTracker) Count() uint64 { return f.count.Load() }
func (f *fakeTracker) ResetCount()   { f.count.Store(0) }

type fakeGeo struct{ err error }

func (g fakeGeo) Lookup(ctx context.Context, ip string) (geo.IPInfo, error) {
	if g.err != nil {
		return geo.IPInfo{}, g.err
	}
	return geo.IPInfo{Status: "success", Country: "United States", Query: ip}, nil
}

type fakeHistory struct{ req query.HistoryRequest }

func (f *fakeHistory) History(ctx context.Context, req query.HistoryRequest) ([]query.HistoryPoint, error) {
	f.req = req
	return []query.HistoryPoint{{Taken: time.Unix(1700000000, 0).UTC(), State: model.ConnectionState{Key: req.Flow}}}, nil
}

func (f *fakeHistory) Lifecycle(ctx context.Context, flow string) (*query.Lifecycle, error) {
	return nil, model.ErrFlowNotFound
}

type fakeFeed struct{ ch chan model.SynAlert }

func (f fakeFeed) Subscribe() (<-chan model.SynAlert, func()) { return f.ch, func() {} }

func seededFacade(t *testing.T) (*Facade, *fakeTracker) {
	t.Helper()
	table := flowtable.NewMemory(false)
	t.Cleanup(func() { table.Close() })

	id := model.FlowID{
		Key:       flowKey,
		A:         model.Endpoint{IP: "93.184.216.34", Port: 80},
		Z:         model.Endpoint{IP: "10.0.0.5", Port: 51000},
		Direction: model.AToZ,
	}
	res, err := table.Update(context.Background(), id, &model.Datagram{
		Timestamp: time.Unix(1700000000, 0),
		SrcIP:     net.ParseIP("93.184.216.34"), SrcPort: 80,
		DstIP: net.ParseIP("10.0.0.5"), DstPort: 51000,
		PayloadBytes: 1500, Seq: 9, Ack: 2, Flags: model.FlagACK,
	})
	require.NoError(t, err)

	tracker := &fakeTracker{latest: &res.State}
	tracker.count.Store(7)
	return NewFacade(table, tracker), tracker
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHTTPRoutes(t *testing.T) {
	facade, tracker := seededFacade(t)
	history := &fakeHistory{}
	m := metrics.New()
	h := (&Handler{Facade: facade, Geo: fakeGeo{}, History: history, Metrics: m.Handler()}).Router()

	t.Run("Index", func(t *testing.T) {
		rec := get(t, h, "/")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "/conn")
	})

	t.Run("Conn", func(t *testing.T) {
		rec := get(t, h, "/conn")
		require.Equal(t, http.StatusOK, rec.Code)
		var info ConnInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, flowKey, info.Connection.Key)
		assert.Equal(t, "93.184.216.34", info.Geo.Query)
	})

	t.Run("Flows", func(t *testing.T) {
		rec := get(t, h, "/flows")
		require.Equal(t, http.StatusOK, rec.Code)
		var flows []model.ConnectionState
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flows))
		require.Len(t, flows, 1)
		assert.EqualValues(t, 1500, flows[0].AToZBytes)
	})

	t.Run("Flow", func(t *testing.T) {
		rec := get(t, h, "/flows/"+url.PathEscape(flowKey))
		require.Equal(t, http.StatusOK, rec.Code)
		var state model.ConnectionState
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
		assert.Equal(t, uint32(9), state.AToZLastSeq)

		assert.Equal(t, http.StatusNotFound, get(t, h, "/flows/"+url.PathEscape("1.1.1.1:1<->10.0.0.5:2")).Code)
	})

	t.Run("Count", func(t *testing.T) {
		assert.Equal(t, "7", get(t, h, "/count").Body.String())
		assert.Equal(t, "0", get(t, h, "/reset_count").Body.String())
		assert.Equal(t, uint64(0), tracker.Count())
		assert.Equal(t, "0", get(t, h, "/count").Body.String())
	})

	t.Run("History", func(t *testing.T) {
		rec := get(t, h, "/history/"+url.PathEscape(flowKey)+"?limit=5&since=2023-11-14T00:00:00Z")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, flowKey, history.req.Flow)
		assert.Equal(t, 5, history.req.Limit)
		assert.Equal(t, 2023, history.req.Since.Year())

		assert.Equal(t, http.StatusBadRequest, get(t, h, "/history/x?limit=ten").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/history/x?until=yesterday").Code)
	})

	t.Run("Healthz", func(t *testing.T) {
		rec := get(t, h, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"flows": 1`)
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := get(t, h, "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "flowsentry_datagrams_total")
	})
}

func TestHTTPUnavailableRoutes(t *testing.T) {
	table := flowtable.NewMemory(false)
	defer table.Close()
	h := (&Handler{Facade: NewFacade(table, &fakeTracker{})}).Router()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/conn").Code)
	assert.Equal(t, "[]\n", get(t, h, "/flows").Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/history/x").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ws/alerts").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func TestConnGeoFailure(t *testing.T) {
	facade, _ := seededFacade(t)
	h := (&Handler{Facade: facade, Geo: fakeGeo{err: errors.New("rate limited")}}).Router()
	rec := get(t, h, "/conn")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limited")
}

func TestAlertStream(t *testing.T) {
	facade, _ := seededFacade(t)
	feed := fakeFeed{ch: make(chan model.SynAlert, 1)}
	srv := httptest.NewServer((&Handler{Facade: facade, Alerts: feed}).Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	feed.ch <- model.SynAlert{ID: "a1", Flow: flowKey, Direction: "z_to_a", Count: 3}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got model.SynAlert
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, uint32(3), got.Count)
}

func dialBufconn(t *testing.T, facade *Facade) *FlowQueryClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterFlowQueryServer(s, NewFlowQueryService(facade))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return NewFlowQueryClient(cc)
}

func TestFlowQueryService(t *testing.T) {
	facade, _ := seededFacade(t)
	client := dialBufconn(t, facade)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	latest, err := client.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, flowKey, latest.Key)
	assert.EqualValues(t, 1500, latest.AToZBytes)
	assert.Equal(t, "10.0.0.5", latest.ZEndpoint.IP)
	assert.True(t, latest.FirstSeen.Equal(time.Unix(1700000000, 0)))

	flows, err := client.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, flowKey, flows[0].Key)

	got, err := client.Get(ctx, flowKey)
	require.NoError(t, err)
	assert.Equal(t, uint16(80), got.AEndpoint.Port)

	_, err = client.Get(ctx, "1.1.1.1:1<->10.0.0.5:2")
	assert.Equal(t, codes.NotFound, status.Code(err))

	n, err := client.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	require.NoError(t, client.ResetCount(ctx))
	n, err = client.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlowQueryLatestEmpty(t *testing.T) {
	table := flowtable.NewMemory(false)
	defer table.Close()
	client := dialBufconn(t, NewFacade(table, &fakeTracker{}))

	_, err := client.Latest(context.Background())
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServerLifecycle(t *testing.T) {
	facade, _ := seededFacade(t)
	srv, err := NewServer(apiConfig("127.0.0.1:0", "127.0.0.1:0"), &Handler{Facade: facade})
	require.NoError(t, err)
	srv.Start()

	resp, err := http.Get("http://" + srv.HTTPAddr() + "/count")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "7", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Stop(ctx)
	assert.NotEmpty(t, srv.GRPCAddr())
}

func apiConfig(httpAddr, grpcAddr string) config.APIConfig {
	return config.APIConfig{HttpListenAddr: httpAddr, GrpcListenAddr: grpcAddr}
}
