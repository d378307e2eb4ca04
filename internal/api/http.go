package api

import (
	"FlowSentry/internal/geo"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"FlowSentry/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// GeoLookup resolves an address to its geolocation.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) (geo.IPInfo, error)
}

// AlertFeed streams SYN alerts as they are raised.
type AlertFeed interface {
	Subscribe() (<-chan model.SynAlert, func())
}

// Handler holds the dependencies of the HTTP routes. Only Facade is required.
type Handler struct {
	Facade  *Facade
	Geo     GeoLookup
	History query.Querier
	Alerts  AlertFeed
	Metrics http.Handler
}

// ConnInfo is the body of GET /conn.
type ConnInfo struct {
	Connection model.ConnectionState `json:"connection"`
	Geo        geo.IPInfo            `json:"geo"`
}

const indexPage = `<html>
    <head>
        <title>FlowSentry</title>
    </head>
    <body>
        <h1>FlowSentry</h1>
        <p>Visit <a href="/conn">/conn</a> to see the latest connection.</p>
        <p>Visit <a href="/flows">/flows</a> for every tracked flow, <a href="/count">/count</a> for the datagram counter.</p>
    </body>
</html>`

// Router builds the HTTP routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", h.index).Methods(http.MethodGet)
	r.HandleFunc("/conn", h.conn).Methods(http.MethodGet)
	r.HandleFunc("/flows", h.flows).Methods(http.MethodGet)
	r.HandleFunc("/flows/{key}", h.flow).Methods(http.MethodGet)
	r.HandleFunc("/count", h.count).Methods(http.MethodGet)
	r.HandleFunc("/reset_count", h.resetCount).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/history/{key}", h.history).Methods(http.MethodGet)
	r.HandleFunc("/ws/alerts", h.alerts).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

func (h *Handler) conn(w http.ResponseWriter, r *http.Request) {
	state, ok := h.Facade.Latest()
	if !ok {
		http.Error(w, "no latest connection", http.StatusNotFound)
		return
	}
	info := ConnInfo{Connection: state}
	if h.Geo != nil {
		var err error
		info.Geo, err = h.Geo.Lookup(r.Context(), state.AEndpoint.IP)
		if err != nil {
			logger.Warn("Geo lookup failed", "ip", state.AEndpoint.IP, "error", err)
			http.Error(w, fmt.Sprintf("geo lookup failed: %v", err), http.StatusBadGateway)
			return
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) flows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.Facade.Snapshot(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to snapshot flows: %v", err), http.StatusInternalServerError)
		return
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].Key < flows[j].Key })
	if flows == nil {
		flows = []model.ConnectionState{}
	}
	writeJSON(w, http.StatusOK, flows)
}

func (h *Handler) flow(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	state, err := h.Facade.Get(r.Context(), key)
	if errors.Is(err, model.ErrFlowNotFound) {
		http.Error(w, fmt.Sprintf("flow %s not found", key), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get flow: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(strconv.FormatUint(h.Facade.Count(), 10)))
}

func (h *Handler) resetCount(w http.ResponseWriter, r *http.Request) {
	h.Facade.ResetCount()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("0"))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "history is not configured", http.StatusServiceUnavailable)
		return
	}

	req := query.HistoryRequest{Flow: mux.Vars(r)["key"]}
	q := r.URL.Query()
	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("since"); v != "" {
		if req.Since, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "invalid since, want RFC3339", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("until"); v != "" {
		if req.Until, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "invalid until, want RFC3339", http.StatusBadRequest)
			return
		}
	}

	points, err := h.History.History(r.Context(), req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query history: %v", err), http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []query.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	n, err := h.Facade.Len(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "flows": n, "processed": h.Facade.Count()})
}
