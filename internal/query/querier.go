package query

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/model"
	"FlowSentry/internal/snapshot"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DefaultLimit caps history queries that do not set a limit.
const DefaultLimit = 100

// HistoryRequest selects the snapshots of one flow.
type HistoryRequest struct {
	Flow  string
	Since time.Time
	Until time.Time
	Limit int
}

// HistoryPoint is one flow as it was when a snapshot was taken.
type HistoryPoint struct {
	Taken time.Time             `json:"taken"`
	State model.ConnectionState `json:"state"`
}

// Lifecycle summarizes every snapshot of one flow.
type Lifecycle struct {
	Flow          string    `json:"flow"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	Snapshots     uint64    `json:"snapshots"`
	MaxAToZBytes  uint64    `json:"max_a_to_z_bytes"`
	MaxZToABytes  uint64    `json:"max_z_to_a_bytes"`
	MaxSynCounter uint32    `json:"max_syn_counter"`
}

// Querier defines the interface for querying snapshot history.
type Querier interface {
	History(ctx context.Context, req HistoryRequest) ([]HistoryPoint, error)
	Lifecycle(ctx context.Context, flow string) (*Lifecycle, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(ctx context.Context, cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := snapshot.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// historyQuery builds the SQL and arguments of a history request.
func historyQuery(req HistoryRequest) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		SELECT
			Timestamp, AIP, APort, ZIP, ZPort, FirstSeen, LastSeen,
			AToZBytes, ZToABytes, AToZPackets, ZToAPackets,
			AToZSynCounter, ZToASynCounter,
			AToZLastSeq, AToZLastAck, ZToALastSeq, ZToALastAck
		FROM ` + snapshot.TableName)

	where := []string{"Flow = ?"}
	args := []any{req.Flow}
	if !req.Since.IsZero() {
		where = append(where, "Timestamp >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		where = append(where, "Timestamp <= ?")
		args = append(args, req.Until)
	}
	b.WriteString(" WHERE " + strings.Join(where, " AND "))

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	fmt.Fprintf(&b, " ORDER BY Timestamp DESC LIMIT %d", limit)
	return b.String(), args
}

// History returns the snapshots of one flow, newest first.
func (q *clickhouseQuerier) History(ctx context.Context, req HistoryRequest) ([]HistoryPoint, error) {
	sql, args := historyQuery(req)
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		p := HistoryPoint{State: model.ConnectionState{Key: req.Flow}}
		s := &p.State
		if err := rows.Scan(
			&p.Taken, &s.AEndpoint.IP, &s.AEndpoint.Port, &s.ZEndpoint.IP, &s.ZEndpoint.Port,
			&s.FirstSeen, &s.LastSeen,
			&s.AToZBytes, &s.ZToABytes, &s.AToZPackets, &s.ZToAPackets,
			&s.AToZSynCounter, &s.ZToASynCounter,
			&s.AToZLastSeq, &s.AToZLastAck, &s.ZToALastSeq, &s.ZToALastAck,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Lifecycle aggregates every snapshot of one flow.
func (q *clickhouseQuerier) Lifecycle(ctx context.Context, flow string) (*Lifecycle, error) {
	const sql = `
		SELECT
			min(FirstSeen), max(LastSeen), count(),
			max(AToZBytes), max(ZToABytes),
			greatest(max(AToZSynCounter), max(ZToASynCounter))
		FROM ` + snapshot.TableName + ` WHERE Flow = ?`

	result := Lifecycle{Flow: flow}
	row := q.conn.QueryRow(ctx, sql, flow)
	if err := row.Scan(&result.FirstSeen, &result.LastSeen, &result.Snapshots,
		&result.MaxAToZBytes, &result.MaxZToABytes, &result.MaxSynCounter); err != nil {
		return nil, fmt.Errorf("failed to scan flow lifecycle result: %w", err)
	}
	if result.Snapshots == 0 {
		return nil, model.ErrFlowNotFound
	}
	return &result, nil
}
