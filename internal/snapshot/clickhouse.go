package snapshot

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// TableName is the ClickHouse table holding flow snapshots.
const TableName = "tcp_flows"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS tcp_flows (
    Timestamp       DateTime,
    Flow            String,
    AIP             String,
    APort           UInt16,
    ZIP             String,
    ZPort           UInt16,
    FirstSeen       DateTime64(3),
    LastSeen        DateTime64(3),
    AToZBytes       UInt64,
    ZToABytes       UInt64,
    AToZPackets     UInt64,
    ZToAPackets     UInt64,
    AToZSynCounter  UInt32,
    ZToASynCounter  UInt32,
    AToZLastSeq     UInt32,
    AToZLastAck     UInt32,
    ZToALastSeq     UInt32,
    ZToALastAck     UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Flow, Timestamp);
`

// Connect opens and pings a ClickHouse connection.
func Connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// ClickHouseWriter appends every flow of a snapshot as one row of tcp_flows.
// It implements the model.Writer interface.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(ctx context.Context, cfg config.ClickHouseConfig, interval time.Duration) (*ClickHouseWriter, error) {
	conn, err := Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("Connected to ClickHouse and ensured table exists", "table", TableName)
	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func (w *ClickHouseWriter) Name() string {
	return "clickhouse"
}

// Row returns the column values of one flow in tcp_flows order.
func Row(taken time.Time, f model.ConnectionState) []any {
	return []any{
		taken,
		f.Key,
		f.AEndpoint.IP, f.AEndpoint.Port,
		f.ZEndpoint.IP, f.ZEndpoint.Port,
		f.FirstSeen, f.LastSeen,
		f.AToZBytes, f.ZToABytes,
		f.AToZPackets, f.ZToAPackets,
		f.AToZSynCounter, f.ZToASynCounter,
		f.AToZLastSeq, f.AToZLastAck,
		f.ZToALastSeq, f.ZToALastAck,
	}
}

// Write inserts the snapshot in a single batch.
func (w *ClickHouseWriter) Write(ctx context.Context, s model.TableSnapshot) error {
	if len(s.Flows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+TableName)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, f := range s.Flows {
		if err := batch.Append(Row(s.Taken, f)...); err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	logger.Info("Wrote flows to ClickHouse", "flows", len(s.Flows), "table", TableName)
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
