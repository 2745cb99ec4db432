package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"modelgate/internal/config"
)

// Log is one completed stream's analytics row.
type Log struct {
	RequestID    string
	SessionID    string
	Adapter      string
	Model        string
	TokensIn     int
	TokensOut    int
	WallTimeSec  float64
	TokensPerSec float64
	PeakGPUUsage float64
	PeakGPUTemp  float64
	EndCPUUsage  float64
	EndRAMUsage  float64
	EndGPUPowerW float64
	CompletedAt  time.Time
}

// LogSink persists completed-stream analytics. Implementations must be safe
// for concurrent use and must never block the caller for long; Write is
// invoked asynchronously by the worker.
type LogSink interface {
	Write(ctx context.Context, l Log) error
	Close() error
}

// NewLogSink builds the configured sink. An empty/unrecognized backend
// falls back to "jsonl".
func NewLogSink(cfg config.InferenceLogConfig) (LogSink, error) {
	switch cfg.Backend {
	case "clickhouse":
		return newClickhouseLogSink(cfg)
	default:
		path := cfg.JSONLPath
		if path == "" {
			path = "inference_log.jsonl"
		}
		return newJSONLLogSink(path)
	}
}

// jsonlLogSink appends one JSON object per line to a local file.
type jsonlLogSink struct {
	mu   sync.Mutex
	file *os.File
}

func newJSONLLogSink(path string) (*jsonlLogSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open inference log file: %w", err)
	}
	return &jsonlLogSink{file: f}, nil
}

func (s *jsonlLogSink) Write(_ context.Context, l Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = s.file.Write(b)
	return err
}

func (s *jsonlLogSink) Close() error { return s.file.Close() }

// clickhouseLogSink inserts one row per completed stream into a MergeTree
// table, which it creates on open if it does not already exist.
type clickhouseLogSink struct {
	conn  clickhouse.Conn
	table string
}

func newClickhouseLogSink(cfg config.InferenceLogConfig) (*clickhouseLogSink, error) {
	dsn := strings.TrimSpace(cfg.ClickhouseDSN)
	if dsn == "" {
		return nil, fmt.Errorf("inference log: clickhouse backend requires clickhouse_dsn")
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	table := cfg.ClickhouseTable
	if table == "" {
		table = "inference_log"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	CompletedAt DateTime64(3),
	RequestId String,
	SessionId String,
	Adapter LowCardinality(String),
	Model LowCardinality(String),
	TokensIn UInt32,
	TokensOut UInt32,
	WallTimeSec Float64,
	TokensPerSec Float64,
	PeakGPUUsage Float64,
	PeakGPUTemp Float64,
	EndCPUUsage Float64,
	EndRAMUsage Float64,
	EndGPUPowerW Float64
) ENGINE = MergeTree()
ORDER BY (CompletedAt)
TTL CompletedAt + INTERVAL 90 DAY
`, table)
	if err := conn.Exec(ctx, createSQL); err != nil && !strings.Contains(err.Error(), "already exists") {
		return nil, fmt.Errorf("create inference log table: %w", err)
	}

	return &clickhouseLogSink{conn: conn, table: table}, nil
}

func (s *clickhouseLogSink) Write(ctx context.Context, l Log) error {
	insertSQL := fmt.Sprintf(`INSERT INTO %s (
		CompletedAt, RequestId, SessionId, Adapter, Model, TokensIn, TokensOut,
		WallTimeSec, TokensPerSec, PeakGPUUsage, PeakGPUTemp, EndCPUUsage, EndRAMUsage, EndGPUPowerW
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	return s.conn.Exec(ctx, insertSQL,
		l.CompletedAt, l.RequestID, l.SessionID, l.Adapter, l.Model, l.TokensIn, l.TokensOut,
		l.WallTimeSec, l.TokensPerSec, l.PeakGPUUsage, l.PeakGPUTemp, l.EndCPUUsage, l.EndRAMUsage, l.EndGPUPowerW,
	)
}

func (s *clickhouseLogSink) Close() error { return s.conn.Close() }
