package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// CaptureConfig describes where datagrams come from.
type CaptureConfig struct {
	Source       string   `yaml:"source"` // live, file or nats
	Interface    string   `yaml:"interface"`
	IPv4         string   `yaml:"ipv4"`   // local host address; discovered from the interface when empty
	Filter       string   `yaml:"filter"` // address substring filter, "*" disables filtering
	BPF          string   `yaml:"bpf"`
	ReadFile     string   `yaml:"read_file"`
	SnapshotLen  int32    `yaml:"snapshot_len"`
	Promiscuous  bool     `yaml:"promiscuous"`
	ExcludePorts []uint16 `yaml:"exclude_ports"`
}

// TrackingConfig tunes the SYN heuristic.
type TrackingConfig struct {
	SynThreshold     uint32 `yaml:"syn_threshold"`
	CountAllSegments bool   `yaml:"count_all_segments"`
}

// RedisConfig holds connection details for the redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NATSKVConfig holds connection details for the JetStream key-value backend.
type NATSKVConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// BadgerConfig holds the on-disk location of the badger backend.
type BadgerConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// TableConfig selects and tunes the flow table.
type TableConfig struct {
	Backend     string       `yaml:"backend"` // memory, redis, nats or badger
	MaxEntries  int          `yaml:"max_entries"`
	IdleTimeout string       `yaml:"idle_timeout"`
	OpTimeout   string       `yaml:"op_timeout"`
	Redis       RedisConfig  `yaml:"redis"`
	NATS        NATSKVConfig `yaml:"nats"`
	Badger      BadgerConfig `yaml:"badger"`
}

// ProbeConfig holds the NATS details used to ship datagrams between processes.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// APIConfig holds the listen addresses of the query surface.
type APIConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`
	GeoLookupURL   string `yaml:"geo_lookup_url"`
}

// ClickHouseConfig holds ClickHouse connection details.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// GobConfig holds the output directory of the gob writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines a single snapshot writer.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	Gob              GobConfig        `yaml:"gob"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// SnapshotConfig lists the snapshot writers.
type SnapshotConfig struct {
	Writers []WriterDef `yaml:"writers"`
}

// AlerterConfig controls SYN alert digests.
type AlerterConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CheckInterval string `yaml:"check_interval"`
	NATSSubject   string `yaml:"nats_subject"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Capture  CaptureConfig  `yaml:"capture"`
	Tracking TrackingConfig `yaml:"tracking"`
	Table    TableConfig    `yaml:"table"`
	Probe    ProbeConfig    `yaml:"probe"`
	API      APIConfig      `yaml:"api"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Alerter  AlerterConfig  `yaml:"alerter"`
	SMTP     SMTPConfig     `yaml:"smtp"`
}

// Default returns a configuration that tracks live traffic in memory.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Capture: CaptureConfig{
			Source:      "live",
			Filter:      "*",
			SnapshotLen: 1600,
			Promiscuous: true,
		},
		Tracking: TrackingConfig{SynThreshold: 3},
		Table: TableConfig{
			Backend:   "memory",
			OpTimeout: "2s",
			Redis:     RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "tcpflow:"},
			NATS:      NATSKVConfig{URL: "nats://127.0.0.1:4222", Bucket: "tcpflows"},
			Badger:    BadgerConfig{Path: "data/badger"},
		},
		Probe: ProbeConfig{NATSURL: "nats://127.0.0.1:4222", Subject: "flowsentry.datagrams"},
		API: APIConfig{
			HttpListenAddr: ":8000",
			GrpcListenAddr: ":8001",
			GeoLookupURL:   "http://demo.ip-api.com/json/%s?fields=66846719",
		},
		Alerter: AlerterConfig{CheckInterval: "1m"},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late, deep inside the engine.
func (c *Config) Validate() error {
	switch c.Capture.Source {
	case "live", "file", "nats":
	default:
		return fmt.Errorf("unknown capture source: '%s'", c.Capture.Source)
	}
	if c.Capture.Source == "file" && c.Capture.ReadFile == "" {
		return fmt.Errorf("capture source 'file' requires read_file")
	}
	if c.Capture.IPv4 != "" && net.ParseIP(c.Capture.IPv4).To4() == nil {
		return fmt.Errorf("invalid local ipv4 address: '%s'", c.Capture.IPv4)
	}
	if c.Tracking.SynThreshold == 0 {
		return fmt.Errorf("tracking syn_threshold must be positive")
	}
	if c.Table.MaxEntries < 0 {
		return fmt.Errorf("table max_entries must not be negative")
	}
	if _, err := c.Table.IdleTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Table.OpTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Alerter.CheckIntervalDuration(); err != nil {
		return err
	}
	return nil
}

// CheckIntervalDuration parses check_interval; empty means one minute.
func (a AlerterConfig) CheckIntervalDuration() (time.Duration, error) {
	if a.CheckInterval == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(a.CheckInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("alerter check_interval must be positive")
	}
	return d, nil
}

// IdleTimeoutDuration parses idle_timeout; empty means no idle eviction.
func (t TableConfig) IdleTimeoutDuration() (time.Duration, error) {
	return parseOptionalDuration("idle_timeout", t.IdleTimeout)
}

// OpTimeoutDuration parses op_timeout; empty means the 2s default.
func (t TableConfig) OpTimeoutDuration() (time.Duration, error) {
	d, err := parseOptionalDuration("op_timeout", t.OpTimeout)
	if err == nil && d == 0 {
		d = 2 * time.Second
	}
	return d, err
}

func parseOptionalDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid table %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("table %s must not be negative", name)
	}
	return d, nil
}

// BackendAddr returns the network address of the configured external backend,
// or "" for in-process backends.
func (c *Config) BackendAddr() string {
	switch c.Table.Backend {
	case "redis":
		return c.Table.Redis.Addr
	case "nats":
		return c.Table.NATS.URL
	default:
		return ""
	}
}
