package store

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

func init() {
	Register("nats", func(cfg *config.Config) (Backend, error) {
		opTimeout, err := cfg.Table.OpTimeoutDuration()
		if err != nil {
			return nil, err
		}
		return NewNATSBackend(cfg.Table.NATS, opTimeout)
	})
}

// NATSBackend keeps one JSON record per flow in a JetStream key-value bucket.
// Field updates are compare-and-swap on the entry revision.
type NATSBackend struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// NewNATSBackend connects to NATS and opens (or creates) the bucket.
func NewNATSBackend(cfg config.NATSKVConfig, opTimeout time.Duration) (*NATSBackend, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("flowsentry-table"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream(nats.MaxWait(opTimeout))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "FlowSentry connection state",
			History:     1,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open key-value bucket '%s': %w", cfg.Bucket, err)
	}

	logger.Info("Connected to NATS key-value bucket", "url", cfg.URL, "bucket", cfg.Bucket)
	return &NATSBackend{nc: nc, kv: kv}, nil
}

// Flow keys contain ':' and '<->', which are not valid bucket keys.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	return string(raw), err
}

func (n *NATSBackend) load(key string) (map[string]string, uint64, error) {
	entry, err := n.kv.Get(encodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("nats get %s: %w", key, err)
	}
	fields := make(map[string]string)
	if err := json.Unmarshal(entry.Value(), &fields); err != nil {
		return nil, 0, fmt.Errorf("nats decode %s: %w", key, err)
	}
	return fields, entry.Revision(), nil
}

// modify applies fn to the current record and writes it back against the revision it read.
func (n *NATSBackend) modify(ctx context.Context, key string, fn func(fields map[string]string) error) error {
	_, err := retry(ctx, func() (struct{}, error) {
		fields, rev, err := n.load(key)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if err := fn(fields); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		_, err = n.kv.Update(encodeKey(key), data, rev)
		return struct{}{}, err
	})
	return err
}

func (n *NATSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, _, err := n.load(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (n *NATSBackend) Create(ctx context.Context, key string, fields map[string]string) (bool, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("nats encode %s: %w", key, err)
	}
	_, err = n.kv.Create(encodeKey(key), data)
	if errors.Is(err, nats.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("nats create %s: %w", key, err)
	}
	return true, nil
}

func (n *NATSBackend) IncrementField(ctx context.Context, key, field string, by int64) (int64, error) {
	var value int64
	err := n.modify(ctx, key, func(fields map[string]string) error {
		current, err := parseCounter(fields[field])
		if err != nil {
			return fmt.Errorf("field %s of %s: %w", field, key, err)
		}
		value = current + by
		fields[field] = strconv.FormatInt(value, 10)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (n *NATSBackend) SetField(ctx context.Context, key, field, value string) error {
	return n.modify(ctx, key, func(fields map[string]string) error {
		fields[field] = value
		return nil
	})
}

func (n *NATSBackend) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, _, err := n.load(key)
	return fields, err
}

func (n *NATSBackend) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(encodeKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("nats delete %s: %w", key, err)
	}
	return nil
}

func (n *NATSBackend) ListKeys(ctx context.Context) ([]string, error) {
	encoded, err := n.kv.Keys(nats.Context(ctx))
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nats keys: %w", err)
	}
	keys := make([]string, 0, len(encoded))
	for _, e := range encoded {
		k, err := decodeKey(e)
		if err != nil {
			logger.Warn("Skipping undecodable bucket key", "key", e, "error", err)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (n *NATSBackend) Close() error {
	if n.nc != nil {
		return n.nc.Drain()
	}
	return nil
}

func parseCounter(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
