package store

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
)

func init() {
	Register("badger", func(cfg *config.Config) (Backend, error) {
		return NewBadgerBackend(cfg.Table.Badger)
	})
}

// BadgerBackend keeps flow records in an embedded badger database, one JSON
// record per key. Every call is a single transaction.
type BadgerBackend struct {
	db *badger.DB
}

// NewBadgerBackend opens the database at cfg.Path, or an in-memory one.
func NewBadgerBackend(cfg config.BadgerConfig) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at '%s': %w", cfg.Path, err)
	}
	logger.Info("Opened badger backend", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &BadgerBackend{db: db}, nil
}

func readRecord(txn *badger.Txn, key string) (map[string]string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &fields)
	})
	return fields, err
}

func writeRecord(txn *badger.Txn, key string, fields map[string]string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// update runs fn in a read-write transaction, retrying on transaction conflicts.
func (b *BadgerBackend) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	_, err := retry(ctx, func() (struct{}, error) {
		err := b.db.Update(fn)
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	})
	return err
}

func (b *BadgerBackend) Exists(ctx context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger exists %s: %w", key, err)
	}
	return true, nil
}

func (b *BadgerBackend) Create(ctx context.Context, key string, fields map[string]string) (bool, error) {
	var created bool
	err := b.update(ctx, func(txn *badger.Txn) error {
		created = false
		if _, err := readRecord(txn, key); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		created = true
		return writeRecord(txn, key, fields)
	})
	if err != nil {
		return false, fmt.Errorf("badger create %s: %w", key, err)
	}
	return created, nil
}

func (b *BadgerBackend) IncrementField(ctx context.Context, key, field string, by int64) (int64, error) {
	var value int64
	err := b.update(ctx, func(txn *badger.Txn) error {
		fields, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		current, err := parseCounter(fields[field])
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		value = current + by
		fields[field] = strconv.FormatInt(value, 10)
		return writeRecord(txn, key, fields)
	})
	if err != nil {
		return 0, fmt.Errorf("badger increment %s: %w", key, err)
	}
	return value, nil
}

func (b *BadgerBackend) SetField(ctx context.Context, key, field, value string) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		fields, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		fields[field] = value
		return writeRecord(txn, key, fields)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

func (b *BadgerBackend) GetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		fields, err = readRecord(txn, key)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return fields, nil
}

func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

func (b *BadgerBackend) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list keys: %w", err)
	}
	return keys, nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
