package flowtable

import (
	"FlowSentry/internal/model"
	"FlowSentry/internal/store"
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is a flow table kept in an external backend. Each mutation is a short
// sequence of backend primitives: creation is atomic, but the fields of one
// record are updated one at a time, so concurrent readers may observe a
// record between two field updates.
type Store struct {
	backend   store.Backend
	opTimeout time.Duration
	countAll  bool
}

// NewStore creates a table over backend. Every operation is bounded by opTimeout.
func NewStore(backend store.Backend, opTimeout time.Duration, countAll bool) *Store {
	return &Store{backend: backend, opTimeout: opTimeout, countAll: countAll}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) load(ctx context.Context, key string) (model.ConnectionState, error) {
	fields, err := s.backend.GetAll(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return model.ConnectionState{}, model.ErrFlowNotFound
	}
	if err != nil {
		return model.ConnectionState{}, err
	}
	state, err := decodeState(key, fields)
	if err != nil {
		return model.ConnectionState{}, fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return state, nil
}

func (s *Store) GetOrCreate(ctx context.Context, id model.FlowID) (model.ConnectionState, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created, err := s.backend.Create(ctx, id.Key, encodeState(model.NewConnectionState(id, timeNow())))
	if err != nil {
		return model.ConnectionState{}, false, err
	}
	state, err := s.load(ctx, id.Key)
	return state, created, err
}

func (s *Store) Update(ctx context.Context, id model.FlowID, d *model.Datagram) (model.UpdateResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var res model.UpdateResult
	created, err := s.backend.Create(ctx, id.Key, encodeState(model.NewConnectionState(id, d.Timestamp)))
	if err != nil {
		return res, err
	}
	res.Created = created

	f := fieldsFor(id.Direction)
	if _, err := s.backend.IncrementField(ctx, id.Key, f.bytes, int64(d.PayloadBytes)); err != nil {
		return res, err
	}
	if _, err := s.backend.IncrementField(ctx, id.Key, f.packets, 1); err != nil {
		return res, err
	}
	if err := s.backend.SetField(ctx, id.Key, f.seq, formatUint(uint64(d.Seq))); err != nil {
		return res, err
	}
	if err := s.backend.SetField(ctx, id.Key, f.ack, formatUint(uint64(d.Ack))); err != nil {
		return res, err
	}

	res.SynCounted = s.countAll || d.Flags.IsSYN()
	if res.SynCounted {
		n, err := s.backend.IncrementField(ctx, id.Key, f.syn, 1)
		if err != nil {
			return res, err
		}
		res.SynCount = uint32(n)
	}

	if !created && !d.Timestamp.IsZero() {
		if err := s.backend.SetField(ctx, id.Key, fieldLastSeen, formatTime(d.Timestamp)); err != nil {
			return res, err
		}
	}

	res.State, err = s.load(ctx, id.Key)
	if err != nil {
		return res, err
	}
	if !res.SynCounted {
		res.SynCount = res.State.SynCounter(id.Direction)
	}
	return res, nil
}

func (s *Store) Get(ctx context.Context, key string) (model.ConnectionState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.load(ctx, key)
}

// Snapshot reads every record. Records deleted while the walk is in progress are skipped.
func (s *Store) Snapshot(ctx context.Context) ([]model.ConnectionState, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]model.ConnectionState, 0, len(keys))
	for _, key := range keys {
		state, err := s.Get(ctx, key)
		if errors.Is(err, model.ErrFlowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.ListKeys(ctx)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.Delete(ctx, key)
}

func (s *Store) Len(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	return len(keys), err
}

func (s *Store) Close() error {
	return s.backend.Close()
}
