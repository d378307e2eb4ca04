package flowtable

import (
	"FlowSentry/internal/flow"
	"FlowSentry/internal/model"
	"context"
	"hash/fnv"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Memory is an in-process flow table. Entries live in a sharded map and
// every mutation runs as a single callback under the owning shard's lock.
type Memory struct {
	flows    cmap.ConcurrentMap[string, model.ConnectionState]
	countAll bool
}

func fnv32a(key string) uint32 {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return hasher.Sum32()
}

// NewMemory creates an empty in-process table.
func NewMemory(countAll bool) *Memory {
	return &Memory{
		flows:    cmap.NewWithCustomShardingFunction[string, model.ConnectionState](fnv32a),
		countAll: countAll,
	}
}

func (m *Memory) GetOrCreate(ctx context.Context, id model.FlowID) (model.ConnectionState, bool, error) {
	var created bool
	state := m.flows.Upsert(id.Key, model.NewConnectionState(id, timeNow()),
		func(exist bool, cur, fresh model.ConnectionState) model.ConnectionState {
			if exist {
				return cur
			}
			created = true
			return fresh
		})
	return state, created, nil
}

func (m *Memory) Update(ctx context.Context, id model.FlowID, d *model.Datagram) (model.UpdateResult, error) {
	var res model.UpdateResult
	m.flows.Upsert(id.Key, model.NewConnectionState(id, d.Timestamp),
		func(exist bool, cur, fresh model.ConnectionState) model.ConnectionState {
			if !exist {
				cur = fresh
				res.Created = true
			}
			res.SynCounted, res.SynCount = flow.Apply(&cur, id.Direction, d, m.countAll)
			res.State = cur
			return cur
		})
	return res, nil
}

func (m *Memory) Get(ctx context.Context, key string) (model.ConnectionState, error) {
	state, ok := m.flows.Get(key)
	if !ok {
		return model.ConnectionState{}, model.ErrFlowNotFound
	}
	return state, nil
}

// Snapshot copies every entry. Each entry is read under its shard lock, so no
// entry is ever torn; the set as a whole is not a single point-in-time view.
func (m *Memory) Snapshot(ctx context.Context) ([]model.ConnectionState, error) {
	items := m.flows.Items()
	states := make([]model.ConnectionState, 0, len(items))
	for _, s := range items {
		states = append(states, s)
	}
	return states, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.flows.Remove(key)
	return nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	return m.flows.Count(), nil
}

func (m *Memory) Close() error {
	m.flows.Clear()
	return nil
}
