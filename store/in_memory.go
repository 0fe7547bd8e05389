package store

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agentkernel/core"
)

// InMemoryStore is a volatile EventStore implementation keeping each
// partition in a process local slice. It is safe for concurrent access and
// best suited for tests or ephemeral demo workers. Appends to one partition
// are serialized by a per-partition lock so the single-writer contract holds
// even under misuse.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*memPartition
}

type memPartition struct {
	mu     sync.RWMutex
	events []core.Envelope
	idem   map[string]struct{}
}

// NewInMemoryStore constructs an empty in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{partitions: make(map[string]*memPartition)}
}

func (s *InMemoryStore) partition(key string) *memPartition {
	s.mu.RLock()
	p, ok := s.partitions[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[key]; ok {
		return p
	}
	p = &memPartition{idem: make(map[string]struct{})}
	s.partitions[key] = p
	return p
}

// Append validates and appends an envelope to its partition. A duplicate
// idempotency key within the partition is accepted as a silent no-op.
func (s *InMemoryStore) Append(_ context.Context, env core.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	p := s.partition(env.PartitionKey)
	p.mu.Lock()
	defer p.mu.Unlock()
	if env.IdempotencyKey != "" {
		if _, seen := p.idem[env.IdempotencyKey]; seen {
			return nil
		}
		p.idem[env.IdempotencyKey] = struct{}{}
	}
	p.events = append(p.events, env)
	return nil
}

// Read returns envelopes at or after opts.FromOffset in ascending offset
// order, optionally filtered by event type and correlation id.
func (s *InMemoryStore) Read(_ context.Context, partition string, opts core.ReadOptions) ([]core.Envelope, error) {
	p := s.partition(partition)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if opts.FromOffset >= len(p.events) {
		return nil, nil
	}
	var out []core.Envelope
	for _, env := range p.events[opts.FromOffset:] {
		if opts.EventType != "" && env.EventType != opts.EventType {
			continue
		}
		if opts.CorrelationID != "" && env.CorrelationID != opts.CorrelationID {
			continue
		}
		out = append(out, env)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// LastOffset returns the partition's log length.
func (s *InMemoryStore) LastOffset(_ context.Context, partition string) (int, error) {
	p := s.partition(partition)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.events), nil
}

// ReadByCorrelation returns every envelope sharing a correlation id, in
// offset order, across the whole partition.
func (s *InMemoryStore) ReadByCorrelation(ctx context.Context, partition, correlationID string) ([]core.Envelope, error) {
	return s.Read(ctx, partition, core.ReadOptions{CorrelationID: correlationID})
}

// Partitions lists partition keys in sorted order.
func (s *InMemoryStore) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.partitions))
	for k := range s.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
