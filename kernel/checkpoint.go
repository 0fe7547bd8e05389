package kernel

import (
	"context"

	"github.com/hupe1980/agentkernel/core"
)

// Checkpoint is a named snapshot of graph position and state, aligned to
// the event id of the node completion it follows. Resuming from a
// checkpoint and replaying events recorded after the aligned event must be
// logically equivalent to uninterrupted execution.
type Checkpoint struct {
	CheckpointID   string
	NodeID         string
	AlignedEventID string
	NextNode       string
	State          State

	// CorrelationID, EventID and Offset locate the checkpoint event in the
	// log.
	CorrelationID string
	EventID       string
	Offset        int
}

// Checkpoints reads checkpoint events back from a worker's partition.
// Checkpoints share the event store, so they are exactly as durable as the
// log itself; writing them is the executor's job (a checkpoint is just
// another emitted event).
type Checkpoints struct {
	store     core.EventStore
	partition string
}

// NewCheckpoints constructs a checkpoint reader over one partition.
func NewCheckpoints(store core.EventStore, partition string) *Checkpoints {
	return &Checkpoints{store: store, partition: partition}
}

// Latest returns the most recent checkpoint in the partition, or nil when
// none exists. Read failures are wrapped in *core.CheckpointError.
func (c *Checkpoints) Latest(ctx context.Context) (*Checkpoint, error) {
	events, err := c.store.Read(ctx, c.partition, core.ReadOptions{})
	if err != nil {
		return nil, &core.CheckpointError{Err: err}
	}
	var latest *Checkpoint
	for offset, env := range events {
		if env.EventType != core.EventTypeCheckpointCreated {
			continue
		}
		latest = &Checkpoint{
			CheckpointID:   payloadString(env.Payload, "checkpoint_id"),
			NodeID:         payloadString(env.Payload, "node_id"),
			AlignedEventID: payloadString(env.Payload, "aligned_event_id"),
			NextNode:       payloadString(env.Payload, "next_node"),
			State:          State(payloadMap(env.Payload, "state")),
			CorrelationID:  env.CorrelationID,
			EventID:        env.EventID,
			Offset:         offset,
		}
	}
	return latest, nil
}

func payloadString(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func payloadMap(p map[string]any, key string) map[string]any {
	if m, ok := p[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func payloadEntropy(p map[string]any) []core.EntropyEntry {
	raw, ok := p["entropy"].([]any)
	if !ok {
		return nil
	}
	entries := make([]core.EntropyEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, core.EntropyEntry{Source: payloadString(m, "source"), Value: m["value"]})
	}
	return entries
}
