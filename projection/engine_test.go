package projection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/store"
)

type tickEvent struct{ n int }

func (e tickEvent) EventType() string { return core.EventTypeMemoryWritten }

func (e tickEvent) Payload() map[string]any {
	return map[string]any{"key": fmt.Sprintf("tick-%d", e.n), "value_type": "int", "value": e.n}
}

type strangeEvent struct{}

func (strangeEvent) EventType() string       { return "mystery.event" }
func (strangeEvent) Payload() map[string]any { return map[string]any{} }

func appendEvent(t *testing.T, st core.EventStore, partition string, ev core.DomainEvent) core.Envelope {
	t.Helper()
	env := core.NewEnvelope(ev, core.NewAgentRef(partition, "test"), core.NewTraceContext(), core.WithPartition(partition))
	require.NoError(t, st.Append(context.Background(), env))
	return env
}

// countingProjection counts applied envelopes and records every apply call,
// so incremental folding is observable.
func countingProjection(applied *int) Projection {
	return Func(
		func() any { return 0 },
		func(state any, env core.Envelope) (any, error) {
			*applied++
			return state.(int) + 1, nil
		},
	)
}

func TestEngineIncrementalFold(t *testing.T) {
	st := store.NewInMemoryStore()
	for i := 0; i < 3; i++ {
		appendEvent(t, st, "w1", tickEvent{n: i})
	}

	applied := 0
	eng := New(st)
	eng.Register("counter", 1, countingProjection(&applied))

	state, err := eng.GetState(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, 3, state)
	assert.Equal(t, 3, applied)

	// New events arrive; only they are folded, never the whole log again.
	appendEvent(t, st, "w1", tickEvent{n: 3})
	appendEvent(t, st, "w2", tickEvent{n: 4})

	state, err = eng.GetState(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, 5, state)
	assert.Equal(t, 5, applied, "GetState must fold incrementally from the watermark")

	// Nothing new: no apply calls at all.
	_, err = eng.GetState(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, 5, applied)
}

func TestEngineRebuild(t *testing.T) {
	st := store.NewInMemoryStore()
	for i := 0; i < 4; i++ {
		appendEvent(t, st, "w1", tickEvent{n: i})
	}

	applied := 0
	eng := New(st)
	eng.Register("counter", 1, countingProjection(&applied))

	_, err := eng.GetState(context.Background(), "counter")
	require.NoError(t, err)

	state, err := eng.Rebuild(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, 4, state)
	assert.Equal(t, 8, applied, "rebuild folds the entire log from offset zero")
}

func TestEngineVersionGuard(t *testing.T) {
	st := store.NewInMemoryStore()
	appendEvent(t, st, "w1", tickEvent{n: 1})

	applied := 0
	eng := New(st)
	eng.Register("counter", 1, countingProjection(&applied))

	_, err := eng.GetState(context.Background(), "counter")
	require.NoError(t, err)

	// The fold function changes shape: cached state is now suspect.
	eng.Register("counter", 2, countingProjection(&applied))

	_, err = eng.GetState(context.Background(), "counter")
	var verr *core.ProjectionVersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Cached)
	assert.Equal(t, 2, verr.Registered)

	// Only an explicit rebuild clears the guard.
	state, err := eng.Rebuild(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, 1, state)

	_, err = eng.GetState(context.Background(), "counter")
	require.NoError(t, err)
}

func TestEngineUnregisteredProjection(t *testing.T) {
	eng := New(store.NewInMemoryStore())
	_, err := eng.GetState(context.Background(), "ghost")
	assert.Error(t, err)
	_, err = eng.Rebuild(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestEngineRejectsUnknownEventType(t *testing.T) {
	st := store.NewInMemoryStore()
	appendEvent(t, st, "w1", strangeEvent{})

	applied := 0
	eng := New(st)
	eng.Register("counter", 1, countingProjection(&applied))

	_, err := eng.GetState(context.Background(), "counter")
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "event_type", verr.Field)
	assert.Zero(t, applied, "unknown event types are rejected, not silently skipped")
}

func TestEngineCrossPartitionOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	// Interleave appends across partitions.
	for i := 0; i < 10; i++ {
		partition := "w1"
		if i%2 == 1 {
			partition = "w2"
		}
		appendEvent(t, st, partition, tickEvent{n: i})
		time.Sleep(time.Millisecond)
	}

	orderProjection := func() Projection {
		return Func(
			func() any { return []string(nil) },
			func(state any, env core.Envelope) (any, error) {
				return append(state.([]string), env.EventID), nil
			},
		)
	}

	// Two independent engines over the same log reach identical state.
	a := New(st)
	a.Register("order", 1, orderProjection())
	b := New(st)
	b.Register("order", 1, orderProjection())

	sa, err := a.GetState(context.Background(), "order")
	require.NoError(t, err)
	sb, err := b.GetState(context.Background(), "order")
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Len(t, sa, 10)

	// Per-partition offset order is preserved within the merged order.
	for _, partition := range []string{"w1", "w2"} {
		events, err := st.Read(context.Background(), partition, core.ReadOptions{})
		require.NoError(t, err)
		prev := -1
		for _, env := range events {
			pos := indexOf(sa.([]string), env.EventID)
			require.GreaterOrEqual(t, pos, 0)
			assert.Greater(t, pos, prev)
			prev = pos
		}
	}
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
