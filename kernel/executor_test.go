package kernel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/store"
)

// compile-time interface check
var _ core.EventStore = (*store.InMemoryStore)(nil)

func readAll(t *testing.T, st core.EventStore, partition string) []core.Envelope {
	t.Helper()
	events, err := st.Read(context.Background(), partition, core.ReadOptions{})
	require.NoError(t, err)
	return events
}

func eventTypes(events []core.Envelope) []string {
	types := make([]string, 0, len(events))
	for _, env := range events {
		types = append(types, env.EventType)
	}
	return types
}

func deltaBody(delta map[string]any) NodeFunc {
	return func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
		return NodeResult{StateDelta: delta}, nil
	}
}

func TestExecutorLifecycle(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGraph("greeting").
		AddNode(Node{Name: "compose", Body: deltaBody(map[string]any{"text": "hello"}), Deterministic: true}).
		AddNode(Node{Name: "send", Body: deltaBody(map[string]any{"sent": true}), Deterministic: true}).
		AddEdge("compose", "send")

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "greeter"))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, exec.Status())

	final, err := exec.Execute(context.Background(), State{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status())
	assert.Equal(t, "hello", final["text"])
	assert.Equal(t, true, final["sent"])

	events := readAll(t, st, "worker-1")
	assert.Equal(t, []string{
		core.EventTypeAgentStarted,
		core.EventTypeNodeEntered,
		core.EventTypeNodeCompleted,
		core.EventTypeNodeEntered,
		core.EventTypeNodeCompleted,
		core.EventTypeAgentStopped,
	}, eventTypes(events))

	// One correlation id for the whole run, causation chained event to event.
	correlation := events[0].CorrelationID
	require.NotEmpty(t, correlation)
	assert.Empty(t, events[0].CausationID)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, correlation, events[i].CorrelationID)
		assert.Equal(t, events[i-1].EventID, events[i].CausationID, "event %d must be caused by its predecessor", i)
	}

	// All events share one trace; node events are child spans of the run span.
	trace := events[0].Trace
	for _, env := range events[1:] {
		assert.Equal(t, trace.TraceID, env.Trace.TraceID)
	}
	assert.Equal(t, trace.SpanID, events[1].Trace.ParentSpanID)
	assert.Equal(t, 1, events[1].Trace.Depth)
}

func TestExecutorDrainsNodeEvents(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGraph("emitter").AddNode(Node{
		Name: "write",
		Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			return NodeResult{
				StateDelta: map[string]any{"done": true},
				Events: []core.DomainEvent{
					core.MemoryWritten{Key: "note", ValueType: "string", Value: "kept"},
				},
			}, nil
		},
		Deterministic: true,
	})

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "writer"))
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), State{})
	require.NoError(t, err)

	types := eventTypes(readAll(t, st, "worker-1"))
	assert.Equal(t, []string{
		core.EventTypeAgentStarted,
		core.EventTypeNodeEntered,
		core.EventTypeMemoryWritten,
		core.EventTypeNodeCompleted,
		core.EventTypeAgentStopped,
	}, types, "queued events must precede the completion record")
}

func TestExecutorNodeFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	boom := errors.New("downstream unavailable")
	g := NewGraph("fragile").
		AddNode(Node{Name: "ok", Body: deltaBody(map[string]any{"step": "ok"}), Deterministic: true}).
		AddNode(Node{Name: "broken", Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			return NodeResult{}, boom
		}}).
		AddEdge("ok", "broken")

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "fragile"))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), State{})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, exec.Status())

	var nodeErr *core.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "broken", nodeErr.Node)
	assert.ErrorIs(t, err, boom)

	events := readAll(t, st, "worker-1")
	types := eventTypes(events)
	assert.Equal(t, []string{
		core.EventTypeAgentStarted,
		core.EventTypeNodeEntered,
		core.EventTypeNodeCompleted,
		core.EventTypeNodeEntered,
		core.EventTypeErrorOccurred,
		core.EventTypeNodeCompleted,
		core.EventTypeAgentStopped,
	}, types)

	last := events[len(events)-1]
	reason, _ := last.Payload["reason"].(string)
	assert.Contains(t, reason, "error:")

	failed := events[len(events)-2]
	assert.Equal(t, "failure", failed.Payload["outcome"])
	assert.Equal(t, boom.Error(), failed.Payload["error"])
}

func TestExecutorCancellationAtBoundary(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	g := NewGraph("cancellable").
		AddNode(Node{Name: "first", Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			cancel() // takes effect at the next node boundary, not mid-body
			return NodeResult{StateDelta: map[string]any{"first": true}}, nil
		}}).
		AddNode(Node{Name: "second", Body: deltaBody(map[string]any{"second": true})}).
		AddEdge("first", "second")

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "cancellable"))
	require.NoError(t, err)

	final, err := exec.Execute(ctx, State{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, exec.Status())
	assert.Equal(t, true, final["first"], "the in-flight node still completes")
	assert.NotContains(t, final, "second")

	events := readAll(t, st, "worker-1")
	types := eventTypes(events)
	assert.Equal(t, []string{
		core.EventTypeAgentStarted,
		core.EventTypeNodeEntered,
		core.EventTypeNodeCompleted,
		core.EventTypeAgentStopped,
	}, types)
	assert.Equal(t, "cancelled", events[len(events)-1].Payload["reason"])
}

func TestExecutorSuspension(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGraph("approval").
		AddNode(Node{Name: "prepare", Body: deltaBody(map[string]any{"prepared": true}), Deterministic: true}).
		AddNode(Node{Name: "await", Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			return NodeResult{Suspend: true, SuspendReason: "human approval required"}, nil
		}}).
		AddNode(Node{Name: "apply", Body: deltaBody(map[string]any{"applied": true}), Deterministic: true}).
		AddEdge("prepare", "await").
		AddEdge("await", "apply")

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "approval"))
	require.NoError(t, err)

	final, err := exec.Execute(context.Background(), State{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, exec.Status())
	assert.NotContains(t, final, "applied")

	events := readAll(t, st, "worker-1")
	types := eventTypes(events)
	// Suspension is never silent: checkpoint plus an explicit suspension event.
	assert.Equal(t, []string{
		core.EventTypeAgentStarted,
		core.EventTypeNodeEntered,
		core.EventTypeNodeCompleted,
		core.EventTypeNodeEntered,
		core.EventTypeNodeCompleted,
		core.EventTypeCheckpointCreated,
		core.EventTypeNodeSuspended,
	}, types)
	assert.Equal(t, "human approval required", events[len(events)-1].Payload["reason"])

	// Approval arrives; the worker resumes from the recorded checkpoint.
	final, err = exec.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status())
	assert.Equal(t, true, final["applied"])
}

func TestExecutorCheckpointResume(t *testing.T) {
	st := store.NewInMemoryStore()

	invocations := map[string]int{}
	failC := true
	body := func(name string, delta map[string]any) NodeFunc {
		return func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			invocations[name]++
			if name == "c" && failC {
				return NodeResult{}, fmt.Errorf("transient outage")
			}
			return NodeResult{StateDelta: delta}, nil
		}
	}

	g := NewGraph("pipeline").
		AddNode(Node{Name: "a", Body: body("a", map[string]any{"a": "done"})}).
		AddNode(Node{Name: "b", Body: body("b", map[string]any{"b": "done"}), Checkpoint: true}).
		AddNode(Node{Name: "c", Body: body("c", map[string]any{"c": "done"})}).
		AddNode(Node{Name: "d", Body: body("d", map[string]any{"d": "done"})}).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", "d")

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "pipeline"))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), State{})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, exec.Status())

	startedCorrelation := readAll(t, st, "worker-1")[0].CorrelationID

	// Outage over; resume re-executes only what never completed.
	failC = false
	final, err := exec.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status())
	assert.Equal(t, State{"a": "done", "b": "done", "c": "done", "d": "done"}, final)

	assert.Equal(t, 1, invocations["a"], "nodes before the checkpoint must not re-execute")
	assert.Equal(t, 1, invocations["b"])
	assert.Equal(t, 2, invocations["c"], "the failed node is re-invoked")
	assert.Equal(t, 1, invocations["d"])

	events := readAll(t, st, "worker-1")
	started := 0
	for _, env := range events {
		if env.EventType == core.EventTypeAgentStarted {
			started++
		}
		assert.Equal(t, startedCorrelation, env.CorrelationID, "resume continues the original correlation")
	}
	assert.Equal(t, 1, started, "resume does not begin a new run")
}

func TestExecutorResumeCompletedRun(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGraph("single").
		AddNode(Node{Name: "only", Body: deltaBody(map[string]any{"done": true}), Checkpoint: true})

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "single"))
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), State{})
	require.NoError(t, err)

	before := len(readAll(t, st, "worker-1"))

	final, err := exec.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status())
	assert.Equal(t, true, final["done"])
	assert.Len(t, readAll(t, st, "worker-1"), before, "resuming a finished run appends nothing")
}

func TestExecutorResumeWithoutCheckpoint(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGraph("fresh").
		AddNode(Node{Name: "only", Body: deltaBody(map[string]any{"done": true})})

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "fresh"))
	require.NoError(t, err)

	// No prior run at all: resume degenerates to a fresh execution.
	final, err := exec.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status())
	assert.Equal(t, true, final["done"])
}

func TestExecutorReplayDeterminism(t *testing.T) {
	st := store.NewInMemoryStore()

	produced := 0
	g := NewGraph("sampler").
		AddNode(Node{Name: "sample", Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			v := rt.Entropy("rand", func() any {
				produced++
				return float64(produced * 7)
			})
			return NodeResult{StateDelta: map[string]any{"sample": v}}, nil
		}, EntropySources: []string{"rand"}}).
		AddNode(Node{Name: "double", Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			v, _ := state["sample"].(float64)
			return NodeResult{StateDelta: map[string]any{"doubled": v * 2}}, nil
		}, Deterministic: true}).
		AddEdge("sample", "double")

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "sampler"))
	require.NoError(t, err)

	live, err := exec.Execute(context.Background(), State{})
	require.NoError(t, err)
	require.Equal(t, 1, produced)

	replayed, err := exec.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, produced, "replay must substitute recorded entropy, not re-invoke the source")
	assert.Equal(t, live["sample"], replayed["sample"])
	assert.Equal(t, live["doubled"], replayed["doubled"])
}

func TestExecutorReplayDriftDetection(t *testing.T) {
	st := store.NewInMemoryStore()

	out := "v1"
	g := NewGraph("drifty").
		AddNode(Node{Name: "compute", Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			return NodeResult{StateDelta: map[string]any{"value": out}}, nil
		}})

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "drifty"))
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), State{})
	require.NoError(t, err)

	// The body's behavior changes between recording and replay.
	out = "v2"
	_, err = exec.Replay(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverged")
}

func TestExecutorRouteOverride(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGraph("router").
		AddNode(Node{Name: "decide", Body: func(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
			return NodeResult{Route: "fallback"}, nil
		}}).
		AddNode(Node{Name: "primary", Body: deltaBody(map[string]any{"path": "primary"})}).
		AddNode(Node{Name: "fallback", Body: deltaBody(map[string]any{"path": "fallback"})}).
		AddEdge("decide", "primary")

	exec, err := NewExecutor(g, st, core.NewAgentRef("worker-1", "router"))
	require.NoError(t, err)

	final, err := exec.Execute(context.Background(), State{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", final["path"])
}
