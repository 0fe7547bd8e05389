package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/logging"
)

// Status is the executor's lifecycle state.
type Status string

const (
	// StatusIdle means no execution has started yet.
	StatusIdle Status = "idle"
	// StatusRunning means the graph is executing.
	StatusRunning Status = "running"
	// StatusSuspended means a node explicitly suspended pending external input.
	StatusSuspended Status = "suspended"
	// StatusCompleted means the graph reached a terminal node.
	StatusCompleted Status = "completed"
	// StatusFailed means execution stopped on error or cancellation.
	StatusFailed Status = "failed"
)

// Options configures an Executor.
type Options struct {
	// Bridge, when set, forwards every appended envelope for cross-worker
	// visibility. The store remains the source of truth.
	Bridge core.Bus
	// Logger receives structured execution logs. Defaults to NoOpLogger.
	Logger logging.Logger
	// RuntimeOptions are passed opaquely to node bodies.
	RuntimeOptions map[string]any
	// Clock overrides wall-clock reads for node durations. For tests.
	Clock func() time.Time
}

// Executor runs one worker's execution graph as a single logical thread of
// control: node execution is sequential, never reentrant, and two nodes of
// the same worker never run concurrently. The executor owns its partition
// of the event store: it is the partition's only writer.
type Executor struct {
	graph          *Graph
	store          core.EventStore
	producer       core.AgentRef
	partition      string
	bridge         core.Bus
	logger         logging.Logger
	clock          func() time.Time
	runtimeOptions map[string]any
	checkpoints    *Checkpoints

	// runMu serializes Execute/Resume; statusMu guards status reads.
	runMu    sync.Mutex
	statusMu sync.RWMutex
	status   Status
}

// NewExecutor validates the graph and constructs an executor writing to the
// partition named after the producing agent.
func NewExecutor(graph *Graph, store core.EventStore, producer core.AgentRef, optFns ...func(o *Options)) (*Executor, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	opts := Options{Logger: logging.NoOpLogger{}, Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	partition := producer.AgentID
	return &Executor{
		graph:          graph,
		store:          store,
		producer:       producer,
		partition:      partition,
		bridge:         opts.Bridge,
		logger:         opts.Logger,
		clock:          opts.Clock,
		runtimeOptions: opts.RuntimeOptions,
		checkpoints:    NewCheckpoints(store, partition),
		status:         StatusIdle,
	}, nil
}

// Partition returns the ordering domain this executor writes to.
func (e *Executor) Partition() string { return e.partition }

// Status returns the executor's current lifecycle state.
func (e *Executor) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Executor) setStatus(s Status) {
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

// runContext threads the trace, correlation and causation chain of one run.
type runContext struct {
	trace         core.TraceContext
	correlationID string
	lastEventID   string
}

// emit wraps a domain event in an envelope tagged with producer identity,
// trace context, correlation and the causal chain, appends it (durability
// first), then forwards it on the bridge. Append failure is fatal to the run.
func (e *Executor) emit(ctx context.Context, rc *runContext, trace core.TraceContext, ev core.DomainEvent) (string, error) {
	opts := []core.EnvelopeOption{
		core.WithPartition(e.partition),
		core.WithCorrelation(rc.correlationID),
	}
	if rc.lastEventID != "" {
		opts = append(opts, core.WithCausation(rc.lastEventID))
	}
	env := core.NewEnvelope(ev, e.producer, trace, opts...)
	if err := e.store.Append(ctx, env); err != nil {
		return "", fmt.Errorf("append %s: %w", env.EventType, err)
	}
	rc.lastEventID = env.EventID
	if e.bridge != nil {
		if err := e.bridge.Publish(ctx, env); err != nil {
			return "", fmt.Errorf("forward %s: %w", env.EventType, err)
		}
	}
	return env.EventID, nil
}

// Execute allocates a fresh correlation id and trace context, emits
// agent.started, runs the graph to completion or suspension, and returns
// the terminal state. Node failures surface as *core.NodeExecutionError;
// checkpoint write failures as *core.CheckpointError.
func (e *Executor) Execute(ctx context.Context, initial State) (State, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.setStatus(StatusRunning)
	rc := &runContext{trace: core.NewTraceContext(), correlationID: core.NewID()}
	e.logger.Info("worker execution starting",
		"worker_id", e.producer.AgentID, "graph_id", e.graph.ID(), "correlation_id", rc.correlationID)

	if _, err := e.emit(ctx, rc, rc.trace, core.AgentStarted{AgentID: e.producer.AgentID, AgentType: e.producer.AgentType}); err != nil {
		e.setStatus(StatusFailed)
		return nil, err
	}
	return e.run(ctx, rc, initial.Clone(), e.graph.Entry())
}

// run drives the node loop from 'current' until a terminal node, a
// suspension, a failure, or cancellation at a node boundary.
func (e *Executor) run(ctx context.Context, rc *runContext, state State, current string) (State, error) {
	for current != "" {
		// Cancellation only takes effect between node boundaries; an
		// in-flight node always records its completion first.
		if err := ctx.Err(); err != nil {
			stopCtx := context.WithoutCancel(ctx)
			if _, serr := e.emit(stopCtx, rc, rc.trace, core.AgentStopped{AgentID: e.producer.AgentID, Reason: "cancelled"}); serr != nil {
				e.logger.Error("failed to record cancellation", "error", serr)
			}
			e.setStatus(StatusFailed)
			return state, err
		}

		node, ok := e.graph.node(current)
		if !ok {
			e.setStatus(StatusFailed)
			return state, &core.NodeExecutionError{Node: current, Err: fmt.Errorf("node not defined in graph %s", e.graph.ID())}
		}

		// Once a node is entered its records must land even if the context
		// is cancelled mid-body; the next boundary check observes the
		// cancellation.
		emitCtx := context.WithoutCancel(ctx)

		nodeTrace := rc.trace.Child()
		if _, err := e.emit(emitCtx, rc, nodeTrace, core.NodeEntered{NodeID: node.Name, GraphID: e.graph.ID()}); err != nil {
			e.setStatus(StatusFailed)
			return state, err
		}

		rt := &Runtime{GraphID: e.graph.ID(), NodeID: node.Name, Options: e.runtimeOptions, Logger: e.logger, rec: newLiveRecorder()}
		start := e.clock()
		res, nodeErr := node.Body(ctx, state.Clone(), rt)
		duration := e.clock().Sub(start)
		if nodeErr != nil {
			return e.failNode(ctx, rc, nodeTrace, node, duration, state, nodeErr)
		}

		state = state.Merged(res.StateDelta)

		// Drain events the node's logic queued, in trace order, before the
		// completion record.
		for _, ev := range res.Events {
			if _, err := e.emit(emitCtx, rc, nodeTrace.Child(), ev); err != nil {
				e.setStatus(StatusFailed)
				return state, err
			}
		}

		completedID, err := e.emit(emitCtx, rc, nodeTrace, core.NodeCompleted{
			NodeID:     node.Name,
			GraphID:    e.graph.ID(),
			DurationMs: float64(duration) / float64(time.Millisecond),
			Outcome:    "success",
			Route:      res.Route,
			StateDelta: res.StateDelta,
			Entropy:    rt.rec.captured,
		})
		if err != nil {
			e.setStatus(StatusFailed)
			return state, err
		}
		e.logger.Debug("node completed", "node_id", node.Name, "duration", duration)

		next, more, rerr := e.graph.next(node.Name, state, res.Route)
		if rerr != nil {
			e.setStatus(StatusFailed)
			return state, &core.NodeExecutionError{Node: node.Name, Err: rerr}
		}

		if node.Checkpoint || res.Suspend {
			cp := core.CheckpointCreated{
				CheckpointID:   core.NewID(),
				NodeID:         node.Name,
				AlignedEventID: completedID,
				NextNode:       next,
				State:          state,
			}
			if _, err := e.emit(emitCtx, rc, nodeTrace, cp); err != nil {
				// No silent continuation past an unpersisted checkpoint.
				e.setStatus(StatusFailed)
				return state, &core.CheckpointError{CheckpointID: cp.CheckpointID, Err: err}
			}
			e.logger.Info("checkpoint created", "checkpoint_id", cp.CheckpointID, "node_id", node.Name)
		}

		if res.Suspend {
			if _, err := e.emit(emitCtx, rc, nodeTrace, core.NodeSuspended{NodeID: node.Name, GraphID: e.graph.ID(), Reason: res.SuspendReason}); err != nil {
				e.setStatus(StatusFailed)
				return state, err
			}
			e.setStatus(StatusSuspended)
			return state, nil
		}

		if !more {
			break
		}
		current = next
	}

	if _, err := e.emit(context.WithoutCancel(ctx), rc, rc.trace, core.AgentStopped{AgentID: e.producer.AgentID, Reason: "completed"}); err != nil {
		e.setStatus(StatusFailed)
		return state, err
	}
	e.setStatus(StatusCompleted)
	return state, nil
}

// failNode records the failure trail (error-occurred, node-completed with a
// failure outcome, agent.stopped) and re-raises as *core.NodeExecutionError.
func (e *Executor) failNode(ctx context.Context, rc *runContext, nodeTrace core.TraceContext, node *Node, duration time.Duration, state State, nodeErr error) (State, error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.emit(ctx, rc, nodeTrace, core.ErrorOccurred{ErrorType: "node_execution", Message: nodeErr.Error()}); err != nil {
		e.logger.Error("failed to record node error", "node_id", node.Name, "error", err)
	}
	if _, err := e.emit(ctx, rc, nodeTrace, core.NodeCompleted{
		NodeID:     node.Name,
		GraphID:    e.graph.ID(),
		DurationMs: float64(duration) / float64(time.Millisecond),
		Outcome:    "failure",
		Error:      nodeErr.Error(),
	}); err != nil {
		e.logger.Error("failed to record node failure", "node_id", node.Name, "error", err)
	}
	if _, err := e.emit(ctx, rc, rc.trace, core.AgentStopped{AgentID: e.producer.AgentID, Reason: "error: " + nodeErr.Error()}); err != nil {
		e.logger.Error("failed to record worker stop", "error", err)
	}
	e.setStatus(StatusFailed)
	return state, &core.NodeExecutionError{Node: node.Name, Err: nodeErr}
}

// Resume continues execution after an interruption. It loads the latest
// checkpoint, replays (without re-executing) every successful node
// completion recorded after it, and re-invokes only nodes for which no
// completion event exists yet. Resume-and-continue produces a state
// indistinguishable from uninterrupted execution, given deterministic nodes
// and recorded entropy for non-deterministic ones.
func (e *Executor) Resume(ctx context.Context) (State, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.setStatus(StatusRunning)

	cp, err := e.checkpoints.Latest(ctx)
	if err != nil {
		e.setStatus(StatusFailed)
		return nil, err
	}

	rc := &runContext{trace: core.NewTraceContext()}
	state := State{}
	current := e.graph.Entry()
	fromOffset := 0
	if cp != nil {
		state = cp.State.Clone()
		current = cp.NextNode
		rc.correlationID = cp.CorrelationID
		rc.lastEventID = cp.EventID
		fromOffset = cp.Offset + 1
	} else {
		rc.correlationID = core.NewID()
		if _, err := e.emit(ctx, rc, rc.trace, core.AgentStarted{AgentID: e.producer.AgentID, AgentType: e.producer.AgentType}); err != nil {
			e.setStatus(StatusFailed)
			return nil, err
		}
	}

	tail, err := e.store.Read(ctx, e.partition, core.ReadOptions{FromOffset: fromOffset})
	if err != nil {
		e.setStatus(StatusFailed)
		return nil, err
	}

	finished := false
	for _, env := range tail {
		switch env.EventType {
		case core.EventTypeNodeCompleted:
			if payloadString(env.Payload, "outcome") != "success" {
				continue
			}
			state = state.Merged(payloadMap(env.Payload, "state_delta"))
			nodeID := payloadString(env.Payload, "node_id")
			route := payloadString(env.Payload, "route")
			next, more, rerr := e.graph.next(nodeID, state, route)
			if rerr != nil {
				e.setStatus(StatusFailed)
				return state, &core.NodeExecutionError{Node: nodeID, Err: rerr}
			}
			if more {
				current = next
			} else {
				current = ""
			}
			rc.lastEventID = env.EventID
		case core.EventTypeCheckpointCreated:
			rc.lastEventID = env.EventID
		case core.EventTypeAgentStopped:
			if payloadString(env.Payload, "reason") == "completed" {
				finished = true
			}
		}
	}

	if finished {
		e.setStatus(StatusCompleted)
		return state, nil
	}
	e.logger.Info("resuming worker execution",
		"worker_id", e.producer.AgentID, "node_id", current, "correlation_id", rc.correlationID)
	return e.run(ctx, rc, state, current)
}

// Replay audits the recorded log offline: it re-derives the final state by
// re-executing node bodies with recorded entropy substituted for live
// sources, without appending or forwarding anything. A mismatch between a
// recorded state delta and the re-executed one reports drift.
func (e *Executor) Replay(ctx context.Context) (State, error) {
	events, err := e.store.Read(ctx, e.partition, core.ReadOptions{})
	if err != nil {
		return nil, err
	}
	state := State{}
	for _, env := range events {
		switch env.EventType {
		case core.EventTypeAgentStarted:
			state = State{}
		case core.EventTypeNodeCompleted:
			if payloadString(env.Payload, "outcome") != "success" {
				continue
			}
			nodeID := payloadString(env.Payload, "node_id")
			node, ok := e.graph.node(nodeID)
			if !ok {
				return nil, fmt.Errorf("replay: node %q not defined in graph %s", nodeID, e.graph.ID())
			}
			rt := &Runtime{
				GraphID: e.graph.ID(),
				NodeID:  nodeID,
				Options: e.runtimeOptions,
				Logger:  e.logger,
				rec:     newReplayRecorder(payloadEntropy(env.Payload)),
			}
			res, nodeErr := node.Body(ctx, state.Clone(), rt)
			if nodeErr != nil {
				return nil, fmt.Errorf("replay diverged: node %q failed: %w", nodeID, nodeErr)
			}
			recorded := payloadMap(env.Payload, "state_delta")
			if !deltasEqual(res.StateDelta, recorded) {
				return nil, fmt.Errorf("replay diverged: node %q produced a different state delta", nodeID)
			}
			state = state.Merged(recorded)
		}
	}
	return state, nil
}

// deltasEqual compares two state deltas modulo JSON representation, so a
// live map[string]any and its round-tripped form compare equal.
func deltasEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	na, err := jsonNormalize(a)
	if err != nil {
		return false
	}
	nb, err := jsonNormalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func jsonNormalize(m map[string]any) (any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
