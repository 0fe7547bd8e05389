// Package agentkernel provides a high-level façade over the deterministic
// execution core: event store, bus bridge, kernel executors, projection
// engine and capability registry. Most applications interact with this
// package by:
//  1. Creating an AgentKernel via New() (optionally overriding the default
//     in-memory store and no-op logger)
//  2. Registering one or more workers with their execution graphs
//  3. Executing workers synchronously (Execute) or asynchronously (Start),
//     resuming interrupted runs (Resume), and querying derived state
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply the SQLite store and a
// structured logger.
package agentkernel

import (
	"context"

	"github.com/hupe1980/agentkernel/bus"
	"github.com/hupe1980/agentkernel/capability"
	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/engine"
	"github.com/hupe1980/agentkernel/kernel"
	"github.com/hupe1980/agentkernel/logging"
	"github.com/hupe1980/agentkernel/projection"
	"github.com/hupe1980/agentkernel/store"
)

// Options configures the AgentKernel instance.
type Options struct {
	// EngineConfig bounds concurrent worker runs.
	EngineConfig engine.Config

	// Store is the shared event store. Defaults to in-memory; supply
	// store.OpenSQLite(...) for durability across restarts.
	Store core.EventStore

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// AgentKernel is the high-level façade aggregating the engine, projection
// engine and capability registry over one shared event store.
type AgentKernel struct {
	engine      *engine.Engine
	projections *projection.Engine
	registry    *capability.Registry
}

// New creates an AgentKernel with optional overrides. Any unset dependency
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *AgentKernel {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	bridge := bus.New(func(o *bus.Options) { o.Logger = opts.Logger })

	eng := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Store = opts.Store
		o.Bridge = bridge
		o.Logger = opts.Logger
	})

	projections := projection.New(opts.Store, func(o *projection.Options) { o.Logger = opts.Logger })
	projections.Register("execution", 1, projection.NewExecutionProjection())
	projections.Register("cognitive", 1, projection.NewCognitiveProjection())

	registry := capability.New(opts.Store, func(o *capability.Options) {
		o.Bridge = bridge
		o.Logger = opts.Logger
	})

	return &AgentKernel{engine: eng, projections: projections, registry: registry}
}

// RegisterWorker adds a worker with its execution graph.
func (k *AgentKernel) RegisterWorker(ref core.AgentRef, graph *kernel.Graph, optFns ...func(o *kernel.Options)) error {
	return k.engine.Register(ref, graph, optFns...)
}

// Execute runs a worker synchronously to completion or suspension.
func (k *AgentKernel) Execute(ctx context.Context, workerID string, initial kernel.State) (kernel.State, error) {
	return k.engine.Execute(ctx, workerID, initial)
}

// Start runs a worker asynchronously, returning a run id and a result
// channel delivering exactly one result.
func (k *AgentKernel) Start(ctx context.Context, workerID string, initial kernel.State) (string, <-chan engine.RunResult, error) {
	return k.engine.Start(ctx, workerID, initial)
}

// Resume continues a worker's interrupted run from its latest checkpoint.
func (k *AgentKernel) Resume(ctx context.Context, workerID string) (kernel.State, error) {
	return k.engine.Resume(ctx, workerID)
}

// Cancel requests cancellation of an active run at its next node boundary.
func (k *AgentKernel) Cancel(runID string) bool {
	return k.engine.Cancel(runID)
}

// Subscribe registers a handler for an event-type glob pattern on the bus.
func (k *AgentKernel) Subscribe(pattern string, h core.Handler) (func(), error) {
	return k.engine.Subscribe(pattern, h)
}

// Engine exposes the underlying worker host.
func (k *AgentKernel) Engine() *engine.Engine { return k.engine }

// Projections exposes the projection engine with the built-in "execution"
// and "cognitive" projections pre-registered.
func (k *AgentKernel) Projections() *projection.Engine { return k.projections }

// Capabilities exposes the capability registry.
func (k *AgentKernel) Capabilities() *capability.Registry { return k.registry }

// ExecutionState folds and returns the built-in execution projection.
func (k *AgentKernel) ExecutionState(ctx context.Context) (*projection.ExecutionState, error) {
	state, err := k.projections.GetState(ctx, "execution")
	if err != nil {
		return nil, err
	}
	return state.(*projection.ExecutionState), nil
}
