package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentkernel/bus"
	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/kernel"
	"github.com/hupe1980/agentkernel/logging"
	"github.com/hupe1980/agentkernel/store"
)

// Config defines tuning parameters for the engine's operational behavior.
type Config struct {
	// MaxConcurrentRuns limits how many worker runs execute simultaneously.
	// Set to 0 for unlimited (not recommended).
	MaxConcurrentRuns int
}

// DefaultConfig provides production-ready defaults.
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
}

// Options configures an Engine instance.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Store is the shared event store. Defaults to an in-memory store.
	Store core.EventStore

	// Bridge routes envelopes between workers. Defaults to an in-process
	// bridge without its own persistence, since executors append to their
	// partitions themselves.
	Bridge core.Bus

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// RunResult is the outcome of an asynchronous worker run.
type RunResult struct {
	RunID    string
	WorkerID string
	State    kernel.State
	Status   kernel.Status
	Err      error
}

// Engine coordinates worker registration and run lifecycle. Registration is
// thread-safe; runs are bounded by Config.MaxConcurrentRuns and tracked so
// they can be cancelled individually.
type Engine struct {
	store  core.EventStore
	bridge core.Bus
	logger logging.Logger
	config Config

	// sem bounds concurrent runs when MaxConcurrentRuns > 0.
	sem chan struct{}

	mu      sync.RWMutex
	workers map[string]*kernel.Executor

	runsMu     sync.Mutex
	activeRuns map[string]context.CancelFunc
}

// New creates an engine. All dependencies have in-memory defaults, so a
// bare New() is immediately usable for development and testing.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
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
	if opts.Bridge == nil {
		opts.Bridge = bus.New(func(o *bus.Options) { o.Logger = opts.Logger })
	}

	var sem chan struct{}
	if opts.Config.MaxConcurrentRuns > 0 {
		sem = make(chan struct{}, opts.Config.MaxConcurrentRuns)
	}

	return &Engine{
		store:      opts.Store,
		bridge:     opts.Bridge,
		logger:     opts.Logger,
		config:     opts.Config,
		sem:        sem,
		workers:    make(map[string]*kernel.Executor),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Store returns the shared event store.
func (e *Engine) Store() core.EventStore { return e.store }

// Config returns the engine's operational configuration.
func (e *Engine) Config() Config { return e.config }

// Bridge returns the shared bus bridge.
func (e *Engine) Bridge() core.Bus { return e.bridge }

// Register validates the worker's graph and constructs its executor. The
// worker id (ref.AgentID) names the partition the worker writes to; one
// worker is the only writer of its partition. Registering an id twice is an
// error since it would break the single-writer rule.
func (e *Engine) Register(ref core.AgentRef, graph *kernel.Graph, optFns ...func(o *kernel.Options)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.workers[ref.AgentID]; dup {
		return fmt.Errorf("worker %s already registered", ref.AgentID)
	}

	exec, err := kernel.NewExecutor(graph, e.store, ref, func(o *kernel.Options) {
		o.Bridge = e.bridge
		o.Logger = e.logger
		for _, fn := range optFns {
			fn(o)
		}
	})
	if err != nil {
		return err
	}
	e.workers[ref.AgentID] = exec
	e.logger.Info("worker registered", "worker_id", ref.AgentID, "graph_id", graph.ID())
	return nil
}

// Worker returns a registered worker's executor.
func (e *Engine) Worker(workerID string) (*kernel.Executor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.workers[workerID]
	return exec, ok
}

// Execute runs a worker synchronously to completion or suspension.
func (e *Engine) Execute(ctx context.Context, workerID string, initial kernel.State) (kernel.State, error) {
	exec, ok := e.Worker(workerID)
	if !ok {
		return nil, fmt.Errorf("worker %s not found", workerID)
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return exec.Execute(ctx, initial)
}

// Resume continues a worker's interrupted run from its latest checkpoint.
func (e *Engine) Resume(ctx context.Context, workerID string) (kernel.State, error) {
	exec, ok := e.Worker(workerID)
	if !ok {
		return nil, fmt.Errorf("worker %s not found", workerID)
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return exec.Resume(ctx)
}

// Start runs a worker asynchronously. It returns a run id for cancellation
// and a channel that delivers exactly one RunResult before closing.
func (e *Engine) Start(ctx context.Context, workerID string, initial kernel.State) (string, <-chan RunResult, error) {
	exec, ok := e.Worker(workerID)
	if !ok {
		return "", nil, fmt.Errorf("worker %s not found", workerID)
	}

	runID := core.NewID()
	runCtx, cancel := context.WithCancel(ctx)

	e.runsMu.Lock()
	e.activeRuns[runID] = cancel
	e.runsMu.Unlock()

	results := make(chan RunResult, 1)
	go func() {
		defer func() {
			e.runsMu.Lock()
			delete(e.activeRuns, runID)
			e.runsMu.Unlock()
			cancel()
			close(results)
		}()

		if err := e.acquire(runCtx); err != nil {
			results <- RunResult{RunID: runID, WorkerID: workerID, Status: exec.Status(), Err: err}
			return
		}
		defer e.release()

		state, err := exec.Execute(runCtx, initial)
		results <- RunResult{
			RunID:    runID,
			WorkerID: workerID,
			State:    state,
			Status:   exec.Status(),
			Err:      err,
		}
	}()

	return runID, results, nil
}

// Cancel requests cancellation of an active run. The run halts at its next
// node boundary. It reports whether the run id was active.
func (e *Engine) Cancel(runID string) bool {
	e.runsMu.Lock()
	cancel, ok := e.activeRuns[runID]
	e.runsMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Subscribe registers a handler on the bridge for an event-type pattern.
func (e *Engine) Subscribe(pattern string, h core.Handler) (func(), error) {
	return e.bridge.Subscribe(pattern, h)
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.sem == nil {
		return nil
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	if e.sem != nil {
		<-e.sem
	}
}
