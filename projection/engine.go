package projection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/logging"
)

// Projection is a named deterministic fold over envelopes. Apply must be a
// pure function: no side effects, no wall-clock reads, no mutation of the
// incoming state value. Purity is the invariant that makes replay
// deterministic.
type Projection interface {
	// InitialState returns a fresh zero state for the fold.
	InitialState() any
	// Apply folds one envelope into the state and returns the next state.
	Apply(state any, env core.Envelope) (any, error)
}

type funcProjection struct {
	initial func() any
	apply   func(state any, env core.Envelope) (any, error)
}

func (p funcProjection) InitialState() any { return p.initial() }

func (p funcProjection) Apply(state any, env core.Envelope) (any, error) {
	return p.apply(state, env)
}

// Func builds a Projection from an initial-state constructor and a fold
// function.
func Func(initial func() any, apply func(state any, env core.Envelope) (any, error)) Projection {
	return funcProjection{initial: initial, apply: apply}
}

// Options configures an Engine.
type Options struct {
	// Logger receives fold diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Engine caches projection state with per-partition offset watermarks and
// folds incrementally: GetState applies only envelopes appended since the
// last call, never re-folding from zero unless Rebuild is invoked. The
// engine is a read-only consumer of the store and may be replicated freely.
type Engine struct {
	store  core.EventStore
	logger logging.Logger

	mu          sync.Mutex
	projections map[string]*registration
}

type registration struct {
	projection Projection
	version    int
	state      any
	watermarks map[string]int

	// stale marks a registration whose fold function changed version while
	// cached state from the previous version still exists.
	stale             bool
	registeredVersion int
}

// New creates a projection engine over the given store.
func New(store core.EventStore, optFns ...func(o *Options)) *Engine {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Engine{
		store:       store,
		logger:      opts.Logger,
		projections: make(map[string]*registration),
	}
}

// Register installs a projection under a name and version. Re-registering
// the same name at a different version marks the cached state stale:
// GetState returns *core.ProjectionVersionError until Rebuild is called.
// State is never silently migrated.
func (e *Engine) Register(name string, version int, p Projection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.projections[name]
	if ok && existing.version != version {
		existing.projection = p
		existing.registeredVersion = version
		existing.stale = true
		e.logger.Warn("projection version changed, rebuild required",
			"projection", name, "cached_version", existing.version, "registered_version", version)
		return
	}
	e.projections[name] = &registration{
		projection: p,
		version:    version,
		state:      p.InitialState(),
		watermarks: make(map[string]int),
	}
}

// GetState returns the projection's state after applying any envelopes
// appended since the last call.
func (e *Engine) GetState(ctx context.Context, name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg, ok := e.projections[name]
	if !ok {
		return nil, fmt.Errorf("projection %q not registered", name)
	}
	if reg.stale {
		return nil, &core.ProjectionVersionError{
			Projection: name,
			Cached:     reg.version,
			Registered: reg.registeredVersion,
		}
	}
	if err := e.fold(ctx, name, reg); err != nil {
		return nil, err
	}
	return reg.state, nil
}

// Rebuild discards the cached state and folds the entire log from offset
// zero. It also clears a pending version change.
func (e *Engine) Rebuild(ctx context.Context, name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg, ok := e.projections[name]
	if !ok {
		return nil, fmt.Errorf("projection %q not registered", name)
	}
	if reg.stale {
		reg.version = reg.registeredVersion
		reg.stale = false
	}
	reg.state = reg.projection.InitialState()
	reg.watermarks = make(map[string]int)
	e.logger.Info("rebuilding projection", "projection", name, "version", reg.version)
	if err := e.fold(ctx, name, reg); err != nil {
		return nil, err
	}
	return reg.state, nil
}

// fold applies all envelopes past the registration's watermarks, in the
// deterministic total order of (partition, offset) with cross-partition
// merge by (timestamp, event id). Two engines folding the same envelopes
// reach identical state.
func (e *Engine) fold(ctx context.Context, name string, reg *registration) error {
	partitions, err := e.store.Partitions(ctx)
	if err != nil {
		return err
	}
	pending := make(map[string][]core.Envelope)
	total := 0
	for _, partition := range partitions {
		events, err := e.store.Read(ctx, partition, core.ReadOptions{FromOffset: reg.watermarks[partition]})
		if err != nil {
			return err
		}
		if len(events) > 0 {
			pending[partition] = events
			total += len(events)
		}
	}
	if total == 0 {
		return nil
	}

	for _, item := range mergePartitions(pending) {
		if !core.KnownEventType(item.env.EventType) {
			return &core.ValidationError{
				Field:  "event_type",
				Reason: fmt.Sprintf("unknown event type %q at partition %q", item.env.EventType, item.partition),
			}
		}
		next, err := reg.projection.Apply(reg.state, item.env)
		if err != nil {
			return fmt.Errorf("projection %q: apply %s: %w", name, item.env.EventType, err)
		}
		reg.state = next
		reg.watermarks[item.partition]++
	}
	e.logger.Debug("projection folded", "projection", name, "events", total)
	return nil
}

type sourcedEnvelope struct {
	partition string
	env       core.Envelope
}

// mergePartitions performs a k-way merge of per-partition event slices.
// Per-partition offset order is preserved; across partitions envelopes are
// ordered by (timestamp, event id), a stable total order since event ids
// are unique.
func mergePartitions(pending map[string][]core.Envelope) []sourcedEnvelope {
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	type cursor struct {
		partition string
		events    []core.Envelope
		idx       int
	}
	cursors := make([]*cursor, 0, len(names))
	total := 0
	for _, name := range names {
		cursors = append(cursors, &cursor{partition: name, events: pending[name]})
		total += len(pending[name])
	}

	out := make([]sourcedEnvelope, 0, total)
	for len(out) < total {
		best := -1
		for i, c := range cursors {
			if c.idx >= len(c.events) {
				continue
			}
			if best == -1 || envelopeLess(c.events[c.idx], cursors[best].events[cursors[best].idx]) {
				best = i
			}
		}
		c := cursors[best]
		out = append(out, sourcedEnvelope{partition: c.partition, env: c.events[c.idx]})
		c.idx++
	}
	return out
}

func envelopeLess(a, b core.Envelope) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.EventID < b.EventID
}
