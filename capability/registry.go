package capability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/logging"
	"github.com/hupe1980/agentkernel/projection"
)

// DefaultPartition is the ordering domain capability-lifecycle events are
// appended to.
const DefaultPartition = "capabilities"

const projectionName = "capability-catalog"

// Record is one derived row of the capability catalog. Records are never
// mutated directly, only through capability-lifecycle events.
type Record struct {
	Capability   Capability
	Owner        core.AgentRef
	RegisteredAt time.Time
	// EventID is the registration event's id. Event ids are time-ordered,
	// so the smallest id is the earliest registration.
	EventID    string
	Deprecated bool
}

// Options configures a Registry.
type Options struct {
	// Bridge, when set, forwards lifecycle events for cross-worker
	// visibility.
	Bridge core.Bus
	// Logger receives registry diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
	// Partition overrides the lifecycle event partition.
	Partition string
}

// Registry is a specialized projection consumer over capability-lifecycle
// events. Construct one per process scope that needs discovery; there is no
// process-wide instance.
type Registry struct {
	store     core.EventStore
	bridge    core.Bus
	logger    logging.Logger
	partition string
	engine    *projection.Engine
}

// New creates a registry over the given store.
func New(store core.EventStore, optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}, Partition: DefaultPartition}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Partition == "" {
		opts.Partition = DefaultPartition
	}
	engine := projection.New(store, func(o *projection.Options) { o.Logger = opts.Logger })
	engine.Register(projectionName, 1, newCatalogProjection())
	return &Registry{
		store:     store,
		bridge:    opts.Bridge,
		logger:    opts.Logger,
		partition: opts.Partition,
		engine:    engine,
	}
}

// Register advertises a capability owned by an agent by emitting a
// capability-registered event. Re-registering the same (owner, id, version)
// is idempotent. The registry's own state changes only when the projection
// observes the event.
func (r *Registry) Register(ctx context.Context, owner core.AgentRef, c Capability) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ev := core.CapabilityRegistered{
		CapabilityID: c.ID,
		Version:      c.Version,
		AgentID:      owner.AgentID,
		AgentType:    owner.AgentType,
		Description:  c.Description,
		Tags:         c.Tags,
		Determinism:  string(c.Determinism),
		SideEffect:   string(c.SideEffect),
		Latency:      string(c.Latency),
	}
	return r.emit(ctx, owner, ev, fmt.Sprintf("register:%s:%s:%s", owner.AgentID, c.ID, c.Version))
}

// Deprecate marks a capability version as deprecated; deprecated records no
// longer appear in Find or Resolve results.
func (r *Registry) Deprecate(ctx context.Context, owner core.AgentRef, capabilityID, version string) error {
	if capabilityID == "" {
		return fmt.Errorf("capability: missing id")
	}
	ev := core.CapabilityDeprecated{CapabilityID: capabilityID, Version: version, AgentID: owner.AgentID}
	return r.emit(ctx, owner, ev, fmt.Sprintf("deprecate:%s:%s:%s", owner.AgentID, capabilityID, version))
}

func (r *Registry) emit(ctx context.Context, owner core.AgentRef, ev core.DomainEvent, idempotencyKey string) error {
	env := core.NewEnvelope(ev, owner, core.NewTraceContext(),
		core.WithPartition(r.partition),
		core.WithIdempotencyKey(idempotencyKey),
	)
	if err := r.store.Append(ctx, env); err != nil {
		return err
	}
	if r.bridge != nil {
		if err := r.bridge.Publish(ctx, env); err != nil {
			return err
		}
	}
	r.logger.Debug("capability event emitted", "event_type", env.EventType, "event_id", env.EventID)
	return nil
}

// Find returns every non-deprecated record matching the capability id and,
// when given, a semver range such as ">=1.2.0 <2.0.0" or "^1.2". Not found
// is an empty result, never an error.
func (r *Registry) Find(ctx context.Context, capabilityID, versionRange string) ([]Record, error) {
	var constraint *semver.Constraints
	if versionRange != "" {
		c, err := semver.NewConstraint(versionRange)
		if err != nil {
			return nil, fmt.Errorf("capability %s: invalid version range %q: %w", capabilityID, versionRange, err)
		}
		constraint = c
	}

	catalog, err := r.catalog(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]Record, 0)
	for _, rec := range catalog.records[capabilityID] {
		if rec.Deprecated {
			continue
		}
		if constraint != nil {
			v, err := semver.NewVersion(rec.Capability.Version)
			if err != nil || !constraint.Check(v) {
				continue
			}
		}
		matches = append(matches, *rec)
	}
	sortRecords(matches)
	return matches, nil
}

// Resolve deterministically selects one owner among all matches: the
// highest matching version, ties broken by earliest registration event id.
// Two workers resolving the same query concurrently always select the same
// owner. Not found is a nil record, never an error.
func (r *Registry) Resolve(ctx context.Context, capabilityID, versionRange string) (*Record, error) {
	matches, err := r.Find(ctx, capabilityID, versionRange)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// MustResolve is Resolve for callers that require resolution to succeed; an
// empty result becomes a *core.CapabilityNotFoundError.
func (r *Registry) MustResolve(ctx context.Context, capabilityID, versionRange string) (*Record, error) {
	rec, err := r.Resolve(ctx, capabilityID, versionRange)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &core.CapabilityNotFoundError{CapabilityID: capabilityID, VersionRange: versionRange}
	}
	return rec, nil
}

// FindByTag returns every non-deprecated record carrying the tag.
func (r *Registry) FindByTag(ctx context.Context, tag string) ([]Record, error) {
	return r.scan(ctx, func(rec *Record) bool {
		for _, t := range rec.Capability.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

// FindByDeterminism returns every non-deprecated record of the given
// determinism class.
func (r *Registry) FindByDeterminism(ctx context.Context, class DeterminismClass) ([]Record, error) {
	return r.scan(ctx, func(rec *Record) bool {
		return rec.Capability.Determinism == class
	})
}

func (r *Registry) scan(ctx context.Context, match func(*Record) bool) ([]Record, error) {
	catalog, err := r.catalog(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]Record, 0)
	for _, records := range catalog.records {
		for _, rec := range records {
			if !rec.Deprecated && match(rec) {
				matches = append(matches, *rec)
			}
		}
	}
	sortRecords(matches)
	return matches, nil
}

func (r *Registry) catalog(ctx context.Context) (*catalogState, error) {
	state, err := r.engine.GetState(ctx, projectionName)
	if err != nil {
		return nil, err
	}
	return state.(*catalogState), nil
}

// sortRecords orders by descending version, then ascending registration
// event id.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, erri := semver.NewVersion(records[i].Capability.Version)
		vj, errj := semver.NewVersion(records[j].Capability.Version)
		if erri == nil && errj == nil && !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return records[i].EventID < records[j].EventID
	})
}

type catalogState struct {
	// records lists registrations per capability id in registration order.
	records map[string][]*Record
}

func (s *catalogState) clone() *catalogState {
	out := &catalogState{records: make(map[string][]*Record, len(s.records))}
	for id, records := range s.records {
		copied := make([]*Record, len(records))
		for i, rec := range records {
			r := *rec
			copied[i] = &r
		}
		out.records[id] = copied
	}
	return out
}

// newCatalogProjection folds capability-lifecycle events into the catalog.
func newCatalogProjection() projection.Projection {
	return projection.Func(
		func() any { return &catalogState{records: map[string][]*Record{}} },
		func(state any, env core.Envelope) (any, error) {
			s := state.(*catalogState).clone()
			switch env.EventType {
			case core.EventTypeCapabilityRegistered:
				rec := recordFromPayload(env)
				id := rec.Capability.ID
				s.records[id] = append(s.records[id], rec)
			case core.EventTypeCapabilityDeprecated:
				id, _ := env.Payload["capability_id"].(string)
				version, _ := env.Payload["version"].(string)
				agentID, _ := env.Payload["agent_id"].(string)
				for _, rec := range s.records[id] {
					if version != "" && rec.Capability.Version != version {
						continue
					}
					if agentID != "" && rec.Owner.AgentID != agentID {
						continue
					}
					rec.Deprecated = true
				}
			}
			return s, nil
		},
	)
}

func recordFromPayload(env core.Envelope) *Record {
	str := func(key string) string {
		s, _ := env.Payload[key].(string)
		return s
	}
	var tags []string
	if raw, ok := env.Payload["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	return &Record{
		Capability: Capability{
			ID:          str("capability_id"),
			Version:     str("version"),
			Description: str("description"),
			Tags:        tags,
			Determinism: DeterminismClass(str("determinism")),
			SideEffect:  SideEffectClass(str("side_effect")),
			Latency:     LatencyClass(str("latency")),
		},
		Owner: core.AgentRef{
			AgentID:   str("agent_id"),
			AgentType: str("agent_type"),
		},
		RegisteredAt: env.Timestamp,
		EventID:      env.EventID,
	}
}
