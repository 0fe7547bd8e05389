package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobwas/glob"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/logging"
)

// Options configures a Bridge.
type Options struct {
	// Store, when set, persists every published envelope before fan-out.
	// Leave nil when publishers (such as the kernel executor) already
	// append to their own partition; the bridge then only routes.
	Store core.EventStore

	// Logger receives handler failure reports. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Bridge is an in-process core.Bus implementation. Subscribers register
// glob patterns over event types ("kernel.*", "capability.registered");
// publishing fans out synchronously to every matching handler.
//
// Handler errors do not abort delivery to other subscribers and are not
// propagated to the publisher: delivery is at-least-once and redelivery
// policy belongs to the caller. Failures are logged.
type Bridge struct {
	store  core.EventStore
	logger logging.Logger

	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
}

type subscription struct {
	pattern string
	matcher glob.Glob
	handler core.Handler
}

// New constructs a Bridge with optional overrides.
func New(optFns ...func(o *Options)) *Bridge {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Bridge{store: opts.Store, logger: opts.Logger, subs: make(map[int]*subscription)}
}

// Publish validates the envelope, persists it when a store is attached, and
// delivers it to every subscriber whose pattern matches the event type.
// Store failures are surfaced to the caller and abort fan-out; the envelope
// is never visible on the bus without being durable first.
func (b *Bridge) Publish(ctx context.Context, env core.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if b.store != nil {
		if err := b.store.Append(ctx, env); err != nil {
			return err
		}
	}

	b.mu.RLock()
	matching := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matcher.Match(env.EventType) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		if err := sub.handler(ctx, env); err != nil {
			b.logger.Error("bus handler failed",
				"pattern", sub.pattern, "event_type", env.EventType, "event_id", env.EventID, "error", err)
		}
	}
	return nil
}

// Subscribe registers a handler for an event-type glob pattern. The '.'
// separator bounds wildcards, so "kernel.*" matches "kernel.node.entered"
// only via "kernel.**"; use "**" to observe everything. It returns an
// unsubscribe function.
func (b *Bridge) Subscribe(pattern string, h core.Handler) (func(), error) {
	matcher, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("compile subscription pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{pattern: pattern, matcher: matcher, handler: h}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Deduper suppresses redelivery of envelopes a subscriber has already
// processed, keyed by idempotency key when present and event id otherwise.
// Wrap handlers with it to satisfy the at-least-once consumption contract.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper constructs an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

func dedupeKey(env core.Envelope) string {
	if env.IdempotencyKey != "" {
		return env.PartitionKey + "\x00" + env.IdempotencyKey
	}
	return env.EventID
}

// Wrap returns a handler that invokes h exactly once per logical event.
func (d *Deduper) Wrap(h core.Handler) core.Handler {
	return func(ctx context.Context, env core.Envelope) error {
		key := dedupeKey(env)
		d.mu.Lock()
		if _, dup := d.seen[key]; dup {
			d.mu.Unlock()
			return nil
		}
		d.seen[key] = struct{}{}
		d.mu.Unlock()
		return h(ctx, env)
	}
}
