package core

import "context"

// ReadOptions filters a forward scan over one partition. The zero value
// reads the whole partition from offset zero.
type ReadOptions struct {
	// FromOffset is the first offset included in the scan.
	FromOffset int
	// Limit caps the number of returned envelopes; 0 means unlimited.
	Limit int
	// EventType restricts the scan to one catalogue event type when set.
	EventType string
	// CorrelationID restricts the scan to one logical operation when set.
	CorrelationID string
}

// EventStore is the append-only, strictly ordered log of envelopes, the
// source of truth for all derived state. File-based and service-based
// backends are interchangeable implementations of this contract.
//
// Ordering: within one partition, append order is the only order that
// matters. The store assigns each accepted envelope the next sequential
// offset in its partition and makes it durable before Append returns.
// Concurrent appends to the same partition are serialized by the store; the
// owning executor is the partition's only writer.
//
// Idempotency: appending an envelope whose idempotency key already exists in
// the partition is a silent no-op, not an error, to support at-least-once
// redelivery.
//
// Reads never partially fail: an unreadable envelope aborts the whole read
// with a *CorruptionError rather than being skipped.
type EventStore interface {
	// Append validates and durably appends an envelope to the partition
	// named by its partition key.
	Append(ctx context.Context, env Envelope) error

	// Read returns envelopes from a partition at or after opts.FromOffset,
	// in ascending offset order, optionally filtered. It never reorders.
	Read(ctx context.Context, partition string, opts ReadOptions) ([]Envelope, error)

	// LastOffset returns the current length of a partition's log. An empty
	// partition has last offset 0.
	LastOffset(ctx context.Context, partition string) (int, error)

	// ReadByCorrelation returns every envelope in the partition sharing a
	// correlation id, in offset order.
	ReadByCorrelation(ctx context.Context, partition, correlationID string) ([]Envelope, error)

	// Partitions lists every partition key present in the store, sorted.
	Partitions(ctx context.Context) ([]string, error)
}

// Handler consumes one delivered envelope. Delivery through the bus is
// at-least-once; handlers must be idempotent with respect to the envelope's
// idempotency key or event id.
type Handler func(ctx context.Context, env Envelope) error

// Bus is the logical publish/subscribe fabric routing envelopes between
// workers. Physical transport is out of scope; only the ordering and
// delivery contract is defined here.
type Bus interface {
	// Publish delivers an envelope to every subscriber whose pattern
	// matches the envelope's event type.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers a handler for an event-type glob pattern
	// (e.g. "kernel.*", "capability.registered"). It returns an
	// unsubscribe function.
	Subscribe(pattern string, h Handler) (func(), error)
}
