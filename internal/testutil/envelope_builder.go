package testutil

import (
	"time"

	"github.com/hupe1980/agentkernel/core"
)

// EnvelopeBuilder provides a fluent helper for constructing envelopes in
// tests. Example:
//
//	env := NewEnvelopeBuilder().Producer("worker-1").Partition("worker-1").
//		Event(core.NodeEntered{NodeID: "fetch", GraphID: "g"}).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EnvelopeBuilder struct {
	agentID       string
	agentType     string
	partition     string
	correlationID string
	causationID   string
	idempotency   string
	timestamp     time.Time
	trace         *core.TraceContext
	event         core.DomainEvent
}

// NewEnvelopeBuilder creates a builder producing for agent "test-agent".
func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{agentID: "test-agent", agentType: "test"}
}

// Producer sets the producing agent id (chainable).
func (b *EnvelopeBuilder) Producer(agentID string) *EnvelopeBuilder {
	b.agentID = agentID
	return b
}

// ProducerType sets the producing agent type (chainable).
func (b *EnvelopeBuilder) ProducerType(agentType string) *EnvelopeBuilder {
	b.agentType = agentType
	return b
}

// Partition assigns the envelope's ordering domain (chainable).
func (b *EnvelopeBuilder) Partition(key string) *EnvelopeBuilder {
	b.partition = key
	return b
}

// Correlation groups the envelope into a logical operation (chainable).
func (b *EnvelopeBuilder) Correlation(id string) *EnvelopeBuilder {
	b.correlationID = id
	return b
}

// CausedBy links the envelope to its triggering event (chainable).
func (b *EnvelopeBuilder) CausedBy(eventID string) *EnvelopeBuilder {
	b.causationID = eventID
	return b
}

// Idempotency sets the idempotency key (chainable).
func (b *EnvelopeBuilder) Idempotency(key string) *EnvelopeBuilder {
	b.idempotency = key
	return b
}

// At overrides the envelope timestamp; mainly for tests where cross-partition
// ordering matters (chainable).
func (b *EnvelopeBuilder) At(ts time.Time) *EnvelopeBuilder {
	b.timestamp = ts
	return b
}

// Trace sets an explicit trace context instead of a fresh root (chainable).
func (b *EnvelopeBuilder) Trace(trace core.TraceContext) *EnvelopeBuilder {
	b.trace = &trace
	return b
}

// Event sets the wrapped domain event (chainable). Defaults to AgentStarted
// when unset.
func (b *EnvelopeBuilder) Event(ev core.DomainEvent) *EnvelopeBuilder {
	b.event = ev
	return b
}

// Build assembles the envelope.
func (b *EnvelopeBuilder) Build() core.Envelope {
	ev := b.event
	if ev == nil {
		ev = core.AgentStarted{AgentID: b.agentID, AgentType: b.agentType}
	}
	trace := core.NewTraceContext()
	if b.trace != nil {
		trace = *b.trace
	}
	opts := []core.EnvelopeOption{}
	if b.partition != "" {
		opts = append(opts, core.WithPartition(b.partition))
	}
	if b.correlationID != "" {
		opts = append(opts, core.WithCorrelation(b.correlationID))
	}
	if b.causationID != "" {
		opts = append(opts, core.WithCausation(b.causationID))
	}
	if b.idempotency != "" {
		opts = append(opts, core.WithIdempotencyKey(b.idempotency))
	}
	env := core.NewEnvelope(ev, core.NewAgentRef(b.agentID, b.agentType), trace, opts...)
	if !b.timestamp.IsZero() {
		env.Timestamp = b.timestamp
	}
	return env
}
