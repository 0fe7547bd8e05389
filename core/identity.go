package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for events, traces and spans.
//
// Identifiers are UUIDv7 so that lexicographic order follows creation order.
// This keeps event ids usable as a stable tie-breaker when merging streams
// from independent partitions.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 generation only fails if the entropy source is exhausted;
		// fall back to v4 rather than panicking in a hot path.
		return uuid.NewString()
	}
	return id.String()
}

// AgentRef identifies the producer of an event. It is immutable once
// constructed: a stable worker id, a worker-type tag, a runtime id for
// multi-host deployments and an instance id unique per process lifetime.
type AgentRef struct {
	AgentID    string `json:"agent_id"`
	AgentType  string `json:"agent_type"`
	RuntimeID  string `json:"runtime_id"`
	InstanceID string `json:"instance_id"`
}

// NewAgentRef constructs an AgentRef for a local runtime with a fresh
// instance id.
func NewAgentRef(agentID, agentType string) AgentRef {
	return AgentRef{
		AgentID:    agentID,
		AgentType:  agentType,
		RuntimeID:  "local",
		InstanceID: NewID(),
	}
}

// TraceContext carries distributed-tracing coordinates for one unit of work.
// A trace id is shared across an entire causal chain; the span id is unique
// to the current unit of work. Causal trees across workers are reconstructed
// from parent span references and the depth counter.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Depth        int    `json:"depth"`
}

// NewTraceContext starts a fresh trace with a root span.
func NewTraceContext() TraceContext {
	return TraceContext{TraceID: NewID(), SpanID: NewID()}
}

// Child derives a trace context for a sub-operation: same trace id, new span
// referencing the current span as parent, depth incremented.
func (tc TraceContext) Child() TraceContext {
	return TraceContext{
		TraceID:      tc.TraceID,
		SpanID:       NewID(),
		ParentSpanID: tc.SpanID,
		Depth:        tc.Depth + 1,
	}
}
