package core

import "time"

// SpecVersion is the envelope schema version stamped on every envelope
// constructed by this module.
const SpecVersion = "1.0.0"

// SignatureBlock is an optional opaque signature slot. Signing semantics are
// defined by the deployment; the kernel only transports and canonicalizes.
type SignatureBlock struct {
	Algorithm   string `json:"algorithm"`
	PublicKeyID string `json:"public_key_id"`
	Signature   string `json:"signature"`
}

// Envelope is the canonical, versioned unit of record wrapping every state
// transition. It is the only thing ever persisted or transmitted.
//
// Envelopes are immutable after construction and content-addressable by
// event id. Two envelopes with the same idempotency key within the same
// partition must be treated as one logical event by all consumers.
type Envelope struct {
	SpecVersion    string          `json:"spec_version"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	EventVersion   string          `json:"event_version"`
	Timestamp      time.Time       `json:"timestamp"`
	Producer       AgentRef        `json:"producer"`
	Trace          TraceContext    `json:"trace"`
	CausationID    string          `json:"causation_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	PartitionKey   string          `json:"partition_key,omitempty"`
	TTLMillis      int64           `json:"ttl_ms,omitempty"`
	Payload        map[string]any  `json:"payload"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Signature      *SignatureBlock `json:"signature,omitempty"`
}

// Validate checks the envelope for the required fields of the record schema.
// It returns a *ValidationError describing the first missing field, or nil.
func (e Envelope) Validate() error {
	switch {
	case e.SpecVersion == "":
		return &ValidationError{Field: "spec_version", Reason: "missing"}
	case e.EventID == "":
		return &ValidationError{Field: "event_id", Reason: "missing"}
	case e.EventType == "":
		return &ValidationError{Field: "event_type", Reason: "missing"}
	case e.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp", Reason: "missing"}
	case e.Producer.AgentID == "":
		return &ValidationError{Field: "producer.agent_id", Reason: "missing"}
	case e.Producer.AgentType == "":
		return &ValidationError{Field: "producer.agent_type", Reason: "missing"}
	case e.Trace.TraceID == "":
		return &ValidationError{Field: "trace.trace_id", Reason: "missing"}
	case e.Trace.SpanID == "":
		return &ValidationError{Field: "trace.span_id", Reason: "missing"}
	}
	return nil
}

// EnvelopeOption customizes optional envelope fields at construction time.
type EnvelopeOption func(*Envelope)

// WithCausation links the envelope to the event that directly triggered it.
func WithCausation(eventID string) EnvelopeOption {
	return func(e *Envelope) { e.CausationID = eventID }
}

// WithCorrelation groups the envelope into a logical multi-step operation.
func WithCorrelation(correlationID string) EnvelopeOption {
	return func(e *Envelope) { e.CorrelationID = correlationID }
}

// WithIdempotencyKey marks the envelope for safe at-least-once redelivery.
func WithIdempotencyKey(key string) EnvelopeOption {
	return func(e *Envelope) { e.IdempotencyKey = key }
}

// WithPartition assigns the envelope to an ordering domain.
func WithPartition(key string) EnvelopeOption {
	return func(e *Envelope) { e.PartitionKey = key }
}

// WithTTL sets a time-to-live after which retention may prune the envelope.
func WithTTL(d time.Duration) EnvelopeOption {
	return func(e *Envelope) { e.TTLMillis = d.Milliseconds() }
}

// WithMetadata attaches a free-form metadata entry.
func WithMetadata(key string, value any) EnvelopeOption {
	return func(e *Envelope) {
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		e.Metadata[key] = value
	}
}

// NewEnvelope wraps a domain event in a transport/storage envelope tagged
// with the producing agent and trace context. Application code constructs
// domain events; envelopes are always derived through this function.
func NewEnvelope(ev DomainEvent, producer AgentRef, trace TraceContext, opts ...EnvelopeOption) Envelope {
	env := Envelope{
		SpecVersion:  SpecVersion,
		EventID:      NewID(),
		EventType:    ev.EventType(),
		EventVersion: "1.0.0",
		Timestamp:    time.Now().UTC(),
		Producer:     producer,
		Trace:        trace,
		Payload:      ev.Payload(),
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env
}
