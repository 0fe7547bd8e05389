package core

// Event type identifiers form a closed catalogue. Projections handle the
// catalogue exhaustively; an unknown event type at the point of projection
// application is a ValidationError, never a silent skip.
const (
	EventTypeAgentStarted         = "agent.started"
	EventTypeAgentStopped         = "agent.stopped"
	EventTypeNodeEntered          = "kernel.node.entered"
	EventTypeNodeCompleted        = "kernel.node.completed"
	EventTypeNodeSuspended        = "kernel.node.suspended"
	EventTypeCheckpointCreated    = "kernel.checkpoint.created"
	EventTypeCapabilityRegistered = "capability.registered"
	EventTypeCapabilityDeprecated = "capability.deprecated"
	EventTypeCapabilityInvoked    = "capability.invoked"
	EventTypeCapabilityCompleted  = "capability.completed"
	EventTypeMemoryWritten        = "memory.written"
	EventTypeTaskRequested        = "task.requested"
	EventTypeTaskCompleted        = "task.completed"
	EventTypeErrorOccurred        = "system.error.occurred"
)

var knownEventTypes = map[string]struct{}{
	EventTypeAgentStarted:         {},
	EventTypeAgentStopped:         {},
	EventTypeNodeEntered:          {},
	EventTypeNodeCompleted:        {},
	EventTypeNodeSuspended:        {},
	EventTypeCheckpointCreated:    {},
	EventTypeCapabilityRegistered: {},
	EventTypeCapabilityDeprecated: {},
	EventTypeCapabilityInvoked:    {},
	EventTypeCapabilityCompleted:  {},
	EventTypeMemoryWritten:        {},
	EventTypeTaskRequested:        {},
	EventTypeTaskCompleted:        {},
	EventTypeErrorOccurred:        {},
}

// KnownEventType reports whether an event type belongs to the catalogue.
func KnownEventType(eventType string) bool {
	_, ok := knownEventTypes[eventType]
	return ok
}

// DomainEvent is a typed, business-meaningful event. Domain events are the
// only thing application code constructs directly; envelopes are derived
// from them via NewEnvelope.
type DomainEvent interface {
	// EventType returns the catalogue identifier for the event.
	EventType() string
	// Payload serializes the event into an envelope payload.
	Payload() map[string]any
}

// EntropyEntry records one input a non-deterministic node obtained from an
// external entropy source, so replay can substitute the recorded value
// instead of re-invoking the source.
type EntropyEntry struct {
	Source string `json:"source"`
	Value  any    `json:"value"`
}

// AgentStarted marks the beginning of a worker execution.
type AgentStarted struct {
	AgentID   string
	AgentType string
}

// EventType implements DomainEvent.
func (e AgentStarted) EventType() string { return EventTypeAgentStarted }

// Payload implements DomainEvent.
func (e AgentStarted) Payload() map[string]any {
	return map[string]any{"agent_id": e.AgentID, "agent_type": e.AgentType}
}

// AgentStopped marks the end of a worker execution with a reason
// ("completed", "cancelled", or "error: ...").
type AgentStopped struct {
	AgentID string
	Reason  string
}

// EventType implements DomainEvent.
func (e AgentStopped) EventType() string { return EventTypeAgentStopped }

// Payload implements DomainEvent.
func (e AgentStopped) Payload() map[string]any {
	return map[string]any{"agent_id": e.AgentID, "reason": e.Reason}
}

// NodeEntered is emitted before a node body executes.
type NodeEntered struct {
	NodeID  string
	GraphID string
}

// EventType implements DomainEvent.
func (e NodeEntered) EventType() string { return EventTypeNodeEntered }

// Payload implements DomainEvent.
func (e NodeEntered) Payload() map[string]any {
	return map[string]any{"node_id": e.NodeID, "graph_id": e.GraphID}
}

// NodeCompleted records a node leaving execution, successfully or not. The
// payload carries the node's state delta and recorded entropy so a resumed
// execution can replay the node without re-executing it.
type NodeCompleted struct {
	NodeID     string
	GraphID    string
	DurationMs float64
	Outcome    string // "success" or "failure"
	Error      string
	Route      string // explicit routing override chosen by the node, if any
	StateDelta map[string]any
	Entropy    []EntropyEntry
}

// EventType implements DomainEvent.
func (e NodeCompleted) EventType() string { return EventTypeNodeCompleted }

// Payload implements DomainEvent.
func (e NodeCompleted) Payload() map[string]any {
	entropy := make([]any, 0, len(e.Entropy))
	for _, entry := range e.Entropy {
		entropy = append(entropy, map[string]any{"source": entry.Source, "value": entry.Value})
	}
	p := map[string]any{
		"node_id":     e.NodeID,
		"graph_id":    e.GraphID,
		"duration_ms": e.DurationMs,
		"outcome":     e.Outcome,
		"state_delta": e.StateDelta,
		"entropy":     entropy,
	}
	if e.Error != "" {
		p["error"] = e.Error
	}
	if e.Route != "" {
		p["route"] = e.Route
	}
	return p
}

// NodeSuspended records a node explicitly suspending execution pending
// external input. Suspension is never silent.
type NodeSuspended struct {
	NodeID  string
	GraphID string
	Reason  string
}

// EventType implements DomainEvent.
func (e NodeSuspended) EventType() string { return EventTypeNodeSuspended }

// Payload implements DomainEvent.
func (e NodeSuspended) Payload() map[string]any {
	return map[string]any{"node_id": e.NodeID, "graph_id": e.GraphID, "reason": e.Reason}
}

// CheckpointCreated aligns a named recovery point with a specific event id.
// Resuming from the checkpoint and replaying from the aligned event onward
// must be logically equivalent to uninterrupted execution.
type CheckpointCreated struct {
	CheckpointID   string
	NodeID         string
	AlignedEventID string
	NextNode       string
	State          map[string]any
}

// EventType implements DomainEvent.
func (e CheckpointCreated) EventType() string { return EventTypeCheckpointCreated }

// Payload implements DomainEvent.
func (e CheckpointCreated) Payload() map[string]any {
	return map[string]any{
		"checkpoint_id":    e.CheckpointID,
		"node_id":          e.NodeID,
		"aligned_event_id": e.AlignedEventID,
		"next_node":        e.NextNode,
		"state":            e.State,
	}
}

// CapabilityRegistered advertises a typed capability owned by an agent,
// including its classification (determinism, side effects, latency).
type CapabilityRegistered struct {
	CapabilityID string
	Version      string
	AgentID      string
	AgentType    string
	Description  string
	Tags         []string
	Determinism  string
	SideEffect   string
	Latency      string
}

// EventType implements DomainEvent.
func (e CapabilityRegistered) EventType() string { return EventTypeCapabilityRegistered }

// Payload implements DomainEvent.
func (e CapabilityRegistered) Payload() map[string]any {
	p := map[string]any{
		"capability_id": e.CapabilityID,
		"version":       e.Version,
		"agent_id":      e.AgentID,
		"agent_type":    e.AgentType,
	}
	if e.Description != "" {
		p["description"] = e.Description
	}
	if len(e.Tags) > 0 {
		tags := make([]any, 0, len(e.Tags))
		for _, tag := range e.Tags {
			tags = append(tags, tag)
		}
		p["tags"] = tags
	}
	if e.Determinism != "" {
		p["determinism"] = e.Determinism
	}
	if e.SideEffect != "" {
		p["side_effect"] = e.SideEffect
	}
	if e.Latency != "" {
		p["latency"] = e.Latency
	}
	return p
}

// CapabilityDeprecated marks an owner's capability version as deprecated.
type CapabilityDeprecated struct {
	CapabilityID string
	Version      string
	AgentID      string
}

// EventType implements DomainEvent.
func (e CapabilityDeprecated) EventType() string { return EventTypeCapabilityDeprecated }

// Payload implements DomainEvent.
func (e CapabilityDeprecated) Payload() map[string]any {
	return map[string]any{
		"capability_id": e.CapabilityID,
		"version":       e.Version,
		"agent_id":      e.AgentID,
	}
}

// CapabilityInvoked records a cross-worker capability call.
type CapabilityInvoked struct {
	CallerAgentID string
	TargetAgentID string
	CapabilityID  string
}

// EventType implements DomainEvent.
func (e CapabilityInvoked) EventType() string { return EventTypeCapabilityInvoked }

// Payload implements DomainEvent.
func (e CapabilityInvoked) Payload() map[string]any {
	return map[string]any{
		"caller_agent_id": e.CallerAgentID,
		"target_agent_id": e.TargetAgentID,
		"capability_id":   e.CapabilityID,
	}
}

// CapabilityCompleted records the outcome of a capability invocation.
type CapabilityCompleted struct {
	CapabilityID  string
	CallerAgentID string
	Result        any
	Error         string
}

// EventType implements DomainEvent.
func (e CapabilityCompleted) EventType() string { return EventTypeCapabilityCompleted }

// Payload implements DomainEvent.
func (e CapabilityCompleted) Payload() map[string]any {
	p := map[string]any{
		"capability_id":   e.CapabilityID,
		"caller_agent_id": e.CallerAgentID,
		"result":          e.Result,
	}
	if e.Error != "" {
		p["error"] = e.Error
	}
	return p
}

// MemoryWritten records a durable memory write performed by a worker.
type MemoryWritten struct {
	Key       string
	ValueType string
	Value     any
}

// EventType implements DomainEvent.
func (e MemoryWritten) EventType() string { return EventTypeMemoryWritten }

// Payload implements DomainEvent.
func (e MemoryWritten) Payload() map[string]any {
	return map[string]any{"key": e.Key, "value_type": e.ValueType, "value": e.Value}
}

// TaskRequested delegates a unit of work to the owner of a capability.
type TaskRequested struct {
	TaskID       string
	CapabilityID string
	TaskPayload  map[string]any
}

// EventType implements DomainEvent.
func (e TaskRequested) EventType() string { return EventTypeTaskRequested }

// Payload implements DomainEvent.
func (e TaskRequested) Payload() map[string]any {
	return map[string]any{
		"task_id":       e.TaskID,
		"capability_id": e.CapabilityID,
		"task_payload":  e.TaskPayload,
	}
}

// TaskCompleted records the outcome of a delegated task.
type TaskCompleted struct {
	TaskID string
	Result any
	Error  string
}

// EventType implements DomainEvent.
func (e TaskCompleted) EventType() string { return EventTypeTaskCompleted }

// Payload implements DomainEvent.
func (e TaskCompleted) Payload() map[string]any {
	p := map[string]any{"task_id": e.TaskID, "result": e.Result}
	if e.Error != "" {
		p["error"] = e.Error
	}
	return p
}

// ErrorOccurred records a failure as part of the event trail.
type ErrorOccurred struct {
	ErrorType       string
	Message         string
	OriginalEventID string
	StackTrace      string
}

// EventType implements DomainEvent.
func (e ErrorOccurred) EventType() string { return EventTypeErrorOccurred }

// Payload implements DomainEvent.
func (e ErrorOccurred) Payload() map[string]any {
	p := map[string]any{"error_type": e.ErrorType, "message": e.Message}
	if e.OriginalEventID != "" {
		p["original_event_id"] = e.OriginalEventID
	}
	if e.StackTrace != "" {
		p["stack_trace"] = e.StackTrace
	}
	return p
}
