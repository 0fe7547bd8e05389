// Package core provides the foundational domain types and interfaces of
// AgentKernel. It defines the core abstractions for:
//
//   - AgentRef / TraceContext (producer identity and causal trace coordinates)
//   - Envelope (the immutable, versioned unit of record and transmission)
//   - DomainEvent (the closed catalogue of typed, business-meaningful events)
//   - EventStore / Bus / pluggable persistence and routing boundaries
//   - The error taxonomy shared by every subsystem
//
// The package intentionally keeps implementation concerns (persistence
// backends, executor orchestration, projections) out of scope, exposing small
// interfaces to enable custom backends and extensions.
package core
