package capability

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// DeterminismClass classifies a capability's output stability.
type DeterminismClass string

const (
	// DeterminismDeterministic means identical inputs yield identical outputs.
	DeterminismDeterministic DeterminismClass = "deterministic"
	// DeterminismIdempotent means repeated invocation is safe but outputs
	// may vary.
	DeterminismIdempotent DeterminismClass = "idempotent"
	// DeterminismNondeterministic means outputs depend on external entropy.
	DeterminismNondeterministic DeterminismClass = "nondeterministic"
)

// SideEffectClass classifies what a capability touches.
type SideEffectClass string

const (
	SideEffectPure     SideEffectClass = "pure"
	SideEffectRead     SideEffectClass = "read"
	SideEffectWrite    SideEffectClass = "write"
	SideEffectExternal SideEffectClass = "external"
)

// LatencyClass is a coarse latency expectation for scheduling decisions.
type LatencyClass string

const (
	LatencyFast     LatencyClass = "fast"
	LatencyModerate LatencyClass = "moderate"
	LatencySlow     LatencyClass = "slow"
)

// Capability describes a typed, versioned unit of functionality a worker
// advertises to its peers.
type Capability struct {
	// ID is the capability identifier, e.g. "text.summarize".
	ID string
	// Version is a semantic version, e.g. "1.2.0".
	Version string
	// Description is free-form documentation for discovery.
	Description string
	// Tags support find-by-tag discovery.
	Tags []string
	// Determinism, SideEffect and Latency classify runtime behavior.
	Determinism DeterminismClass
	SideEffect  SideEffectClass
	Latency     LatencyClass
}

// Validate checks the capability's identity and version format.
func (c Capability) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("capability: missing id")
	}
	if c.Version == "" {
		return fmt.Errorf("capability %s: missing version", c.ID)
	}
	if _, err := semver.NewVersion(c.Version); err != nil {
		return fmt.Errorf("capability %s: invalid version %q: %w", c.ID, c.Version, err)
	}
	return nil
}
