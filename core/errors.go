package core

import "fmt"

// ValidationError reports a malformed envelope or domain event. It is
// raised before persistence and is recoverable by the caller.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Reason)
}

// CorruptionError reports unreadable or inconsistent persisted data. Reads
// never partially fail: an unreadable envelope aborts the whole read with
// this error instead of being skipped silently. It is fatal and never
// retried automatically.
type CorruptionError struct {
	Partition string
	Offset    int
	Err       error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("store corruption in partition '%s' at offset %d: %v", e.Partition, e.Offset, e.Err)
}

// Unwrap returns the underlying read/decode error.
func (e *CorruptionError) Unwrap() error { return e.Err }

// NodeExecutionError wraps the failure of a graph node's own logic. The
// node's completion event is emitted with a failure outcome before this
// error is re-raised to the executor's caller, who decides retry or abort.
type NodeExecutionError struct {
	Node string
	Err  error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node '%s' execution failed: %v", e.Node, e.Err)
}

// Unwrap returns the node's originating error.
func (e *NodeExecutionError) Unwrap() error { return e.Err }

// CheckpointError reports a failed checkpoint write or load. Execution halts
// rather than proceeding past an unpersisted checkpoint.
type CheckpointError struct {
	CheckpointID string
	Err          error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint '%s' failed: %v", e.CheckpointID, e.Err)
}

// Unwrap returns the underlying storage error.
func (e *CheckpointError) Unwrap() error { return e.Err }

// ProjectionVersionError reports that a projection's fold function changed
// version while cached state from the previous version still exists. The
// caller must explicitly rebuild; state is never silently migrated.
type ProjectionVersionError struct {
	Projection string
	Cached     int
	Registered int
}

// Error implements the error interface.
func (e *ProjectionVersionError) Error() string {
	return fmt.Sprintf("projection '%s' registered at version %d but cached state is version %d: rebuild required",
		e.Projection, e.Registered, e.Cached)
}

// CapabilityNotFoundError is returned only by callers that explicitly
// require resolution to succeed. The registry itself reports "not found" as
// an empty result, never as an error.
type CapabilityNotFoundError struct {
	CapabilityID string
	VersionRange string
}

// Error implements the error interface.
func (e *CapabilityNotFoundError) Error() string {
	if e.VersionRange == "" {
		return fmt.Sprintf("no capability found: %s", e.CapabilityID)
	}
	return fmt.Sprintf("no capability found: %s version=%s", e.CapabilityID, e.VersionRange)
}
