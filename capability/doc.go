// Package capability tracks which workers advertise which typed
// capabilities. The registry never mutates a table directly: registering is
// emitting a capability-lifecycle event and letting a projection observe
// it, so registry state is fully re-derivable from the log.
package capability
