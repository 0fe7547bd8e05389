// Package engine hosts multiple workers over a shared event store and bus
// bridge. Each worker's graph executes as a single logical thread of
// control; workers run concurrently and independently, coordinating only
// through events. The engine bounds concurrent runs and tracks them for
// cancellation.
package engine
