// Package kernel executes a worker's declared execution graph while
// mediating every observable side effect through event emission. Entering a
// node emits kernel.node.entered before the body runs; leaving it emits
// kernel.node.completed with duration, outcome, state delta and any recorded
// entropy. Checkpoints are persisted as events aligned to an event id, so
// resume-and-continue reconstructs state by replaying recorded events and
// re-invokes only nodes for which no completion event exists yet.
//
// Node bodies are opaque functions of (state, runtime) returning a
// structured NodeResult; the executor, never the node, performs all
// persistence and forwarding. Nodes that depend on external entropy
// (timestamps, randomness, network calls) must obtain those inputs through
// Runtime.Entropy so replay can substitute recorded values.
package kernel
