package kernel

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentkernel/core"
)

// State is the working key/value state threaded through a graph execution.
// The executor hands each node a defensive copy; nodes communicate changes
// exclusively through NodeResult.StateDelta.
type State map[string]any

// Clone returns a shallow copy safe for independent top-level mutation.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merged returns a copy of the state with the delta applied.
func (s State) Merged(delta map[string]any) State {
	out := s.Clone()
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// NodeResult is the structured value a node body returns. The executor
// applies the state delta, emits the queued domain events in order, and
// performs routing; the node body itself performs no unreported mutation.
type NodeResult struct {
	// StateDelta is merged into the execution state at the node boundary.
	StateDelta map[string]any
	// Events are domain events queued by the node's logic, appended and
	// forwarded by the executor in trace order.
	Events []core.DomainEvent
	// Route overrides edge evaluation with an explicit next node.
	Route string
	// Suspend requests an explicit suspension pending external input.
	Suspend bool
	// SuspendReason describes why the node suspended.
	SuspendReason string
}

// NodeFunc is an externally supplied node body: an opaque function of
// (state, runtime options) producing a state delta and a list of domain
// events. Whether it calls a model, a tool or pure logic is invisible to
// the executor.
type NodeFunc func(ctx context.Context, state State, rt *Runtime) (NodeResult, error)

// Node is a named vertex of the execution graph.
type Node struct {
	// Name identifies the node within its graph.
	Name string
	// Body is the node's externally supplied logic.
	Body NodeFunc
	// Deterministic declares the body free of external entropy. Nodes not
	// declared deterministic must route entropy through Runtime.Entropy.
	Deterministic bool
	// EntropySources names the expected entropy sources of a
	// non-deterministic node (e.g. "llm", "network", "time").
	EntropySources []string
	// Checkpoint requests a checkpoint after this node's boundary.
	Checkpoint bool
}

// Edge routes execution from one node to another, optionally guarded by a
// condition over the current state. A nil condition always matches.
type Edge struct {
	To   string
	When func(State) bool
}

// Graph is a directed graph of named nodes and conditional edges with a
// single entry and one or more terminal nodes (nodes without outgoing
// edges). Construction is chainable; Validate reports the first structural
// problem.
type Graph struct {
	id    string
	entry string
	nodes map[string]*Node
	edges map[string][]Edge
	err   error
}

// NewGraph creates an empty graph with the given id.
func NewGraph(id string) *Graph {
	return &Graph{id: id, nodes: make(map[string]*Node), edges: make(map[string][]Edge)}
}

// ID returns the graph identifier.
func (g *Graph) ID() string { return g.id }

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

func (g *Graph) fail(err error) *Graph {
	if g.err == nil {
		g.err = err
	}
	return g
}

// AddNode registers a node. The first node added becomes the entry unless
// SetEntry overrides it.
func (g *Graph) AddNode(n Node) *Graph {
	if n.Name == "" {
		return g.fail(fmt.Errorf("graph %s: node with empty name", g.id))
	}
	if _, dup := g.nodes[n.Name]; dup {
		return g.fail(fmt.Errorf("graph %s: duplicate node %q", g.id, n.Name))
	}
	node := n
	g.nodes[n.Name] = &node
	if g.entry == "" {
		g.entry = n.Name
	}
	return g
}

// SetEntry designates the entry node.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// AddEdge adds an unconditional edge. Edges are evaluated in registration
// order; the first matching edge wins.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], Edge{To: to})
	return g
}

// AddConditionalEdge adds an edge guarded by a condition over the state.
func (g *Graph) AddConditionalEdge(from, to string, when func(State) bool) *Graph {
	g.edges[from] = append(g.edges[from], Edge{To: to, When: when})
	return g
}

// Validate checks graph structure: a known entry, edges between known
// nodes, bodies on every node, and at least one terminal node.
func (g *Graph) Validate() error {
	if g.err != nil {
		return g.err
	}
	if len(g.nodes) == 0 {
		return fmt.Errorf("graph %s: no nodes", g.id)
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("graph %s: entry node %q not defined", g.id, g.entry)
	}
	terminal := false
	for name, node := range g.nodes {
		if node.Body == nil {
			return fmt.Errorf("graph %s: node %q has no body", g.id, name)
		}
		if len(g.edges[name]) == 0 {
			terminal = true
		}
	}
	if !terminal {
		return fmt.Errorf("graph %s: no terminal node (every node has outgoing edges)", g.id)
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph %s: edge from unknown node %q", g.id, from)
		}
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok {
				return fmt.Errorf("graph %s: edge %s -> %s targets unknown node", g.id, from, e.To)
			}
		}
	}
	return nil
}

func (g *Graph) node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// next resolves the node following 'from' given the current state and an
// optional explicit route. ok is false when 'from' is terminal.
func (g *Graph) next(from string, s State, route string) (string, bool, error) {
	if route != "" {
		if _, ok := g.nodes[route]; !ok {
			return "", false, fmt.Errorf("graph %s: node %q routed to unknown node %q", g.id, from, route)
		}
		return route, true, nil
	}
	edges := g.edges[from]
	if len(edges) == 0 {
		return "", false, nil
	}
	for _, e := range edges {
		if e.When == nil || e.When(s) {
			return e.To, true, nil
		}
	}
	return "", false, fmt.Errorf("graph %s: no edge from %q matched the current state", g.id, from)
}
