package kernel

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// GraphDefinition is the declarative YAML form of an execution graph. Node
// bodies stay in code; the definition binds names, topology, determinism
// declarations and checkpoint placement.
//
//	id: order-pipeline
//	entry: validate
//	nodes:
//	  - name: validate
//	    deterministic: true
//	  - name: enrich
//	    entropy_sources: [network]
//	    checkpoint: true
//	  - name: finish
//	    deterministic: true
//	edges:
//	  - from: validate
//	    to: enrich
//	  - from: enrich
//	    to: finish
type GraphDefinition struct {
	ID    string           `yaml:"id"`
	Entry string           `yaml:"entry"`
	Nodes []NodeDefinition `yaml:"nodes"`
	Edges []EdgeDefinition `yaml:"edges"`
}

// NodeDefinition declares one node of a YAML graph.
type NodeDefinition struct {
	Name           string   `yaml:"name"`
	Deterministic  bool     `yaml:"deterministic"`
	EntropySources []string `yaml:"entropy_sources"`
	Checkpoint     bool     `yaml:"checkpoint"`
}

// EdgeDefinition declares one edge of a YAML graph. When names a condition
// to be looked up in the conditions map passed to Build.
type EdgeDefinition struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	When string `yaml:"when"`
}

// ParseGraphDefinition decodes a YAML graph definition.
func ParseGraphDefinition(data []byte) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse graph definition: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("parse graph definition: missing id")
	}
	return &def, nil
}

// LoadGraphDefinition reads and decodes a YAML graph definition file.
func LoadGraphDefinition(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load graph definition: %w", err)
	}
	return ParseGraphDefinition(data)
}

// Build binds node bodies and edge conditions to the definition and returns
// a validated graph. Every declared node needs a body; every named
// condition needs an entry in conditions.
func (d *GraphDefinition) Build(bodies map[string]NodeFunc, conditions map[string]func(State) bool) (*Graph, error) {
	g := NewGraph(d.ID)
	for _, nd := range d.Nodes {
		body, ok := bodies[nd.Name]
		if !ok {
			return nil, fmt.Errorf("graph %s: no body bound for node %q", d.ID, nd.Name)
		}
		g.AddNode(Node{
			Name:           nd.Name,
			Body:           body,
			Deterministic:  nd.Deterministic,
			EntropySources: nd.EntropySources,
			Checkpoint:     nd.Checkpoint,
		})
	}
	if d.Entry != "" {
		g.SetEntry(d.Entry)
	}
	for _, ed := range d.Edges {
		if ed.When == "" {
			g.AddEdge(ed.From, ed.To)
			continue
		}
		cond, ok := conditions[ed.When]
		if !ok {
			return nil, fmt.Errorf("graph %s: no condition bound for %q on edge %s -> %s", d.ID, ed.When, ed.From, ed.To)
		}
		g.AddConditionalEdge(ed.From, ed.To, cond)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
