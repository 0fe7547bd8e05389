package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopBody(ctx context.Context, state State, rt *Runtime) (NodeResult, error) {
	return NodeResult{}, nil
}

func TestGraphValidate(t *testing.T) {
	t.Run("valid linear graph", func(t *testing.T) {
		g := NewGraph("linear").
			AddNode(Node{Name: "a", Body: noopBody}).
			AddNode(Node{Name: "b", Body: noopBody}).
			AddEdge("a", "b")

		require.NoError(t, g.Validate())
		assert.Equal(t, "a", g.Entry())
	})

	t.Run("no nodes", func(t *testing.T) {
		assert.Error(t, NewGraph("empty").Validate())
	})

	t.Run("unknown entry", func(t *testing.T) {
		g := NewGraph("g").
			AddNode(Node{Name: "a", Body: noopBody}).
			SetEntry("missing")
		assert.Error(t, g.Validate())
	})

	t.Run("missing body", func(t *testing.T) {
		g := NewGraph("g").AddNode(Node{Name: "a"})
		assert.Error(t, g.Validate())
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		g := NewGraph("g").
			AddNode(Node{Name: "a", Body: noopBody}).
			AddEdge("a", "ghost")
		assert.Error(t, g.Validate())
	})

	t.Run("no terminal node", func(t *testing.T) {
		g := NewGraph("loop").
			AddNode(Node{Name: "a", Body: noopBody}).
			AddNode(Node{Name: "b", Body: noopBody}).
			AddEdge("a", "b").
			AddEdge("b", "a")
		assert.Error(t, g.Validate())
	})

	t.Run("duplicate node", func(t *testing.T) {
		g := NewGraph("g").
			AddNode(Node{Name: "a", Body: noopBody}).
			AddNode(Node{Name: "a", Body: noopBody})
		assert.Error(t, g.Validate())
	})
}

func TestGraphNext(t *testing.T) {
	g := NewGraph("routing").
		AddNode(Node{Name: "start", Body: noopBody}).
		AddNode(Node{Name: "high", Body: noopBody}).
		AddNode(Node{Name: "low", Body: noopBody}).
		AddConditionalEdge("start", "high", func(s State) bool {
			v, _ := s["score"].(float64)
			return v > 0.5
		}).
		AddEdge("start", "low")
	require.NoError(t, g.Validate())

	t.Run("first matching edge wins", func(t *testing.T) {
		next, ok, err := g.next("start", State{"score": 0.9}, "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "high", next)
	})

	t.Run("fallthrough to unconditional edge", func(t *testing.T) {
		next, ok, err := g.next("start", State{"score": 0.1}, "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "low", next)
	})

	t.Run("explicit route overrides edges", func(t *testing.T) {
		next, ok, err := g.next("start", State{"score": 0.9}, "low")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "low", next)
	})

	t.Run("route to unknown node fails", func(t *testing.T) {
		_, _, err := g.next("start", State{}, "ghost")
		assert.Error(t, err)
	})

	t.Run("terminal node", func(t *testing.T) {
		_, ok, err := g.next("low", State{}, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no matching edge is an error", func(t *testing.T) {
		g2 := NewGraph("strict").
			AddNode(Node{Name: "a", Body: noopBody}).
			AddNode(Node{Name: "b", Body: noopBody}).
			AddConditionalEdge("a", "b", func(s State) bool { return false })
		_, _, err := g2.next("a", State{}, "")
		assert.Error(t, err)
	})
}

func TestStateMerged(t *testing.T) {
	base := State{"a": 1, "b": 2}
	merged := base.Merged(map[string]any{"b": 3, "c": 4})

	assert.Equal(t, State{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, State{"a": 1, "b": 2}, base, "merge must not mutate the receiver")
}

func TestGraphDefinitionBuild(t *testing.T) {
	raw := []byte(`
id: pipeline
entry: validate
nodes:
  - name: validate
    deterministic: true
  - name: enrich
    entropy_sources: [network]
    checkpoint: true
  - name: finish
    deterministic: true
edges:
  - from: validate
    to: enrich
  - from: enrich
    to: finish
    when: always
`)
	def, err := ParseGraphDefinition(raw)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", def.ID)
	assert.Len(t, def.Nodes, 3)

	bodies := map[string]NodeFunc{"validate": noopBody, "enrich": noopBody, "finish": noopBody}
	conditions := map[string]func(State) bool{"always": func(State) bool { return true }}

	g, err := def.Build(bodies, conditions)
	require.NoError(t, err)
	assert.Equal(t, "validate", g.Entry())

	node, ok := g.node("enrich")
	require.True(t, ok)
	assert.True(t, node.Checkpoint)
	assert.Equal(t, []string{"network"}, node.EntropySources)

	t.Run("missing body", func(t *testing.T) {
		_, err := def.Build(map[string]NodeFunc{"validate": noopBody}, conditions)
		assert.Error(t, err)
	})

	t.Run("missing condition", func(t *testing.T) {
		_, err := def.Build(bodies, nil)
		assert.Error(t, err)
	})
}
