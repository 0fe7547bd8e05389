package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/kernel"
)

func simpleGraph(id string, delta map[string]any) *kernel.Graph {
	return kernel.NewGraph(id).AddNode(kernel.Node{
		Name: "work",
		Body: func(ctx context.Context, state kernel.State, rt *kernel.Runtime) (kernel.NodeResult, error) {
			return kernel.NodeResult{StateDelta: delta}, nil
		},
		Deterministic: true,
	})
}

func TestEngineRegisterAndExecute(t *testing.T) {
	eng := New()
	require.NoError(t, eng.Register(core.NewAgentRef("w1", "worker"), simpleGraph("g1", map[string]any{"ok": true})))

	t.Run("duplicate registration rejected", func(t *testing.T) {
		err := eng.Register(core.NewAgentRef("w1", "worker"), simpleGraph("g1b", nil))
		assert.Error(t, err)
	})

	t.Run("invalid graph rejected", func(t *testing.T) {
		err := eng.Register(core.NewAgentRef("w2", "worker"), kernel.NewGraph("empty"))
		assert.Error(t, err)
	})

	t.Run("unknown worker", func(t *testing.T) {
		_, err := eng.Execute(context.Background(), "ghost", kernel.State{})
		assert.Error(t, err)
	})

	final, err := eng.Execute(context.Background(), "w1", kernel.State{})
	require.NoError(t, err)
	assert.Equal(t, true, final["ok"])

	exec, ok := eng.Worker("w1")
	require.True(t, ok)
	assert.Equal(t, kernel.StatusCompleted, exec.Status())
}

func TestEngineCrossWorkerVisibility(t *testing.T) {
	eng := New()
	require.NoError(t, eng.Register(core.NewAgentRef("producer", "worker"), simpleGraph("g", map[string]any{"n": 1})))

	var mu sync.Mutex
	var seen []string
	unsubscribe, err := eng.Subscribe("kernel.**", func(ctx context.Context, env core.Envelope) error {
		mu.Lock()
		seen = append(seen, env.EventType)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = eng.Execute(context.Background(), "producer", kernel.State{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{core.EventTypeNodeEntered, core.EventTypeNodeCompleted}, seen)
}

func TestEngineStartAndCancel(t *testing.T) {
	eng := New()

	release := make(chan struct{})
	entered := make(chan struct{})
	graph := kernel.NewGraph("slow").
		AddNode(kernel.Node{Name: "first", Body: func(ctx context.Context, state kernel.State, rt *kernel.Runtime) (kernel.NodeResult, error) {
			close(entered)
			<-release
			return kernel.NodeResult{StateDelta: map[string]any{"first": true}}, nil
		}}).
		AddNode(kernel.Node{Name: "second", Body: func(ctx context.Context, state kernel.State, rt *kernel.Runtime) (kernel.NodeResult, error) {
			return kernel.NodeResult{StateDelta: map[string]any{"second": true}}, nil
		}}).
		AddEdge("first", "second")
	require.NoError(t, eng.Register(core.NewAgentRef("slowpoke", "worker"), graph))

	runID, results, err := eng.Start(context.Background(), "slowpoke", kernel.State{})
	require.NoError(t, err)

	<-entered
	require.True(t, eng.Cancel(runID))
	close(release)

	select {
	case res := <-results:
		require.ErrorIs(t, res.Err, context.Canceled)
		assert.Equal(t, kernel.StatusFailed, res.Status)
		assert.Equal(t, true, res.State["first"], "the in-flight node completed before the halt")
		assert.NotContains(t, res.State, "second")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}

	assert.False(t, eng.Cancel(runID), "finished runs are no longer cancellable")
}

func TestEngineAsyncResult(t *testing.T) {
	eng := New()
	require.NoError(t, eng.Register(core.NewAgentRef("w1", "worker"), simpleGraph("g", map[string]any{"done": true})))

	runID, results, err := eng.Start(context.Background(), "w1", kernel.State{})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	res, ok := <-results
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, kernel.StatusCompleted, res.Status)
	assert.Equal(t, true, res.State["done"])

	_, open := <-results
	assert.False(t, open, "result channel closes after delivery")
}

func TestEngineConcurrencyLimit(t *testing.T) {
	eng := New(func(o *Options) {
		o.Config = Config{MaxConcurrentRuns: 1}
	})

	block := make(chan struct{})
	running := make(chan string, 2)
	mkGraph := func(id string) *kernel.Graph {
		return kernel.NewGraph(id).AddNode(kernel.Node{Name: "hold", Body: func(ctx context.Context, state kernel.State, rt *kernel.Runtime) (kernel.NodeResult, error) {
			running <- id
			<-block
			return kernel.NodeResult{}, nil
		}})
	}
	require.NoError(t, eng.Register(core.NewAgentRef("a", "worker"), mkGraph("ga")))
	require.NoError(t, eng.Register(core.NewAgentRef("b", "worker"), mkGraph("gb")))

	_, resA, err := eng.Start(context.Background(), "a", kernel.State{})
	require.NoError(t, err)
	first := <-running

	_, resB, err := eng.Start(context.Background(), "b", kernel.State{})
	require.NoError(t, err)

	select {
	case second := <-running:
		t.Fatalf("second run %s started before the first released its slot", second)
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-resA
	<-resB
	_ = first
}
