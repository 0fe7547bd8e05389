package projection

import (
	"github.com/hupe1980/agentkernel/core"
)

// NodeStats aggregates per-node execution figures.
type NodeStats struct {
	Executions      int     `json:"executions"`
	Failures        int     `json:"failures"`
	TotalDurationMs float64 `json:"total_duration_ms"`
}

// ExecutionState is the derived view of worker execution activity.
type ExecutionState struct {
	RunsStarted   int                   `json:"runs_started"`
	RunsCompleted int                   `json:"runs_completed"`
	RunsCancelled int                   `json:"runs_cancelled"`
	RunsFailed    int                   `json:"runs_failed"`
	Checkpoints   int                   `json:"checkpoints"`
	Suspensions   int                   `json:"suspensions"`
	Errors        int                   `json:"errors"`
	Workers       map[string]int        `json:"workers"`
	Nodes         map[string]*NodeStats `json:"nodes"`
}

func (s *ExecutionState) clone() *ExecutionState {
	out := *s
	out.Workers = make(map[string]int, len(s.Workers))
	for k, v := range s.Workers {
		out.Workers[k] = v
	}
	out.Nodes = make(map[string]*NodeStats, len(s.Nodes))
	for k, v := range s.Nodes {
		stats := *v
		out.Nodes[k] = &stats
	}
	return &out
}

// NewExecutionProjection builds the execution activity fold. The fold
// handles the full event catalogue exhaustively; events that carry no
// execution signal are deliberate no-ops.
func NewExecutionProjection() Projection {
	return Func(
		func() any {
			return &ExecutionState{Workers: map[string]int{}, Nodes: map[string]*NodeStats{}}
		},
		func(state any, env core.Envelope) (any, error) {
			s := state.(*ExecutionState).clone()
			switch env.EventType {
			case core.EventTypeAgentStarted:
				s.RunsStarted++
				if id, ok := env.Payload["agent_id"].(string); ok {
					s.Workers[id]++
				}
			case core.EventTypeAgentStopped:
				reason, _ := env.Payload["reason"].(string)
				switch {
				case reason == "completed":
					s.RunsCompleted++
				case reason == "cancelled":
					s.RunsCancelled++
				default:
					s.RunsFailed++
				}
			case core.EventTypeNodeEntered:
				// counted at completion
			case core.EventTypeNodeCompleted:
				nodeID, _ := env.Payload["node_id"].(string)
				stats := s.Nodes[nodeID]
				if stats == nil {
					stats = &NodeStats{}
					s.Nodes[nodeID] = stats
				}
				stats.Executions++
				if outcome, _ := env.Payload["outcome"].(string); outcome != "success" {
					stats.Failures++
				}
				if d, ok := env.Payload["duration_ms"].(float64); ok {
					stats.TotalDurationMs += d
				}
			case core.EventTypeNodeSuspended:
				s.Suspensions++
			case core.EventTypeCheckpointCreated:
				s.Checkpoints++
			case core.EventTypeErrorOccurred:
				s.Errors++
			case core.EventTypeCapabilityRegistered,
				core.EventTypeCapabilityDeprecated,
				core.EventTypeCapabilityInvoked,
				core.EventTypeCapabilityCompleted,
				core.EventTypeMemoryWritten,
				core.EventTypeTaskRequested,
				core.EventTypeTaskCompleted:
				// no execution signal
			}
			return s, nil
		},
	)
}
