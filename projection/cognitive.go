package projection

import (
	"github.com/hupe1980/agentkernel/core"
)

// ErrorTrace records one observed failure for later reasoning.
type ErrorTrace struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	EventID   string `json:"event_id"`
	AgentID   string `json:"agent_id"`
}

// TaskRecord tracks a delegated task through its lifecycle.
type TaskRecord struct {
	TaskID       string `json:"task_id"`
	CapabilityID string `json:"capability_id"`
	Completed    bool   `json:"completed"`
	Error        string `json:"error,omitempty"`
}

// CognitiveState is the derived view of worker memory and reasoning traces:
// durable memory writes, delegated tasks and observed failures.
type CognitiveState struct {
	Memory map[string]any         `json:"memory"`
	Tasks  map[string]*TaskRecord `json:"tasks"`
	Errors []ErrorTrace           `json:"errors"`
}

func (s *CognitiveState) clone() *CognitiveState {
	out := &CognitiveState{
		Memory: make(map[string]any, len(s.Memory)),
		Tasks:  make(map[string]*TaskRecord, len(s.Tasks)),
		Errors: make([]ErrorTrace, len(s.Errors)),
	}
	for k, v := range s.Memory {
		out.Memory[k] = v
	}
	for k, v := range s.Tasks {
		rec := *v
		out.Tasks[k] = &rec
	}
	copy(out.Errors, s.Errors)
	return out
}

// NewCognitiveProjection builds the memory/reasoning fold.
func NewCognitiveProjection() Projection {
	return Func(
		func() any {
			return &CognitiveState{Memory: map[string]any{}, Tasks: map[string]*TaskRecord{}}
		},
		func(state any, env core.Envelope) (any, error) {
			s := state.(*CognitiveState).clone()
			switch env.EventType {
			case core.EventTypeMemoryWritten:
				if key, ok := env.Payload["key"].(string); ok {
					s.Memory[key] = env.Payload["value"]
				}
			case core.EventTypeTaskRequested:
				taskID, _ := env.Payload["task_id"].(string)
				capabilityID, _ := env.Payload["capability_id"].(string)
				if taskID != "" {
					s.Tasks[taskID] = &TaskRecord{TaskID: taskID, CapabilityID: capabilityID}
				}
			case core.EventTypeTaskCompleted:
				taskID, _ := env.Payload["task_id"].(string)
				if rec, ok := s.Tasks[taskID]; ok {
					rec.Completed = true
					rec.Error, _ = env.Payload["error"].(string)
				}
			case core.EventTypeErrorOccurred:
				errorType, _ := env.Payload["error_type"].(string)
				message, _ := env.Payload["message"].(string)
				s.Errors = append(s.Errors, ErrorTrace{
					ErrorType: errorType,
					Message:   message,
					EventID:   env.EventID,
					AgentID:   env.Producer.AgentID,
				})
			}
			return s, nil
		},
	)
}
