package kernel

import (
	"time"

	"github.com/hupe1980/agentkernel/core"
	"github.com/hupe1980/agentkernel/logging"
)

// Runtime is the execution context handed to node bodies. It carries the
// runtime options supplied to Execute and the entropy recorder that makes
// non-deterministic nodes replayable.
type Runtime struct {
	// GraphID and NodeID identify the executing position.
	GraphID string
	NodeID  string
	// Options are the opaque runtime options passed to Execute.
	Options map[string]any
	// Logger is scoped to the current worker run.
	Logger logging.Logger

	rec *entropyRecorder
}

// Entropy obtains a value from a named external entropy source. During live
// execution produce is invoked and its value recorded into the node's
// completion event; during replay the recorded value is returned and
// produce is never called. Values must survive JSON round-tripping
// (strings, float64 numbers, bools, maps, slices).
func (rt *Runtime) Entropy(source string, produce func() any) any {
	if v, ok := rt.rec.replayNext(source); ok {
		return v
	}
	v := produce()
	rt.rec.capture(source, v)
	return v
}

// NowUTC is a convenience entropy source for wall-clock reads. The recorded
// form is an RFC 3339 string so it is stable across serialization.
func (rt *Runtime) NowUTC() time.Time {
	v := rt.Entropy("time", func() any {
		return time.Now().UTC().Format(time.RFC3339Nano)
	})
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// entropyRecorder captures entropy during live execution and serves
// recorded values back in order during replay.
type entropyRecorder struct {
	replay   bool
	queue    []core.EntropyEntry
	captured []core.EntropyEntry
}

func newLiveRecorder() *entropyRecorder {
	return &entropyRecorder{}
}

func newReplayRecorder(recorded []core.EntropyEntry) *entropyRecorder {
	return &entropyRecorder{replay: true, queue: recorded}
}

// replayNext pops the next recorded value when replaying. A source mismatch
// means the node's entropy consumption diverged from the recording; the
// caller falls back to live production, which the drift check surfaces.
func (r *entropyRecorder) replayNext(source string) (any, bool) {
	if !r.replay || len(r.queue) == 0 {
		return nil, false
	}
	head := r.queue[0]
	if head.Source != source {
		return nil, false
	}
	r.queue = r.queue[1:]
	r.captured = append(r.captured, head)
	return head.Value, true
}

func (r *entropyRecorder) capture(source string, v any) {
	r.captured = append(r.captured, core.EntropyEntry{Source: source, Value: v})
}
