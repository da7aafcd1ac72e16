package engine

// EventKind classifies the progress notifications a running task emits.
type EventKind string

const (
	// EventSessionPhase marks a session moving into a new engine phase.
	EventSessionPhase EventKind = "session_phase"
	// EventPipelinePhase reports the outcome of one spec pipeline phase.
	EventPipelinePhase EventKind = "pipeline_phase"
	// EventQAIteration reports QA loop progress: iteration boundaries and
	// phase changes inside an iteration.
	EventQAIteration EventKind = "qa_iteration"
)

// Event is one progress notification from a running task.
type Event struct {
	Kind      EventKind
	SessionID string
	SpecDir   string
	// Phase is the phase name in the vocabulary of the emitting subsystem:
	// session phases for EventSessionPhase, pipeline phase names for
	// EventPipelinePhase, QA loop phases for EventQAIteration.
	Phase   string
	Message string
}

// EventFunc receives engine events. Callbacks run synchronously on the
// goroutine that produced the event, so implementations must return quickly
// and must not call back into the engine.
type EventFunc func(Event)
