package session

import (
	"errors"
	"time"

	clierrors "github.com/specforge/specforge/internal/errors"
)

// ErrNotFound is returned when no stored session matches the requested id.
// Corrupt session files surface as not-found too: the record is unusable
// and the orchestrator must not guess at its state.
var ErrNotFound = errors.New("session not found")

// Status is the lifecycle state of a session.
type Status string

// Session lifecycle states. Completed, failed, and cancelled are terminal:
// once a session reaches one of them, no operation moves it again.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the state absorbs all further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Phase names the engine stage a session is working through. Phases track
// progress inside a running session; they never gate transitions the way
// Status does.
type Phase string

// Engine phases in rough execution order.
const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseCoding       Phase = "coding"
	PhaseReviewing    Phase = "reviewing"
	PhaseTesting      Phase = "testing"
	PhaseCompleting   Phase = "completing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhasePaused       Phase = "paused"
)

// Conversation roles recorded on session messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a session's conversation log.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ErrorRecord captures one error hit during a session, tagged with the
// severity taxonomy the rest of the engine uses.
type ErrorRecord struct {
	Message   string             `json:"message"`
	Severity  clierrors.Severity `json:"severity"`
	Phase     Phase              `json:"phase"`
	Timestamp time.Time          `json:"timestamp"`
	Context   map[string]any     `json:"context,omitempty"`
}

// Metrics aggregates the counters engine phases report while a session runs.
type Metrics struct {
	Iterations        int     `json:"iterations"`
	APICalls          int     `json:"api_calls"`
	TokensUsed        int     `json:"tokens_used"`
	FilesModified     int     `json:"files_modified"`
	FilesCreated      int     `json:"files_created"`
	FilesDeleted      int     `json:"files_deleted"`
	ErrorsEncountered int     `json:"errors_encountered"`
	RetriesPerformed  int     `json:"retries_performed"`
	DurationSeconds   float64 `json:"duration_seconds"`
}

// Session is the durable record of one engine run: what was asked, where the
// run stands, the full conversation, and everything produced along the way.
type Session struct {
	ID              string     `json:"session_id"`
	SpecID          string     `json:"spec_id,omitempty"`
	TaskDescription string     `json:"task_description"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	Status Status `json:"status"`
	Phase  Phase  `json:"phase"`
	Result string `json:"result,omitempty"`

	Messages  []Message      `json:"messages"`
	Metrics   *Metrics       `json:"metrics,omitempty"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
	Errors    []ErrorRecord  `json:"errors,omitempty"`
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool {
	return s.Status.Terminal()
}

// AddMessage appends a message stamped with the current time.
func (s *Session) AddMessage(role, content string, metadata map[string]any) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
}

// Duration is the wall-clock time between start and completion. Sessions
// still running measure up to now; sessions that never started report zero.
func (s *Session) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt)
}
