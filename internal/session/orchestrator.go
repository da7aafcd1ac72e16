// Package session owns the durable lifecycle of engine runs. Every run is
// recorded as a session: a state machine over pending, running, paused, and
// the terminal states completed, failed, and cancelled, with the full
// conversation, metrics, and artifacts persisted as one JSON document per
// session id.
//
// All mutations go through the Orchestrator, which serializes work on each
// session with a per-id mutex held from the state read until the record is
// persisted. Terminal states absorb: once a session finishes, every further
// transition or message append is rejected.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/logging"
)

// DefaultMaxSessionAge is how long a session may run before staleness
// cleanup fails it.
const DefaultMaxSessionAge = 24 * time.Hour

// Orchestrator drives sessions through their lifecycle. Running and paused
// sessions are tracked in an active set so staleness cleanup and status
// listings never have to scan the store.
type Orchestrator struct {
	store  *Store
	logger *slog.Logger

	// mu guards the registries below. It is only ever taken after a
	// per-session lock, never before one, so the two levels cannot deadlock.
	mu     sync.Mutex
	active map[string]*Session
	locks  map[string]*sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Nil keeps the discard default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithStore replaces the file store the orchestrator would build itself.
func WithStore(store *Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// NewOrchestrator creates an orchestrator persisting sessions under dir,
// conventionally <state-dir>/sessions.
func NewOrchestrator(dir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		active: make(map[string]*Session),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = NewStore(dir, WithStoreLogger(o.logger))
	}
	o.logger = logging.WithComponent(o.logger, "session")
	return o
}

// Store exposes the backing store for read-side consumers.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Create registers a new pending session for the task and persists it. The
// session is not tracked as active until started.
func (o *Orchestrator) Create(ctx context.Context, task, specID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess := &Session{
		ID:              uuid.NewString(),
		SpecID:          specID,
		TaskDescription: task,
		CreatedAt:       time.Now().UTC(),
		Status:          StatusPending,
		Phase:           PhaseInitializing,
		Messages:        []Message{},
	}
	sess.AddMessage(RoleSystem, "Session initialized for task: "+task, nil)

	if err := o.store.Save(sess); err != nil {
		return nil, err
	}

	o.logger.Info("session created", "session_id", sess.ID, "spec_id", specID)
	return sess, nil
}

// Get returns the session by id, checking the active set before the store.
// Callers must treat the result as read-only; all mutations go through the
// orchestrator's operations.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Session, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.lookup(id)
}

// Start moves a pending or paused session into running and registers it as
// active. The start timestamp is set once; restarting a paused session keeps
// the original so duration and staleness stay measured from the first start.
func (o *Orchestrator) Start(ctx context.Context, id string) (*Session, error) {
	sess, err := o.withSession(ctx, id, func(sess *Session) error {
		if sess.Status != StatusPending && sess.Status != StatusPaused {
			return fmt.Errorf("session %s cannot be started (status: %s)", id, sess.Status)
		}
		if sess.StartedAt == nil {
			now := time.Now().UTC()
			sess.StartedAt = &now
		}
		sess.Status = StatusRunning
		sess.AddMessage(RoleSystem, "Session started", map[string]any{
			"started_at": sess.StartedAt.Format(time.RFC3339),
		})
		o.track(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("session started", "session_id", id)
	return sess, nil
}

// Pause suspends a running session. Paused sessions stay in the active set
// so staleness cleanup still covers them.
func (o *Orchestrator) Pause(ctx context.Context, id string) (*Session, error) {
	sess, err := o.withSession(ctx, id, func(sess *Session) error {
		if sess.Status != StatusRunning {
			return fmt.Errorf("session %s is not running (status: %s)", id, sess.Status)
		}
		sess.Status = StatusPaused
		sess.AddMessage(RoleSystem, "Session paused", nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("session paused", "session_id", id)
	return sess, nil
}

// Resume moves a paused session back to running.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*Session, error) {
	sess, err := o.withSession(ctx, id, func(sess *Session) error {
		if sess.Status != StatusPaused {
			return fmt.Errorf("session %s is not paused (status: %s)", id, sess.Status)
		}
		sess.Status = StatusRunning
		sess.AddMessage(RoleSystem, "Session resumed", nil)
		o.track(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("session resumed", "session_id", id)
	return sess, nil
}

// Complete finishes a session successfully, recording the result and any
// final metrics and artifacts, and drops it from the active set.
func (o *Orchestrator) Complete(ctx context.Context, id, result string, metrics *Metrics, artifacts map[string]any) (*Session, error) {
	sess, err := o.withSession(ctx, id, func(sess *Session) error {
		if err := notFinished(sess); err != nil {
			return err
		}
		now := time.Now().UTC()
		sess.CompletedAt = &now
		sess.Status = StatusCompleted
		sess.Phase = PhaseCompleted
		sess.Result = result
		if metrics != nil {
			sess.Metrics = metrics
		}
		if len(artifacts) > 0 {
			sess.Artifacts = artifacts
		}
		sess.AddMessage(RoleSystem, "Session completed: "+result, map[string]any{
			"completed_at": now.Format(time.RFC3339),
		})
		o.untrack(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("session completed", "session_id", id, "result", result)
	return sess, nil
}

// Fail finishes a session unsuccessfully, recording why.
func (o *Orchestrator) Fail(ctx context.Context, id, reason string, metrics *Metrics) (*Session, error) {
	sess, err := o.withSession(ctx, id, func(sess *Session) error {
		if err := notFinished(sess); err != nil {
			return err
		}
		now := time.Now().UTC()
		sess.CompletedAt = &now
		sess.Status = StatusFailed
		sess.Phase = PhaseFailed
		sess.Result = "Failed: " + reason
		if metrics != nil {
			sess.Metrics = metrics
		}
		sess.AddMessage(RoleSystem, "Session failed: "+reason, map[string]any{
			"completed_at": now.Format(time.RFC3339),
		})
		o.untrack(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Error("session failed", "session_id", id, "reason", reason)
	return sess, nil
}

// Cancel aborts a session that has not finished. The phase is left where it
// was so the record shows how far the run got.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*Session, error) {
	sess, err := o.withSession(ctx, id, func(sess *Session) error {
		if err := notFinished(sess); err != nil {
			return err
		}
		now := time.Now().UTC()
		sess.CompletedAt = &now
		sess.Status = StatusCancelled
		sess.Result = "Cancelled"
		sess.AddMessage(RoleSystem, "Session cancelled", map[string]any{
			"completed_at": now.Format(time.RFC3339),
		})
		o.untrack(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("session cancelled", "session_id", id)
	return sess, nil
}

// UpdatePhase records the engine stage a session moved into. A non-empty
// message is appended to the conversation alongside the change.
func (o *Orchestrator) UpdatePhase(ctx context.Context, id string, phase Phase, message string) error {
	_, err := o.withSession(ctx, id, func(sess *Session) error {
		if err := notFinished(sess); err != nil {
			return err
		}
		sess.Phase = phase
		if message != "" {
			sess.AddMessage(RoleSystem, message, map[string]any{"phase": string(phase)})
		}
		return nil
	})
	return err
}

// AppendAgentMessage adds an assistant message to the conversation.
func (o *Orchestrator) AppendAgentMessage(ctx context.Context, id, content string, metadata map[string]any) error {
	return o.appendMessage(ctx, id, RoleAssistant, content, metadata)
}

// AppendUserMessage adds a user message to the conversation.
func (o *Orchestrator) AppendUserMessage(ctx context.Context, id, content string, metadata map[string]any) error {
	return o.appendMessage(ctx, id, RoleUser, content, metadata)
}

func (o *Orchestrator) appendMessage(ctx context.Context, id, role, content string, metadata map[string]any) error {
	_, err := o.withSession(ctx, id, func(sess *Session) error {
		if err := notFinished(sess); err != nil {
			return err
		}
		sess.AddMessage(role, content, metadata)
		return nil
	})
	return err
}

// RecordError appends an error to the session. A record with no timestamp
// is stamped now, one with no phase inherits the session's current phase,
// and an unknown severity is treated as fatal. Fatal errors fail the
// session and drop it from the active set.
func (o *Orchestrator) RecordError(ctx context.Context, id string, rec ErrorRecord) error {
	_, err := o.withSession(ctx, id, func(sess *Session) error {
		if err := notFinished(sess); err != nil {
			return err
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now().UTC()
		}
		if rec.Phase == "" {
			rec.Phase = sess.Phase
		}
		if !rec.Severity.IsValid() {
			rec.Severity = clierrors.SeverityFatal
		}
		sess.Errors = append(sess.Errors, rec)
		sess.AddMessage(RoleSystem, "Error: "+rec.Message, map[string]any{
			"severity": string(rec.Severity),
		})

		if rec.Severity == clierrors.SeverityFatal {
			now := time.Now().UTC()
			sess.CompletedAt = &now
			sess.Status = StatusFailed
			sess.Phase = PhaseFailed
			if sess.Result == "" {
				sess.Result = "Failed: " + rec.Message
			}
			o.untrack(id)
			o.logger.Error("fatal error failed session", "session_id", id, "error", rec.Message)
		}
		return nil
	})
	return err
}

// ActiveSessions returns the running and paused sessions, in no particular
// order.
func (o *Orchestrator) ActiveSessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()

	sessions := make([]*Session, 0, len(o.active))
	for _, sess := range o.active {
		sessions = append(sessions, sess)
	}
	return sessions
}

// errNotStale marks a cleanup candidate that turned out healthy under its
// lock, so withSession skips the save.
var errNotStale = errors.New("session not stale")

// CleanupStale fails active sessions that started more than maxAge ago and
// returns their ids. Stored sessions left behind by earlier processes are
// swept along with tracked ones. Zero or negative maxAge uses
// DefaultMaxSessionAge.
func (o *Orchestrator) CleanupStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxSessionAge
	}
	cutoff := time.Now().UTC()

	o.mu.Lock()
	candidates := make([]string, 0, len(o.active))
	seen := make(map[string]struct{}, len(o.active))
	for id := range o.active {
		candidates = append(candidates, id)
		seen[id] = struct{}{}
	}
	o.mu.Unlock()

	// Sessions persisted by an earlier process never enter this process's
	// active set, so the store is a candidate source too.
	stored, err := o.store.List()
	if err != nil {
		return nil, err
	}
	for _, id := range stored {
		if _, ok := seen[id]; ok {
			continue
		}
		sess, err := o.store.Load(id)
		if err != nil {
			return nil, err
		}
		if sess == nil || sess.Terminal() {
			continue
		}
		candidates = append(candidates, id)
	}

	var cleaned []string
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}

		_, err := o.withSession(ctx, id, func(sess *Session) error {
			// Re-check under the lock: the session may have finished
			// between the snapshot and now.
			if sess.Terminal() || sess.StartedAt == nil {
				return errNotStale
			}
			if cutoff.Sub(*sess.StartedAt) <= maxAge {
				return errNotStale
			}
			sess.Status = StatusFailed
			sess.Result = "Session timed out"
			sess.CompletedAt = &cutoff
			o.untrack(id)
			return nil
		})
		switch {
		case err == nil:
			cleaned = append(cleaned, id)
			o.logger.Warn("cleaned up stale session", "session_id", id)
		case errors.Is(err, errNotStale) || errors.Is(err, ErrNotFound):
			// Healthy, or already gone.
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return cleaned, err
		default:
			o.logger.Warn("failed updating stale session", "session_id", id, "error", err)
		}
	}
	return cleaned, nil
}

// Summary is the post-session report for one session.
type Summary struct {
	SessionID       string   `json:"session_id"`
	Status          Status   `json:"status"`
	DurationSeconds float64  `json:"duration_seconds"`
	Skipped         bool     `json:"skipped,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Metrics         *Metrics `json:"metrics,omitempty"`
	Artifacts       []string `json:"artifacts,omitempty"`
	MessageCount    int      `json:"message_count,omitempty"`
	ErrorCount      int      `json:"error_count,omitempty"`
}

// Summarize builds the post-session report. Sessions that did not complete
// are marked skipped with the reason; completed sessions report metrics,
// artifact names, and conversation counts.
func (o *Orchestrator) Summarize(ctx context.Context, id string) (*Summary, error) {
	sess, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		SessionID:       sess.ID,
		Status:          sess.Status,
		DurationSeconds: sess.Duration().Seconds(),
	}
	if sess.Status != StatusCompleted {
		summary.Skipped = true
		summary.Reason = fmt.Sprintf("session not completed (status: %s)", sess.Status)
		return summary, nil
	}

	summary.Metrics = sess.Metrics
	if len(sess.Artifacts) > 0 {
		summary.Artifacts = make([]string, 0, len(sess.Artifacts))
		for name := range sess.Artifacts {
			summary.Artifacts = append(summary.Artifacts, name)
		}
		sort.Strings(summary.Artifacts)
	}
	summary.MessageCount = len(sess.Messages)
	summary.ErrorCount = len(sess.Errors)

	o.logger.Info("post-session processing",
		"session_id", id,
		"duration_seconds", summary.DurationSeconds,
		"messages", summary.MessageCount,
		"errors", summary.ErrorCount)
	return summary, nil
}

// withSession runs fn with the session's lock held and persists the result.
// The lock is acquired before the state is read and released only after the
// save, so concurrent operations on one session always see each other's
// writes. fn returning an error skips the save.
func (o *Orchestrator) withSession(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := o.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// lockFor returns the session's mutex, creating it on first use.
func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	return lock
}

// lookup finds the session in the active set or the store. Callers hold the
// session's lock.
func (o *Orchestrator) lookup(id string) (*Session, error) {
	o.mu.Lock()
	sess := o.active[id]
	o.mu.Unlock()
	if sess != nil {
		return sess, nil
	}

	sess, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

func (o *Orchestrator) track(sess *Session) {
	o.mu.Lock()
	o.active[sess.ID] = sess
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// notFinished rejects operations on sessions in a terminal state.
func notFinished(sess *Session) error {
	if sess.Terminal() {
		return fmt.Errorf("session %s already finished (status: %s)", sess.ID, sess.Status)
	}
	return nil
}
