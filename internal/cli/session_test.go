package cli

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/session"
)

// seedSession writes a session record into the project state directory the
// way a prior run would have left it.
func seedSession(t *testing.T, projectDir string, sess *session.Session) {
	t.Helper()
	store := session.NewStore(filepath.Join(projectDir, ".specforge", "sessions"))
	require.NoError(t, store.Save(sess))
}

func runningSession(id, task string, age time.Duration) *session.Session {
	created := time.Now().UTC().Add(-age)
	started := created
	return &session.Session{
		ID:              id,
		TaskDescription: task,
		CreatedAt:       created,
		StartedAt:       &started,
		Status:          session.StatusRunning,
		Phase:           session.PhaseCoding,
	}
}

func TestSessionListEmpty(t *testing.T) {
	isolateProject(t)

	out, err := executeCommand(t, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded")
}

func TestSessionList(t *testing.T) {
	dir := isolateProject(t)
	seedSession(t, dir, runningSession(
		"11111111-aaaa-bbbb-cccc-000000000001", "add dark mode toggle", 2*time.Hour))
	done := runningSession(
		"22222222-aaaa-bbbb-cccc-000000000002", "refactor the parser", 30*time.Minute)
	done.Status = session.StatusCompleted
	done.Phase = session.PhaseCompleted
	seedSession(t, dir, done)

	out, err := executeCommand(t, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "11111111")
	assert.Contains(t, out, "22222222")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "add dark mode toggle")
	// Newest first.
	assert.Less(t, strings.Index(out, "22222222"), strings.Index(out, "11111111"))
}

func TestSessionListLimit(t *testing.T) {
	dir := isolateProject(t)
	seedSession(t, dir, runningSession(
		"11111111-aaaa-bbbb-cccc-000000000001", "old task", 3*time.Hour))
	seedSession(t, dir, runningSession(
		"22222222-aaaa-bbbb-cccc-000000000002", "new task", time.Hour))
	t.Cleanup(func() {
		_ = sessionListCmd.Flags().Set("limit", "20")
	})

	out, err := executeCommand(t, "session", "list", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "22222222")
	assert.NotContains(t, out, "11111111")
}

func TestSessionShowByPrefix(t *testing.T) {
	dir := isolateProject(t)
	sess := runningSession(
		"3f2a91d0-aaaa-bbbb-cccc-000000000003", "wire up metrics", time.Hour)
	sess.SpecID = "004-wire-up-metrics"
	sess.Metrics = &session.Metrics{Iterations: 3, FilesModified: 5}
	sess.Artifacts = map[string]any{"plan": "plan.md"}
	seedSession(t, dir, sess)

	out, err := executeCommand(t, "session", "show", "3f2a91d0")
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)
	assert.Contains(t, out, "wire up metrics")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "004-wire-up-metrics")
	assert.Contains(t, out, "5 modified")
	assert.Contains(t, out, "plan.md")
}

func TestSessionShowNotFound(t *testing.T) {
	isolateProject(t)

	_, err := executeCommand(t, "session", "show", "deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found: deadbeef")
}

func TestSessionShowAmbiguousPrefix(t *testing.T) {
	dir := isolateProject(t)
	seedSession(t, dir, runningSession(
		"aa111111-aaaa-bbbb-cccc-000000000001", "first task", time.Hour))
	seedSession(t, dir, runningSession(
		"aa222222-aaaa-bbbb-cccc-000000000002", "second task", time.Hour))

	_, err := executeCommand(t, "session", "show", "aa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
	assert.Contains(t, err.Error(), "2 matches")
}

func TestSessionPauseThenResume(t *testing.T) {
	dir := isolateProject(t)
	sess := runningSession(
		"44444444-aaaa-bbbb-cccc-000000000004", "long running task", time.Hour)
	seedSession(t, dir, sess)

	out, err := executeCommand(t, "session", "pause", "44444444")
	require.NoError(t, err)
	assert.Contains(t, out, "Session 44444444 paused (status: paused)")

	out, err = executeCommand(t, "session", "resume", "44444444")
	require.NoError(t, err)
	assert.Contains(t, out, "Session 44444444 resumed (status: running)")
}

func TestSessionPauseNotRunning(t *testing.T) {
	dir := isolateProject(t)
	sess := runningSession(
		"55555555-aaaa-bbbb-cccc-000000000005", "already done", time.Hour)
	sess.Status = session.StatusCompleted
	sess.Phase = session.PhaseCompleted
	seedSession(t, dir, sess)

	_, err := executeCommand(t, "session", "pause", "55555555")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not be paused")
	assert.Contains(t, err.Error(), "is not running")
}

func TestSessionCancel(t *testing.T) {
	dir := isolateProject(t)
	sess := runningSession(
		"66666666-aaaa-bbbb-cccc-000000000006", "cancel me", time.Hour)
	seedSession(t, dir, sess)

	out, err := executeCommand(t, "session", "cancel", "66666666")
	require.NoError(t, err)
	assert.Contains(t, out, "Session 66666666 cancelled (status: cancelled)")

	store := session.NewStore(filepath.Join(dir, ".specforge", "sessions"))
	got, err := store.Load(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.StatusCancelled, got.Status)
}

func TestSessionClean(t *testing.T) {
	dir := isolateProject(t)
	stale := runningSession(
		"77777777-aaaa-bbbb-cccc-000000000007", "stale run", 25*time.Hour)
	fresh := runningSession(
		"88888888-aaaa-bbbb-cccc-000000000008", "fresh run", time.Hour)
	seedSession(t, dir, stale)
	seedSession(t, dir, fresh)

	out, err := executeCommand(t, "session", "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "failed stale session 77777777")
	assert.Contains(t, out, "Cleaned 1 stale sessions")

	store := session.NewStore(filepath.Join(dir, ".specforge", "sessions"))
	got, err := store.Load(stale.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.StatusFailed, got.Status)
	assert.Equal(t, "Session timed out", got.Result)

	kept, err := store.Load(fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, session.StatusRunning, kept.Status)
}

func TestSessionCleanNothingStale(t *testing.T) {
	isolateProject(t)

	out, err := executeCommand(t, "session", "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "No stale sessions")
}
