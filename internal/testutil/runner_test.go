package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/git"
)

func TestMockRunnerScripting(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		scripts  func(*MockRunner)
		args     []string
		want     git.Result
		wantErr  string
		scripted bool
	}{
		"unscripted call succeeds empty": {
			scripts: func(*MockRunner) {},
			args:    []string{"status", "--porcelain"},
			want:    git.Result{},
		},
		"prefix match replays result": {
			scripts: func(m *MockRunner) {
				m.Script("rev-parse", git.Result{Stdout: "abc123\n"}, nil)
			},
			args: []string{"rev-parse", "HEAD"},
			want: git.Result{Stdout: "abc123\n"},
		},
		"longest prefix wins": {
			scripts: func(m *MockRunner) {
				m.Script("worktree", git.Result{Stdout: "generic"}, nil)
				m.Script("worktree add", git.Result{Stdout: "specific"}, nil)
			},
			args: []string{"worktree", "add", "/tmp/wt", "branch"},
			want: git.Result{Stdout: "specific"},
		},
		"scripted error is replayed": {
			scripts: func(m *MockRunner) {
				m.Script("push", git.Result{}, errors.New("network unreachable"))
			},
			args:    []string{"push", "origin", "main"},
			wantErr: "network unreachable",
		},
		"scripted exit code is not an error": {
			scripts: func(m *MockRunner) {
				m.Script("merge", git.Result{Stderr: "conflict", ExitCode: 1}, nil)
			},
			args: []string{"merge", "--no-ff", "branch"},
			want: git.Result{Stderr: "conflict", ExitCode: 1},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m := &MockRunner{}
			tc.scripts(m)

			res, err := m.Run(context.Background(), "/repo", tc.args...)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, res)
			}

			require.Len(t, m.Records(), 1)
			rec := m.Records()[0]
			assert.Equal(t, "/repo", rec.Dir)
			assert.Equal(t, tc.args, rec.Args)
		})
	}
}

func TestMockRunnerHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &MockRunner{}
	_, err := m.Run(ctx, "/repo", "status")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Records(), "cancelled calls are not recorded")
}

func TestMockRunnerQueries(t *testing.T) {
	t.Parallel()

	m := &MockRunner{}
	ctx := context.Background()

	_, err := m.Run(ctx, "/repo", "branch", "--list")
	require.NoError(t, err)
	_, err = m.Run(ctx, "/repo", "worktree", "add", "/tmp/a", "b1")
	require.NoError(t, err)
	_, err = m.Run(ctx, "/repo", "worktree", "add", "/tmp/b", "b2")
	require.NoError(t, err)

	assert.True(t, m.Seen("worktree add"))
	assert.False(t, m.Seen("push"))
	assert.Equal(t, 2, m.Count("worktree add"))

	last, ok := m.Last("worktree add")
	require.True(t, ok)
	assert.Equal(t, "worktree add /tmp/b b2", last.Command())

	_, ok = m.Last("push")
	assert.False(t, ok)
}

func TestWriteAndReadCallLog(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		records     []CallRecord
		wantEntries int
	}{
		"single record with all fields": {
			records: []CallRecord{
				{
					Dir:       "/repo",
					Args:      []string{"rev-parse", "HEAD"},
					Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
					Stdout:    "abc123\n",
					ExitCode:  0,
				},
			},
			wantEntries: 1,
		},
		"record with error": {
			records: []CallRecord{
				{
					Dir:       "/repo",
					Args:      []string{"push", "origin", "main"},
					Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
					Stderr:    "fatal: unable to access remote",
					ExitCode:  128,
					Err:       "network unreachable",
				},
			},
			wantEntries: 1,
		},
		"empty records": {
			records:     []CallRecord{},
			wantEntries: 0,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			logPath := filepath.Join(t.TempDir(), "call_log.yaml")
			require.NoError(t, WriteCallLog(logPath, tc.records))

			log, err := ReadCallLog(logPath)
			require.NoError(t, err)
			require.Len(t, log.Entries, tc.wantEntries)

			roundTripped, err := log.ToCallRecords()
			require.NoError(t, err)
			assert.Equal(t, tc.records, roundTripped)

			for i, entry := range log.Entries {
				assert.Equal(t, tc.records[i].Err != "", entry.HasError())
			}
		})
	}
}

func TestReadCallLogErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := ReadCallLog(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		t.Parallel()
		log := &CallLog{Entries: []CallLogEntry{{Args: []string{"status"}, Timestamp: "not-a-time"}}}
		_, err := log.ToCallRecords()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing timestamp")
	})
}

func TestMockRunnerWriteLog(t *testing.T) {
	t.Parallel()

	m := &MockRunner{}
	m.Script("rev-parse", git.Result{Stdout: "abc123\n"}, nil)
	_, err := m.Run(context.Background(), "/repo", "rev-parse", "HEAD")
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "calls.yaml")
	require.NoError(t, m.WriteLog(logPath))

	log, err := ReadCallLog(logPath)
	require.NoError(t, err)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, []string{"rev-parse", "HEAD"}, log.Entries[0].Args)
	assert.Equal(t, "abc123\n", log.Entries[0].Stdout)
}
