package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/zerodna/cms-authz/internal/rbac"
	"github.com/zerodna/cms-authz/jobs"
)

type stubEnqueuer struct {
	requestedBy string
	err         error
}

func (s *stubEnqueuer) EnqueuePurgeExpired(ctx context.Context, requestedBy string) (*asynq.TaskInfo, error) {
	s.requestedBy = requestedBy
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1", Type: jobs.TaskPurgeExpired, Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

type stubMigrator struct {
	upCalls   int
	downSteps int
	version   uint
	dirty     bool
	err       error
}

func (m *stubMigrator) Up() error {
	m.upCalls++
	return m.err
}

func (m *stubMigrator) Down(steps int) error {
	m.downSteps = steps
	return m.err
}

func (m *stubMigrator) Version() (uint, bool, error) {
	return m.version, m.dirty, nil
}

func TestJobsTriggerPurge(t *testing.T) {
	enq := &stubEnqueuer{}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := NewJobsCLI(enq, nil).Command(context.Background(), JobsOptions{
		Args:   []string{"trigger", jobs.TaskPurgeExpired},
		Stdout: stdout,
		Stderr: stderr,
	})
	require.Zero(t, code)
	require.Empty(t, stderr.String())
	require.Equal(t, "cli", enq.requestedBy)
	require.Contains(t, stdout.String(), "id=task-1")
}

func TestJobsTriggerDuplicateIsNotAnError(t *testing.T) {
	enq := &stubEnqueuer{err: asynq.ErrDuplicateTask}
	stdout := new(bytes.Buffer)
	code := NewJobsCLI(enq, nil).Command(context.Background(), JobsOptions{
		Args:        []string{"trigger", jobs.TaskPurgeExpired},
		RequestedBy: "ops",
		Stdout:      stdout,
		Stderr:      new(bytes.Buffer),
	})
	require.Zero(t, code)
	require.Equal(t, "ops", enq.requestedBy)
	require.Contains(t, stdout.String(), "already queued")
}

func TestJobsTriggerRejectsUnknownTask(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := NewJobsCLI(&stubEnqueuer{}, nil).Command(context.Background(), JobsOptions{
		Args:   []string{"trigger", "reindex"},
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "unsupported job reindex")
}

func TestJobsStatsJSON(t *testing.T) {
	inspector := stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}}
	stdout := new(bytes.Buffer)
	code := NewJobsCLI(nil, inspector).Command(context.Background(), JobsOptions{
		Args:       []string{"stats"},
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     new(bytes.Buffer),
	})
	require.Zero(t, code)

	var stats QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, stats)
}

func TestJobsStatsMissingQueueReportsZero(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := NewJobsCLI(nil, stubInspector{err: asynq.ErrQueueNotFound}).Command(context.Background(), JobsOptions{
		Args:   []string{"stats"},
		Stdout: stdout,
		Stderr: new(bytes.Buffer),
	})
	require.Zero(t, code)
	require.Contains(t, stdout.String(), "pending=0")
}

func TestJobsStatsError(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := NewJobsCLI(nil, stubInspector{err: errors.New("redis down")}).Command(context.Background(), JobsOptions{
		Args:   []string{"stats"},
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "redis down")
}

func TestMigrateCommands(t *testing.T) {
	m := &stubMigrator{version: 1}
	stdout := new(bytes.Buffer)
	require.Zero(t, MigrateCommand(m, MigrateOptions{Args: []string{"up"}, Stdout: stdout, Stderr: new(bytes.Buffer)}))
	require.Equal(t, 1, m.upCalls)
	require.Contains(t, stdout.String(), "schema version 1 (dirty=false)")

	require.Zero(t, MigrateCommand(m, MigrateOptions{Args: []string{"down", "2"}, Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
	require.Equal(t, 2, m.downSteps)

	stderr := new(bytes.Buffer)
	require.Equal(t, 2, MigrateCommand(m, MigrateOptions{Args: []string{"down", "zero"}, Stdout: new(bytes.Buffer), Stderr: stderr}))
	require.Contains(t, stderr.String(), "invalid step count")
}

func TestMigrateDirtyExitCode(t *testing.T) {
	m := &stubMigrator{version: 1, dirty: true}
	require.Equal(t, 10, MigrateCommand(m, MigrateOptions{Args: []string{"version"}, Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}))
}

func TestMigrateUpFailure(t *testing.T) {
	m := &stubMigrator{err: errors.New("boom")}
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, MigrateCommand(m, MigrateOptions{Args: []string{"up"}, Stdout: new(bytes.Buffer), Stderr: stderr}))
	require.Contains(t, stderr.String(), "boom")
}

func TestSeedCommand(t *testing.T) {
	var got rbac.SeedOptions
	seeder := func(ctx context.Context, opts rbac.SeedOptions) (rbac.SeedResult, error) {
		got = opts
		return rbac.SeedResult{Permissions: 23, Roles: 2, AdminID: 1, AdminNew: true}, nil
	}
	stdout := new(bytes.Buffer)
	code := SeedCommand(context.Background(), seeder, SeedCommandOptions{
		Seed:   rbac.SeedOptions{AdminPassword: "s3cret-pass"},
		Stdout: stdout,
		Stderr: new(bytes.Buffer),
	})
	require.Zero(t, code)
	require.Equal(t, "s3cret-pass", got.AdminPassword)
	require.Contains(t, stdout.String(), "seeded 23 permissions and 2 roles")
	require.Contains(t, stdout.String(), "created admin user id=1")
}

func TestSeedCommandFailure(t *testing.T) {
	seeder := func(ctx context.Context, opts rbac.SeedOptions) (rbac.SeedResult, error) {
		return rbac.SeedResult{}, rbac.ErrValidation
	}
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, SeedCommand(context.Background(), seeder, SeedCommandOptions{Stdout: new(bytes.Buffer), Stderr: stderr}))
	require.Contains(t, stderr.String(), "seed:")
}
