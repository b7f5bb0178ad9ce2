package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/zerodna/cms-authz/jobs"
)

// PurgeEnqueuer is the part of jobs.Client the CLI needs.
type PurgeEnqueuer interface {
	EnqueuePurgeExpired(ctx context.Context, requestedBy string) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    PurgeEnqueuer
	inspector jobs.QueueInspector
}

// NewJobsCLI builds the helper from an enqueuer and an inspector; either may
// be nil when only one subcommand is used.
func NewJobsCLI(client PurgeEnqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// JobsOptions configures the jobs command.
type JobsOptions struct {
	Args        []string
	RequestedBy string
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Command runs `jobs trigger <task>` or `jobs stats`.
func (c *JobsCLI) Command(ctx context.Context, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(opts.Args) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "usage: jobs trigger purge:expired | jobs stats")
		return 2
	}
	switch opts.Args[0] {
	case "trigger":
		if len(opts.Args) < 2 {
			_, _ = fmt.Fprintln(opts.Stderr, "jobs trigger: task name is required")
			return 2
		}
		return c.trigger(ctx, opts.Args[1], opts)
	case "stats":
		return c.stats(opts)
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: unknown subcommand %q\n", opts.Args[0])
		return 2
	}
}

func (c *JobsCLI) trigger(ctx context.Context, name string, opts JobsOptions) int {
	if c == nil || c.client == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "jobs trigger: client not configured")
		return 1
	}
	if name != jobs.TaskPurgeExpired {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: unsupported job %s\n", name)
		return 2
	}
	requestedBy := opts.RequestedBy
	if requestedBy == "" {
		requestedBy = "cli"
	}
	info, err := c.client.EnqueuePurgeExpired(ctx, requestedBy)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			_, _ = fmt.Fprintln(opts.Stdout, "purge already queued")
			return 0
		}
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return 0
}

func (c *JobsCLI) stats(opts JobsOptions) int {
	if c == nil || c.inspector == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "jobs stats: inspector not configured")
		return 1
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	switch {
	case errors.Is(err, asynq.ErrQueueNotFound):
	case err != nil:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
		return 1
	case info != nil:
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return 0
}
