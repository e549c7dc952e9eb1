package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/stocksync/jobs"
)

const jobsUsage = "usage: stocksync jobs <replay TRANSFER_ID | stats | scheduled>"

// JobsConfig is the subset of configuration the jobs commands need.
type JobsConfig struct {
	RedisAddr string `envconfig:"REDIS_ADDR" required:"true"`
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Replay enqueues a forced synchronization of a transfer, even one that
// already synced.
func (c *JobsCLI) Replay(ctx context.Context, transferID string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewTransferSyncTask(transferID, true)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
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

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// RunJobs executes a jobs subcommand and returns the process exit code.
func RunJobs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, jobsUsage)
		return 2
	}
	switch args[0] {
	case "replay":
		if len(args) != 2 || args[1] == "" {
			fmt.Fprintln(stderr, jobsUsage)
			return 2
		}
	case "stats", "scheduled":
	default:
		fmt.Fprintf(stderr, "unknown jobs command %q\n%s\n", args[0], jobsUsage)
		return 2
	}

	var cfg JobsConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	c, err := NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer c.Close()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	switch args[0] {
	case "replay":
		info, err := c.Replay(ctx, args[1])
		if err != nil {
			fmt.Fprintf(stderr, "replay %s: %v\n", args[1], err)
			return 1
		}
		_ = enc.Encode(map[string]string{"task_id": info.ID, "queue": info.Queue, "transfer_id": args[1]})
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "inspect queue: %v\n", err)
			return 1
		}
		_ = enc.Encode(stats)
	case "scheduled":
		infos, err := c.ListScheduled(ctx, 20)
		if err != nil {
			fmt.Fprintf(stderr, "list scheduled: %v\n", err)
			return 1
		}
		out := make([]map[string]string, 0, len(infos))
		for _, info := range infos {
			out = append(out, map[string]string{"id": info.ID, "type": info.Type, "next": info.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z")})
		}
		_ = enc.Encode(out)
	}
	return 0
}
