package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wc-attach-images/wc-attach-images/jobs"
)

// Queue is the slice of the job client the CLI drives.
type Queue interface {
	ScheduleAttachImages(ctx context.Context, payload jobs.AttachImagesPayload) (*asynq.TaskInfo, error)
	QueueStatus(ctx context.Context) (jobs.QueueStatus, error)
}

// JobsCLI wraps manual management helpers for the attach queue.
type JobsCLI struct {
	queue Queue
	close func() error
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	if err != nil {
		return nil, err
	}
	return &JobsCLI{queue: client, close: client.Close}, nil
}

// NewJobsCLIWith builds the helpers around an existing queue.
func NewJobsCLIWith(queue Queue) *JobsCLI {
	return &JobsCLI{queue: queue}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.close == nil {
		return nil
	}
	return c.close()
}

// TriggerOptions defines flags for the trigger command.
type TriggerOptions struct {
	Continuation bool
	RequestedBy  string
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

type triggerResult struct {
	TaskID    string     `json:"task_id"`
	Queue     string     `json:"queue"`
	Duplicate bool       `json:"duplicate"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// TriggerCommand schedules an attach run. Exit code 2 means a run was already waiting.
func (c *JobsCLI) TriggerCommand(ctx context.Context, opts TriggerOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c == nil || c.queue == nil {
		_, _ = fmt.Fprintln(stderr, "trigger: queue not configured")
		return 1
	}
	info, err := c.queue.ScheduleAttachImages(ctx, jobs.AttachImagesPayload{
		Page:         1,
		Continuation: opts.Continuation,
		RequestedBy:  opts.RequestedBy,
	})
	duplicate := errors.Is(err, jobs.ErrAlreadyScheduled)
	if err != nil && !duplicate {
		_, _ = fmt.Fprintf(stderr, "trigger: %v\n", err)
		return 1
	}
	result := triggerResult{Queue: jobs.QueueDefault, Duplicate: duplicate}
	if info != nil {
		result.TaskID = info.ID
		if info.Queue != "" {
			result.Queue = info.Queue
		}
		if !info.NextProcessAt.IsZero() {
			next := info.NextProcessAt
			result.NextRunAt = &next
		}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(result); err != nil {
			_, _ = fmt.Fprintf(stderr, "trigger: encode json: %v\n", err)
			return 1
		}
	} else if duplicate {
		_, _ = fmt.Fprintf(stdout, "Attach run already waiting (task %s)\n", result.TaskID)
	} else {
		_, _ = fmt.Fprintf(stdout, "Attach run scheduled (task %s, queue %s)\n", result.TaskID, result.Queue)
	}
	if duplicate {
		return 2
	}
	return 0
}

// StatusOptions defines flags for the status command.
type StatusOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// StatusCommand prints queue counters and the next attach run.
func (c *JobsCLI) StatusCommand(ctx context.Context, opts StatusOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c == nil || c.queue == nil {
		_, _ = fmt.Fprintln(stderr, "status: queue not configured")
		return 1
	}
	status, err := c.queue.QueueStatus(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "status: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(status); err != nil {
			_, _ = fmt.Fprintf(stderr, "status: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	next := "-"
	if status.NextRunAt != nil {
		next = status.NextRunAt.UTC().Format(time.RFC3339)
	}
	rows := [][]string{
		{"Queue", status.Queue},
		{"Pending", strconv.Itoa(status.Pending)},
		{"Scheduled", strconv.Itoa(status.Scheduled)},
		{"Active", strconv.Itoa(status.Active)},
		{"Running", yesNo(status.Running)},
		{"Next run", next},
	}
	_, _ = fmt.Fprintln(stdout, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
