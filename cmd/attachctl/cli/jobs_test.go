package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/wc-attach-images/wc-attach-images/jobs"
)

type stubQueue struct {
	info     *asynq.TaskInfo
	err      error
	status   jobs.QueueStatus
	statErr  error
	payloads []jobs.AttachImagesPayload
}

func (s *stubQueue) ScheduleAttachImages(_ context.Context, payload jobs.AttachImagesPayload) (*asynq.TaskInfo, error) {
	s.payloads = append(s.payloads, payload)
	return s.info, s.err
}

func (s *stubQueue) QueueStatus(context.Context) (jobs.QueueStatus, error) {
	return s.status, s.statErr
}

func TestTriggerCommandSchedules(t *testing.T) {
	queue := &stubQueue{info: &asynq.TaskInfo{ID: "abc", Queue: jobs.QueueDefault}}
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	code := NewJobsCLIWith(queue).TriggerCommand(context.Background(), TriggerOptions{
		Continuation: true,
		RequestedBy:  "ops",
		Stdout:       stdout,
		Stderr:       stderr,
	})

	require.Equal(t, 0, code)
	require.Empty(t, stderr.String())
	require.Contains(t, stdout.String(), "Attach run scheduled (task abc, queue default)")
	require.Len(t, queue.payloads, 1)
	require.Equal(t, jobs.AttachImagesPayload{Page: 1, Continuation: true, RequestedBy: "ops"}, queue.payloads[0])
}

func TestTriggerCommandDuplicateJSON(t *testing.T) {
	next := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	queue := &stubQueue{
		info: &asynq.TaskInfo{ID: "waiting", Queue: jobs.QueueDefault, NextProcessAt: next},
		err:  jobs.ErrAlreadyScheduled,
	}
	stdout := new(bytes.Buffer)

	code := NewJobsCLIWith(queue).TriggerCommand(context.Background(), TriggerOptions{
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     new(bytes.Buffer),
	})

	require.Equal(t, 2, code)
	var result triggerResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	require.True(t, result.Duplicate)
	require.Equal(t, "waiting", result.TaskID)
	require.NotNil(t, result.NextRunAt)
	require.True(t, result.NextRunAt.Equal(next))
}

func TestTriggerCommandFailure(t *testing.T) {
	queue := &stubQueue{err: errors.New("dial tcp: refused")}
	stderr := new(bytes.Buffer)

	code := NewJobsCLIWith(queue).TriggerCommand(context.Background(), TriggerOptions{
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})

	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "trigger: dial tcp: refused")
}

func TestTriggerCommandNotConfigured(t *testing.T) {
	var c *JobsCLI
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, c.TriggerCommand(context.Background(), TriggerOptions{Stderr: stderr}))
	require.Contains(t, stderr.String(), "queue not configured")
}

func TestStatusCommandHuman(t *testing.T) {
	next := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	queue := &stubQueue{status: jobs.QueueStatus{Queue: jobs.QueueDefault, Pending: 1, Scheduled: 2, Running: true, NextRunAt: &next}}
	stdout := new(bytes.Buffer)

	code := NewJobsCLIWith(queue).StatusCommand(context.Background(), StatusOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})

	require.Equal(t, 0, code)
	out := stdout.String()
	require.Equal(t, "1", tableValue(t, out, "Pending"))
	require.Equal(t, "yes", tableValue(t, out, "Running"))
	require.Equal(t, "2024-05-01T03:00:00Z", tableValue(t, out, "Next run"))
}

func TestStatusCommandJSON(t *testing.T) {
	queue := &stubQueue{status: jobs.QueueStatus{Queue: jobs.QueueDefault, Active: 1}}
	stdout := new(bytes.Buffer)

	code := NewJobsCLIWith(queue).StatusCommand(context.Background(), StatusOptions{JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})

	require.Equal(t, 0, code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":1,"scheduled":0,"running":false}`, stdout.String())
}

func TestStatusCommandError(t *testing.T) {
	queue := &stubQueue{statErr: errors.New("boom")}
	stderr := new(bytes.Buffer)

	code := NewJobsCLIWith(queue).StatusCommand(context.Background(), StatusOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "status: boom")
}
