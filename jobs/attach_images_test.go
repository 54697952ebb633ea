package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
	jobmetrics "github.com/wc-attach-images/wc-attach-images/internal/jobs"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/cache"
)

type fakeRunner struct {
	calls   []attach.RunOptions
	summary attach.Summary
	err     error
}

func (f *fakeRunner) Run(_ context.Context, opts attach.RunOptions) (attach.Summary, error) {
	f.calls = append(f.calls, opts)
	return f.summary, f.err
}

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	tasks []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault, Type: task.Type()}, nil
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) (any, bool) {
	for _, opt := range opts {
		if opt.Type() == typ {
			return opt.Value(), true
		}
	}
	return nil, false
}

func newTestJob(runner AttachRunner, enq Enqueuer) *AttachImagesJob {
	return NewAttachImagesJob(runner, enq, 5*time.Second, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func mustTask(t *testing.T, payload AttachImagesPayload) *asynq.Task {
	t.Helper()
	task, err := NewAttachImagesTask(payload)
	require.NoError(t, err)
	return task
}

func TestNewAttachImagesTaskDefaultsPage(t *testing.T) {
	task := mustTask(t, AttachImagesPayload{})
	assert.Equal(t, TaskAttachProductImages, task.Type())

	var payload AttachImagesPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, 1, payload.Page)
	assert.False(t, payload.Continuation)
}

func TestAttachImagesJobRunsFullLoop(t *testing.T) {
	runner := &fakeRunner{summary: attach.Summary{RunID: "r1", Pages: 3, Processed: 250}}
	enq := &fakeEnqueuer{}
	job := newTestJob(runner, enq)

	require.NoError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 1})))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, attach.RunOptions{StartPage: 1}, runner.calls[0])
	assert.Empty(t, enq.tasks)
}

func TestAttachImagesJobContinuationEnqueuesNextPage(t *testing.T) {
	runner := &fakeRunner{summary: attach.Summary{RunID: "r1", Pages: 1, Processed: 100, NextPage: 3}}
	enq := &fakeEnqueuer{}
	job := newTestJob(runner, enq)

	require.NoError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 2, Continuation: true, RequestedBy: "admin"})))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, attach.RunOptions{StartPage: 2, SinglePage: true}, runner.calls[0])

	require.Len(t, enq.tasks, 1)
	next := enq.tasks[0]
	var payload AttachImagesPayload
	require.NoError(t, json.Unmarshal(next.task.Payload(), &payload))
	assert.Equal(t, AttachImagesPayload{Page: 3, Continuation: true, RequestedBy: "admin"}, payload)

	delay, ok := optionValue(next.opts, asynq.ProcessInOpt)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)
	retries, ok := optionValue(next.opts, asynq.MaxRetryOpt)
	require.True(t, ok)
	assert.Equal(t, 0, retries)
}

func TestAttachImagesJobContinuationStopsOnLastPage(t *testing.T) {
	runner := &fakeRunner{summary: attach.Summary{RunID: "r1", Pages: 1, Processed: 12}}
	enq := &fakeEnqueuer{}
	job := newTestJob(runner, enq)

	require.NoError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 4, Continuation: true})))
	assert.Empty(t, enq.tasks)
}

func TestAttachImagesJobPropagatesRunError(t *testing.T) {
	boom := errors.New("host down")
	runner := &fakeRunner{err: boom}
	enq := &fakeEnqueuer{}
	job := newTestJob(runner, enq)

	err := job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 1, Continuation: true}))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, enq.tasks)
}

func TestAttachImagesJobInvalidPayloadSkipsRetry(t *testing.T) {
	job := newTestJob(&fakeRunner{}, &fakeEnqueuer{})
	err := job.Handle(context.Background(), asynq.NewTask(TaskAttachProductImages, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAttachImagesJobEnqueueFailure(t *testing.T) {
	runner := &fakeRunner{summary: attach.Summary{NextPage: 2}}
	enq := &fakeEnqueuer{err: errors.New("redis gone")}
	job := newTestJob(runner, enq)

	err := job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 1, Continuation: true}))
	assert.EqualError(t, err, "redis gone")
}

func TestAttachImagesJobNotConfigured(t *testing.T) {
	var job *AttachImagesJob
	assert.Error(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{})))
}

type fakeLock struct {
	err      error
	acquired int
	released int
}

func (f *fakeLock) Acquire(context.Context) (func(context.Context) error, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

func TestAttachImagesJobHoldsLockDuringRun(t *testing.T) {
	runner := &fakeRunner{summary: attach.Summary{RunID: "r1"}}
	lock := &fakeLock{}
	job := newTestJob(runner, &fakeEnqueuer{})
	job.Lock = lock

	require.NoError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{})))
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
	assert.Len(t, runner.calls, 1)
}

func TestAttachImagesJobSkipsWhenLocked(t *testing.T) {
	runner := &fakeRunner{}
	job := newTestJob(runner, &fakeEnqueuer{})
	job.Lock = &fakeLock{err: cache.ErrLocked}

	require.NoError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{})))
	assert.Empty(t, runner.calls)
}

func TestAttachImagesJobDefersContinuationPageWhenLocked(t *testing.T) {
	runner := &fakeRunner{}
	enq := &fakeEnqueuer{}
	job := newTestJob(runner, enq)
	job.Lock = &fakeLock{err: cache.ErrLocked}

	require.NoError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 4, Continuation: true, RequestedBy: "cron"})))
	assert.Empty(t, runner.calls)

	require.Len(t, enq.tasks, 1)
	var payload AttachImagesPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].task.Payload(), &payload))
	assert.Equal(t, AttachImagesPayload{Page: 4, Continuation: true, RequestedBy: "cron"}, payload)
	delay, ok := optionValue(enq.tasks[0].opts, asynq.ProcessInOpt)
	require.True(t, ok)
	assert.Equal(t, minLockRetry, delay)
}

func TestAttachImagesJobDeferFailureIsReturned(t *testing.T) {
	job := newTestJob(&fakeRunner{}, &fakeEnqueuer{err: errors.New("redis gone")})
	job.Lock = &fakeLock{err: cache.ErrLocked}

	assert.EqualError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 2, Continuation: true})), "redis gone")
}

func TestAttachImagesJobFirstContinuationPageSkipsWhenLocked(t *testing.T) {
	enq := &fakeEnqueuer{}
	job := newTestJob(&fakeRunner{}, enq)
	job.Lock = &fakeLock{err: cache.ErrLocked}

	require.NoError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{Page: 1, Continuation: true})))
	assert.Empty(t, enq.tasks)
}

func TestAttachImagesJobLockError(t *testing.T) {
	runner := &fakeRunner{}
	job := newTestJob(runner, &fakeEnqueuer{})
	job.Lock = &fakeLock{err: errors.New("redis timeout")}

	assert.EqualError(t, job.Handle(context.Background(), mustTask(t, AttachImagesPayload{})), "redis timeout")
	assert.Empty(t, runner.calls)
}
