package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
	jobmetrics "github.com/wc-attach-images/wc-attach-images/internal/jobs"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/cache"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// minLockRetry bounds how often a deferred continuation page polls the run lock.
const minLockRetry = 30 * time.Second

// AttachRunner runs the product loop.
type AttachRunner interface {
	Run(ctx context.Context, opts attach.RunOptions) (attach.Summary, error)
}

// Enqueuer submits follow-up tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RunLocker serialises attach runs between the worker and manual CLI runs.
type RunLocker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// AttachImagesJob executes TaskAttachProductImages.
type AttachImagesJob struct {
	Runner   AttachRunner
	Enqueuer Enqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Lock     RunLocker
	// Pause delays the continuation task in continuation mode.
	Pause time.Duration
}

// NewAttachImagesJob wires dependencies for the attach handler.
func NewAttachImagesJob(runner AttachRunner, enqueuer Enqueuer, pause time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AttachImagesJob {
	return &AttachImagesJob{
		Runner:   runner,
		Enqueuer: enqueuer,
		Logger:   logger,
		Metrics:  metrics,
		Pause:    pause,
	}
}

// Handle processes attach tasks.
func (j *AttachImagesJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Runner == nil {
		return errors.New("attach images: handler not configured")
	}
	var payload AttachImagesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("attach images: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Page < 1 {
		payload.Page = 1
	}

	logger := j.logger().With(slog.Int("page", payload.Page), slog.Bool("continuation", payload.Continuation))

	if j.Lock != nil {
		release, lockErr := j.Lock.Acquire(ctx)
		if errors.Is(lockErr, cache.ErrLocked) {
			if payload.Continuation && payload.Page > 1 {
				return j.deferPage(ctx, payload, logger)
			}
			logger.Warn("attach run already in progress, skipping")
			return nil
		}
		if lockErr != nil {
			return lockErr
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				logger.Warn("release attach lock", slog.Any("error", relErr))
			}
		}()
	}

	tracker := j.metrics().Track(TaskAttachProductImages)
	defer func() {
		err = tracker.End(err)
	}()

	logger.Info("starting attach run")

	summary, err := j.Runner.Run(ctx, attach.RunOptions{
		StartPage:  payload.Page,
		SinglePage: payload.Continuation,
	})
	if err != nil {
		logger.Error("attach run", slog.String("run_id", summary.RunID), slog.Any("error", err))
		return err
	}

	logger.Info("completed attach run",
		slog.String("run_id", summary.RunID),
		slog.Int("pages", summary.Pages),
		slog.Int("processed", summary.Processed),
		slog.Int("attached", summary.Attached),
		slog.Int("children", summary.Children),
		slog.Int("no_sku", summary.NoSKU),
		slog.Int("no_match", summary.NoMatch),
		slog.Int("ambiguous", summary.Ambiguous),
	)

	if payload.Continuation && summary.NextPage > 0 {
		if err := j.enqueuePage(ctx, summary.NextPage, payload.RequestedBy, j.Pause); err != nil {
			logger.Error("enqueue next page", slog.Int("next_page", summary.NextPage), slog.Any("error", err))
			return err
		}
		logger.Info("next page scheduled", slog.Int("next_page", summary.NextPage), slog.Duration("in", j.Pause))
	}
	return nil
}

// deferPage puts a continuation page back on the queue while another run holds the lock,
// so the chain resumes where it stopped instead of ending silently.
func (j *AttachImagesJob) deferPage(ctx context.Context, payload AttachImagesPayload, logger *slog.Logger) error {
	delay := max(j.Pause, minLockRetry)
	if err := j.enqueuePage(ctx, payload.Page, payload.RequestedBy, delay); err != nil {
		logger.Error("defer continuation page", slog.Any("error", err))
		return err
	}
	logger.Warn("attach run already in progress, continuation page deferred", slog.Duration("in", delay))
	return nil
}

func (j *AttachImagesJob) enqueuePage(ctx context.Context, page int, requestedBy string, delay time.Duration) error {
	if j.Enqueuer == nil {
		return errors.New("attach images: enqueuer not configured")
	}
	task, err := NewAttachImagesTask(AttachImagesPayload{Page: page, Continuation: true, RequestedBy: requestedBy})
	if err != nil {
		return err
	}
	_, err = j.Enqueuer.EnqueueContext(ctx, task, AttachTaskOptions(asynq.ProcessIn(delay))...)
	return err
}

func (j *AttachImagesJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAttachProductImages))
	}
	return slog.Default().With(slog.String("job", TaskAttachProductImages))
}

func (j *AttachImagesJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// AttachTaskOptions are shared by every attach enqueue, cron included. Attach runs are never retried.
func AttachTaskOptions(extra ...asynq.Option) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(6 * time.Hour),
	}
	return append(opts, extra...)
}
