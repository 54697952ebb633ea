package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/wc-attach-images/wc-attach-images/internal/platform/httpx"
	"github.com/wc-attach-images/wc-attach-images/internal/shared"
)

// ErrAlreadyScheduled is returned when an attach run is already waiting in the queue.
var ErrAlreadyScheduled = fmt.Errorf("jobs: attach run already scheduled: %w", httpx.ErrDuplicate)

const inspectPageSize = 100

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	Handlers  []TaskHandler
	Cron      []CronRegistration
}

// NewWorker constructs a Worker instance. A single attach run is processed at a time.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("worker: no task handlers registered")
	}
	var logger asynq.Logger
	if cfg.Logger != nil {
		logger = slogAdapter{logger: cfg.Logger.With(slog.String("component", "asynq"))}
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 1,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger: logger,
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC, Logger: logger})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Inspector is the read side of the queue used for duplicate checks and status.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListActiveTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// Client submits jobs to the queue.
type Client struct {
	enqueuer  Enqueuer
	inspector Inspector
	closers   []func() error
}

// NewClient constructs an Asynq client together with the inspector used for duplicate checks.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	inspector := asynq.NewInspector(redisOpts)
	return &Client{
		enqueuer:  client,
		inspector: inspector,
		closers:   []func() error{client.Close, inspector.Close},
	}, nil
}

// NewClientWith builds a Client from existing queue handles.
func NewClientWith(enqueuer Enqueuer, inspector Inspector) *Client {
	return &Client{enqueuer: enqueuer, inspector: inspector}
}

// Enqueuer exposes the raw enqueuer, used by handlers that schedule follow-up tasks.
func (c *Client) Enqueuer() Enqueuer {
	return c.enqueuer
}

// ScheduleAttachImages enqueues an attach run unless one is already pending or scheduled.
func (c *Client) ScheduleAttachImages(ctx context.Context, payload AttachImagesPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.enqueuer == nil {
		return nil, errors.New("jobs: client not configured")
	}
	if c.inspector != nil {
		waiting, err := c.waitingAttachTasks()
		if err != nil {
			return nil, err
		}
		if len(waiting) > 0 {
			return waiting[0], ErrAlreadyScheduled
		}
	}
	task, err := NewAttachImagesTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueuer.EnqueueContext(ctx, task, AttachTaskOptions()...)
}

// QueueStatus summarises attach activity in the queue.
type QueueStatus struct {
	Queue     string     `json:"queue"`
	Pending   int        `json:"pending"`
	Active    int        `json:"active"`
	Scheduled int        `json:"scheduled"`
	Running   bool       `json:"running"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// QueueStatus reports queue counters and whether an attach run is waiting or running.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	status := QueueStatus{Queue: QueueDefault}
	if c == nil || c.inspector == nil {
		return status, nil
	}
	if err := ctx.Err(); err != nil {
		return status, err
	}
	info, err := c.inspector.GetQueueInfo(QueueDefault)
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		return status, err
	}
	if info != nil {
		status.Pending = info.Pending
		status.Active = info.Active
		status.Scheduled = info.Scheduled
	}

	active, err := collect(func(opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
		return c.inspector.ListActiveTasks(QueueDefault, opts...)
	})
	if err != nil {
		return status, err
	}
	status.Running = len(active) > 0

	waiting, err := c.waitingAttachTasks()
	if err != nil {
		return status, err
	}
	for _, t := range waiting {
		next := t.NextProcessAt
		if next.IsZero() {
			continue
		}
		if status.NextRunAt == nil || next.Before(*status.NextRunAt) {
			status.NextRunAt = &next
		}
	}
	return status, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) waitingAttachTasks() ([]*asynq.TaskInfo, error) {
	pending, err := collect(func(opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
		return c.inspector.ListPendingTasks(QueueDefault, opts...)
	})
	if err != nil {
		return nil, err
	}
	scheduled, err := collect(func(opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
		return c.inspector.ListScheduledTasks(QueueDefault, opts...)
	})
	if err != nil {
		return nil, err
	}
	return append(pending, scheduled...), nil
}

// collect pages through an inspector listing and keeps attach tasks only.
func collect(list func(opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)) ([]*asynq.TaskInfo, error) {
	var out []*asynq.TaskInfo
	for page := 1; ; page++ {
		tasks, err := list(asynq.PageSize(inspectPageSize), asynq.Page(page))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t != nil && t.Type == TaskAttachProductImages {
				out = append(out, t)
			}
		}
		if len(tasks) < inspectPageSize {
			return out, nil
		}
	}
}

// Queue is what the jobs endpoints need from the client.
type Queue interface {
	QueueStatus(ctx context.Context) (QueueStatus, error)
	ScheduleAttachImages(ctx context.Context, payload AttachImagesPayload) (*asynq.TaskInfo, error)
}

// Handler exposes HTTP endpoints for job observability and scripted triggers.
type Handler struct {
	queue  Queue
	logger *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(queue Queue, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queue: queue, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	h.MountHealth(r)
	r.Post("/attach-images", h.trigger)
}

// MountHealth attaches only the read-only health route.
func (h *Handler) MountHealth(r chi.Router) {
	r.Get("/health", h.health)
}

type triggerRequest struct {
	Continuation *bool  `json:"continuation,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
}

type triggerResponse struct {
	TaskID    string     `json:"task_id"`
	Queue     string     `json:"queue"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.JSON(w, http.StatusOK, QueueStatus{Queue: QueueDefault})
		return
	}
	status, err := h.queue.QueueStatus(r.Context())
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("queue unavailable: %w", httpx.ErrUnavailable))
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

// trigger schedules a run from a JSON body. Continuation defaults to false.
func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.RespondError(w, fmt.Errorf("queue not configured: %w", httpx.ErrUnavailable))
		return
	}
	var req triggerRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	payload := AttachImagesPayload{Page: 1, RequestedBy: req.RequestedBy}
	if payload.RequestedBy == "" {
		payload.RequestedBy = shared.UserFromContext(r.Context())
	}
	if req.Continuation != nil {
		payload.Continuation = *req.Continuation
	}
	info, err := h.queue.ScheduleAttachImages(r.Context(), payload)
	if err != nil {
		if !errors.Is(err, ErrAlreadyScheduled) {
			h.logger.Error("jobs trigger", slog.Any("error", err))
			err = fmt.Errorf("schedule attach run: %w", httpx.ErrUnavailable)
		}
		httpx.RespondError(w, err)
		return
	}
	resp := triggerResponse{Queue: QueueDefault}
	if info != nil {
		resp.TaskID = info.ID
		if !info.NextProcessAt.IsZero() {
			next := info.NextProcessAt
			resp.NextRunAt = &next
		}
	}
	h.logger.Info("attach run scheduled via api", slog.String("task_id", resp.TaskID), slog.String("requested_by", payload.RequestedBy))
	httpx.JSON(w, http.StatusAccepted, resp)
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

func (a slogAdapter) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...), slog.Bool("fatal", true))
	os.Exit(1)
}
