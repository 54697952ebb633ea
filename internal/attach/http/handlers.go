package attachhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/wc-attach-images/wc-attach-images/internal/hostlog"
	"github.com/wc-attach-images/wc-attach-images/internal/shared"
	"github.com/wc-attach-images/wc-attach-images/internal/view"
	"github.com/wc-attach-images/wc-attach-images/jobs"
)

const (
	pageTitle      = "Bulk Attach Images"
	logTitle       = "Attach Images Log"
	logLimit       = 500
	requestTimeout = 3 * time.Second
)

const (
	msgScheduled        = "Images will be attached to products in the background. You can view a log of the process under Log once the process has run."
	msgAlreadyScheduled = "An attach run is already waiting in the queue. You can view a log of the process under Log once the process has run."
	msgScheduleFailed   = "The attach run could not be scheduled. Check that the queue is reachable and try again."
)

// Scheduler enqueues attach runs.
type Scheduler interface {
	ScheduleAttachImages(ctx context.Context, payload jobs.AttachImagesPayload) (*asynq.TaskInfo, error)
}

// StatusSource reports queue state.
type StatusSource interface {
	QueueStatus(ctx context.Context) (jobs.QueueStatus, error)
}

// LogReader lists recent diagnostic log lines.
type LogReader interface {
	Channel() string
	Recent(ctx context.Context, limit int) ([]hostlog.Entry, error)
}

// Settings describes the configured run mode shown on the page.
type Settings struct {
	Backend      string
	Continuation bool
	Pause        time.Duration
}

// Handler serves the attach admin pages.
type Handler struct {
	logger    *slog.Logger
	scheduler Scheduler
	status    StatusSource
	log       LogReader
	templates *view.Engine
	csrf      *shared.CSRFManager
	settings  Settings
}

// NewHandler constructs the attach admin handler.
func NewHandler(logger *slog.Logger, scheduler Scheduler, status StatusSource, log LogReader, templates *view.Engine, csrf *shared.CSRFManager, settings Settings) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		scheduler: scheduler,
		status:    status,
		log:       log,
		templates: templates,
		csrf:      csrf,
		settings:  settings,
	}
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	data := map[string]any{
		"Backend":      h.settings.Backend,
		"Continuation": h.settings.Continuation,
		"Pause":        h.settings.Pause,
	}
	if h.status != nil {
		status, err := h.status.QueueStatus(ctx)
		if err != nil {
			h.logger.Warn("load queue status", slog.Any("error", err))
			data["QueueError"] = err.Error()
		} else {
			data["Queue"] = status
		}
	}
	h.render(w, r, http.StatusOK, "pages/attach_images.html", pageTitle, data)
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	user := shared.UserFromContext(r.Context())

	info, err := h.scheduler.ScheduleAttachImages(r.Context(), jobs.AttachImagesPayload{
		Page:         1,
		Continuation: h.settings.Continuation,
		RequestedBy:  user,
	})
	switch {
	case err == nil:
		taskID := ""
		if info != nil {
			taskID = info.ID
		}
		h.logger.Info("attach run scheduled", slog.String("user", user), slog.String("task_id", taskID))
		h.redirectWithFlash(w, r, shared.FlashMessage{Kind: shared.FlashSuccess, Message: msgScheduled})
	case errors.Is(err, jobs.ErrAlreadyScheduled):
		h.logger.Info("attach run already scheduled", slog.String("user", user))
		h.redirectWithFlash(w, r, shared.FlashMessage{Kind: shared.FlashWarning, Message: msgAlreadyScheduled})
	default:
		h.logger.Error("schedule attach run", slog.Any("error", err))
		h.redirectWithFlash(w, r, shared.FlashMessage{Kind: shared.FlashError, Message: msgScheduleFailed})
	}
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		entries []hostlog.Entry
		status  jobs.QueueStatus
		haveQ   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if h.log == nil {
			return nil
		}
		var err error
		entries, err = h.log.Recent(gctx, logLimit)
		return err
	})
	g.Go(func() error {
		if h.status == nil {
			return nil
		}
		s, err := h.status.QueueStatus(gctx)
		if err != nil {
			h.logger.Warn("load queue status", slog.Any("error", err))
			return nil
		}
		status, haveQ = s, true
		return nil
	})
	if err := g.Wait(); err != nil {
		h.logger.Error("load attach log", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	channel := hostlog.DefaultChannel
	if h.log != nil {
		channel = h.log.Channel()
	}
	data := map[string]any{
		"Channel": channel,
		"Entries": entries,
	}
	if haveQ {
		data["Queue"] = status
	}
	h.render(w, r, http.StatusOK, "pages/attach_log.html", logTitle, data)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(sess)
	var (
		flash *shared.FlashMessage
		user  string
	)
	if sess != nil {
		flash = sess.PopFlash()
		user = sess.User()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, name, view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        user,
		Data:        data,
	}); err != nil {
		h.logger.Error("render "+name, slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, flash shared.FlashMessage) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(flash)
	}
	http.Redirect(w, r, BasePath, http.StatusSeeOther)
}
