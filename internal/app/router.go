package app

import (
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	attachhttp "github.com/wc-attach-images/wc-attach-images/internal/attach/http"
	"github.com/wc-attach-images/wc-attach-images/internal/auth"
	"github.com/wc-attach-images/wc-attach-images/internal/observability"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/httpx"
	"github.com/wc-attach-images/wc-attach-images/internal/shared"
	"github.com/wc-attach-images/wc-attach-images/jobs"
	"github.com/wc-attach-images/wc-attach-images/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	AuthHandler    *auth.Handler
	AttachHandler  *attachhttp.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router for the admin server.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, attachhttp.BasePath, http.StatusSeeOther)
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.AttachHandler != nil {
		params.AttachHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(auth.RequireUser)
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	registerStaticMimeTypes(params.Logger)
	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

var staticMimeOnce sync.Once

// registerStaticMimeTypes makes sure stylesheets are served as text/css on hosts whose
// mime tables lack the extension.
func registerStaticMimeTypes(logger *slog.Logger) {
	staticMimeOnce.Do(func() {
		for ext, typ := range map[string]string{
			".css": "text/css; charset=utf-8",
			".svg": "image/svg+xml",
		} {
			if mime.TypeByExtension(ext) != "" {
				continue
			}
			if err := mime.AddExtensionType(ext, typ); err != nil && logger != nil {
				logger.Warn("register mime type", slog.String("ext", ext), slog.Any("error", err))
			}
		}
	})
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for 1 hour in browser.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
