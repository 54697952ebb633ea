package attachhttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/wc-attach-images/wc-attach-images/internal/auth"
	"github.com/wc-attach-images/wc-attach-images/internal/shared"
)

// BasePath is where the admin tool is mounted.
const BasePath = "/tools/attach-images"

// MountRoutes registers the attach admin pages onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(6, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Route(BasePath, func(r chi.Router) {
		r.Use(auth.RequireUser)
		r.Get("/", h.handlePage)
		r.Get("/log", h.handleLog)
		r.With(limiter).Post("/", h.handleTrigger)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if user := strings.TrimSpace(shared.UserFromContext(r.Context())); user != "" {
		return "user:" + user, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
