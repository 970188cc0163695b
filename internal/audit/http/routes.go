package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const rateLimit = 30
const rateWindow = time.Minute

// Guard wraps audit endpoints in a permission check.
type Guard func(http.Handler) http.Handler

// MountRoutes mendaftarkan endpoint baca jejak audit.
func (h *Handler) MountRoutes(r chi.Router, guard Guard) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		if guard != nil {
			gr.Use(guard)
		}
		gr.Get("/audit", h.handleList)
		gr.Get("/audit/report", h.handleReport)
		gr.Get("/audit/alerts", h.handleAlerts)
	})
}
