package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yueye109/chatvault/internal/assets"
	"github.com/yueye109/chatvault/internal/logger"
)

// NewRouter builds the HTTP surface.
func NewRouter(h *Handler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware(log))
	r.Use(metricsMiddleware)

	r.Post("/api/groups", h.Groups)
	r.Post("/api/messages", h.Messages)
	r.Get("/media/image/{hash}", h.Media(assets.KindImage))
	r.Get("/media/video/{hash}", h.Media(assets.KindVideo))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
