package ops

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wharfd/wharfd/internal/logger"
)

// newRouter creates the ops HTTP router with all routes and middleware configured.
func newRouter(store Checker, control Controller, gatherer prometheus.Gatherer) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	health := newHealthHandler(store, control)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.Get("/healthz", health.Liveness)
	router.Get("/readyz", health.Readiness)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if control != nil {
		admin := newAdminHandler(control)
		router.Route("/sessions", func(r chi.Router) {
			r.Get("/", admin.ListSessions)
			r.Delete("/{id}", admin.DisconnectSession)
		})
		router.Route("/listeners", func(r chi.Router) {
			r.Get("/{id}", admin.ListenerStatus)
			r.Post("/{id}/start", admin.StartListener)
			r.Post("/{id}/stop", admin.StopListener)
			r.Post("/{id}/restart", admin.RestartListener)
		})
	}

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusMovedPermanently)
	})

	return router
}

// requestLogger logs HTTP requests with structured logging.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())

		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		logger.Debug("http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"bytes", wrapped.BytesWritten(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}
