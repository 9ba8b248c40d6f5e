package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/scry-jobs/internal/api/middleware"
	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/realtime"
	"github.com/phrazzld/scry-jobs/internal/service"
	"github.com/phrazzld/scry-jobs/internal/service/auth"
)

// RouterDeps are the collaborators the HTTP routes need.
type RouterDeps struct {
	Jobs          service.JobService
	Notifications service.NotificationService
	Registry      *realtime.Registry
	JWT           auth.JWTService
	Server        config.ServerConfig
	Realtime      config.RealtimeConfig
	Logger        *slog.Logger
}

// NewRouter builds the application router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(deps.Logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.JWT)
	throttle := apiMiddleware.NewThrottle(deps.Server.SubmitRatePerMinute, deps.Server.SubmitBurst)

	jobHandler := NewJobHandler(deps.Jobs, deps.Logger)
	notificationHandler := NewNotificationHandler(deps.Notifications, deps.Logger)
	realtimeHandler := NewRealtimeHandler(deps.Registry, deps.Realtime, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		// browsers cannot set headers on WebSocket upgrades
		r.With(authMiddleware.WithQueryToken().Authenticate).
			Get("/notifications/ws", realtimeHandler.Connect)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.With(throttle.Limit).Post("/jobs", jobHandler.CreateJob)
			r.Get("/jobs", jobHandler.ListJobs)
			r.Get("/jobs/{id}", jobHandler.GetJob)
			r.Post("/jobs/{id}/cancel", jobHandler.CancelJob)

			r.Get("/notifications", notificationHandler.List)
			r.Get("/notifications/unread-count", notificationHandler.UnreadCount)
			r.Post("/notifications/read-all", notificationHandler.MarkAllRead)
			r.Post("/notifications/{id}/read", notificationHandler.MarkRead)
			r.Delete("/notifications/{id}", notificationHandler.Delete)

			r.Get("/status/connections", realtimeHandler.Status)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			deps.Logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
