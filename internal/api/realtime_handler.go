package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/scry-jobs/internal/api/shared"
	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/realtime"
)

// ConnectionStatusResponse describes the live notification connections.
type ConnectionStatusResponse struct {
	ActiveUsers      []string       `json:"activeUsers"`
	TotalConnections int            `json:"totalConnections"`
	UserConnections  map[string]int `json:"userConnections"`
}

// RealtimeHandler upgrades notification WebSockets and reports registry state.
type RealtimeHandler struct {
	registry *realtime.Registry
	config   config.RealtimeConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewRealtimeHandler creates a RealtimeHandler. An empty AllowedOrigins
// list accepts any origin.
func NewRealtimeHandler(registry *realtime.Registry, cfg config.RealtimeConfig, logger *slog.Logger) *RealtimeHandler {
	h := &RealtimeHandler{
		registry: registry,
		config:   cfg,
		logger:   logger.With("component", "realtime_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Connect handles GET /api/notifications/ws. The connection is registered
// for the authenticated user until the client disconnects.
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	logger := h.logger.With("user_id", userID, "remote_addr", r.RemoteAddr)
	ch := realtime.NewWSChannel(conn, h.config.SendBuffer, h.config.PingInterval, logger)
	h.registry.Register(userID, ch)
	defer func() {
		h.registry.Unregister(userID, ch)
		_ = ch.Close()
	}()

	ch.Serve(r.Context())
}

// Status handles GET /api/status/connections.
func (h *RealtimeHandler) Status(w http.ResponseWriter, r *http.Request) {
	users := h.registry.ActiveUsers()
	perUser := make(map[string]int, len(users))
	for _, u := range users {
		perUser[u] = h.registry.ConnectionCount(u)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ConnectionStatusResponse{
		ActiveUsers:      users,
		TotalConnections: h.registry.TotalConnections(),
		UserConnections:  perUser,
	})
}

func (h *RealtimeHandler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(h.config.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host)
	})
}
