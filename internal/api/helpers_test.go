package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/platform/memory"
	"github.com/phrazzld/scry-jobs/internal/realtime"
	"github.com/phrazzld/scry-jobs/internal/service"
	"github.com/phrazzld/scry-jobs/internal/service/auth"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/phrazzld/scry-jobs/internal/task"
	"github.com/stretchr/testify/require"
)

// testEnv is a router wired to in-memory backends. The runner is never
// started, so submitted jobs stay queued.
type testEnv struct {
	server        *httptest.Server
	jobs          store.JobStore
	notifications store.NotificationStore
	registry      *realtime.Registry
	bus           *events.MemoryBus
	jwt           auth.JWTService
}

func newTestEnv(t *testing.T, serverCfg config.ServerConfig) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobs := store.NewJobLifecycle(memory.NewJobStore())
	notifications := memory.NewNotificationStore()
	bus := events.NewMemoryBus(16, logger)
	registry := realtime.NewRegistry(logger)

	handlers := task.NewRegistry()
	handlers.Register("echo", task.HandlerFunc(
		func(ctx context.Context, job *domain.Job, p task.Progress) (json.RawMessage, error) {
			return job.Request, nil
		}))
	runner, err := task.NewRunner(jobs, handlers, bus, task.DefaultRunnerConfig(), logger)
	require.NoError(t, err)

	jobService, err := service.NewJobService(jobs, runner, bus, logger)
	require.NoError(t, err)
	notificationService, err := service.NewNotificationService(notifications, logger)
	require.NoError(t, err)
	jwtService, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            "test-jwt-secret-that-is-32-chars-long",
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)

	router := NewRouter(RouterDeps{
		Jobs:          jobService,
		Notifications: notificationService,
		Registry:      registry,
		JWT:           jwtService,
		Server:        serverCfg,
		Realtime:      config.RealtimeConfig{SendBuffer: 8, PingInterval: time.Minute},
		Logger:        logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
	})

	return &testEnv{
		server:        server,
		jobs:          jobs,
		notifications: notifications,
		registry:      registry,
		bus:           bus,
		jwt:           jwtService,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.jwt.GenerateToken(context.Background(), userID)
	require.NoError(t, err)
	return token
}

// do sends a request as userID (no auth header when userID is empty) and
// decodes the JSON response into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, userID string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}
