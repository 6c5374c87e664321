package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equitra/swingscan-go/internal/api/handlers"
	"github.com/equitra/swingscan-go/internal/cache"
	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/database"
	"github.com/equitra/swingscan-go/internal/models"
	"github.com/equitra/swingscan-go/internal/services"
	"github.com/equitra/swingscan-go/internal/telemetry"
)

type stubScanStore struct {
	summary *models.ScanSummary
	result  *models.SelectionResult
	history []models.ScanSummary
	err     error
}

func (s *stubScanStore) LatestScan(ctx context.Context) (*models.ScanSummary, *models.SelectionResult, error) {
	return s.summary, s.result, s.err
}

func (s *stubScanStore) ScanHistory(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.history) {
		return s.history[:limit], nil
	}
	return s.history, nil
}

type stubScanRunner struct {
	running bool
	started chan struct{}
}

func (s *stubScanRunner) RunScan(ctx context.Context) (*models.ScanSummary, *models.SelectionResult, error) {
	if s.started != nil {
		close(s.started)
	}
	return nil, nil, nil
}

func (s *stubScanRunner) GetStatus() (bool, time.Time, string) {
	return s.running, time.Time{}, ""
}

type stubBlacklistStore struct {
	entries   []database.InstrumentBlacklistEntry
	removeErr error
}

func (s *stubBlacklistStore) AddInstrument(ctx context.Context, instrumentID, reason string, expiresAt *time.Time) (*database.InstrumentBlacklistEntry, error) {
	entry := database.InstrumentBlacklistEntry{
		ID:           int64(len(s.entries) + 1),
		InstrumentID: instrumentID,
		Reason:       reason,
		CreatedAt:    time.Now(),
		ExpiresAt:    expiresAt,
	}
	s.entries = append(s.entries, entry)
	return &entry, nil
}

func (s *stubBlacklistStore) RemoveInstrument(ctx context.Context, instrumentID string) error {
	return s.removeErr
}

func (s *stubBlacklistStore) GetAllBlacklisted(ctx context.Context) ([]database.InstrumentBlacklistEntry, error) {
	return s.entries, nil
}

func testRouterConfig() *config.Config {
	return &config.Config{
		Admin: config.AdminConfig{APIKey: "test-admin-key"},
		Telemetry: config.TelemetryConfig{
			ServiceName:    "swingscan-test",
			ServiceVersion: "test",
		},
	}
}

// setupTestRouter wires the full route table with stub backends and no
// database or Redis connection.
func setupTestRouter(t *testing.T, store handlers.ScanStore, runner handlers.ScanRunner, blacklistStore handlers.BlacklistStore, runtime handlers.BlacklistRuntime) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	telemetryConfig := telemetry.DefaultConfig()
	telemetryConfig.Enabled = false
	require.NoError(t, telemetry.InitTelemetry(*telemetryConfig))

	router := gin.New()
	notifier := services.NewNotificationService(config.TelegramConfig{})
	SetupRoutes(router, testRouterConfig(), nil, nil, store, nil, runner, blacklistStore, runtime, nil, notifier)
	return router
}

func TestSetupRoutes_RegistersRouteTable(t *testing.T) {
	router := setupTestRouter(t, &stubScanStore{}, &stubScanRunner{}, &stubBlacklistStore{}, cache.NewInMemoryBlacklistCache())

	registered := make(map[string]bool)
	for _, route := range router.Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	expected := []string{
		"GET /health",
		"HEAD /health",
		"GET /ready",
		"GET /live",
		"GET /api/v1/screener/latest",
		"GET /api/v1/screener/history",
		"GET /api/v1/screener/status",
		"GET /api/v1/screener/leaderboards/:indicator",
		"GET /api/v1/screener/profiles/:profile",
		"POST /api/v1/screener/scan",
		"GET /api/v1/blacklist",
		"POST /api/v1/blacklist",
		"DELETE /api/v1/blacklist/:instrument_id",
		"GET /api/v1/admin/cache-stats",
	}
	for _, route := range expected {
		assert.True(t, registered[route], "route %s should be registered", route)
	}
}

func TestSetupRoutes_ProbeEndpoints(t *testing.T) {
	router := setupTestRouter(t, &stubScanStore{}, &stubScanRunner{}, &stubBlacklistStore{}, cache.NewInMemoryBlacklistCache())

	t.Run("health degrades without backends", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "not configured")
	})

	t.Run("readiness degrades without a database", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("liveness always succeeds", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/live", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "alive")
	})
}

func TestSetupRoutes_ScreenerEndpoints(t *testing.T) {
	store := &stubScanStore{
		summary: &models.ScanSummary{RunID: "run-42", Scored: 2380},
		result: &models.SelectionResult{
			TopN: []models.Candidate{{InstrumentID: "005930"}},
		},
		history: []models.ScanSummary{{RunID: "run-42"}, {RunID: "run-41"}},
	}
	router := setupTestRouter(t, store, &stubScanRunner{}, &stubBlacklistStore{}, cache.NewInMemoryBlacklistCache())

	t.Run("latest scan served from the store", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/screener/latest", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "run-42")
	})

	t.Run("history", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/screener/history", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":2`)
	})

	t.Run("status", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/screener/status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"running":false`)
	})

	t.Run("unknown leaderboard indicator rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/screener/leaderboards/sma", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSetupRoutes_AdminGate(t *testing.T) {
	t.Run("scan trigger requires the admin key", func(t *testing.T) {
		router := setupTestRouter(t, &stubScanStore{}, &stubScanRunner{}, &stubBlacklistStore{}, cache.NewInMemoryBlacklistCache())

		req := httptest.NewRequest("POST", "/api/v1/screener/scan", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("scan trigger accepted with the admin key", func(t *testing.T) {
		runner := &stubScanRunner{started: make(chan struct{})}
		router := setupTestRouter(t, &stubScanStore{}, runner, &stubBlacklistStore{}, cache.NewInMemoryBlacklistCache())

		req := httptest.NewRequest("POST", "/api/v1/screener/scan", nil)
		req.Header.Set("Authorization", "Bearer test-admin-key")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatal("background scan never started")
		}
	})

	t.Run("blacklist group requires the admin key", func(t *testing.T) {
		router := setupTestRouter(t, &stubScanStore{}, &stubScanRunner{}, &stubBlacklistStore{}, cache.NewInMemoryBlacklistCache())

		req := httptest.NewRequest("GET", "/api/v1/blacklist", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		req = httptest.NewRequest("GET", "/api/v1/blacklist", nil)
		req.Header.Set("X-API-Key", "test-admin-key")
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cache stats require the admin key and degrade unconfigured", func(t *testing.T) {
		router := setupTestRouter(t, &stubScanStore{}, &stubScanRunner{}, &stubBlacklistStore{}, cache.NewInMemoryBlacklistCache())

		req := httptest.NewRequest("GET", "/api/v1/admin/cache-stats", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// Authorized, but no analytics service was wired in this router.
		req = httptest.NewRequest("GET", "/api/v1/admin/cache-stats", nil)
		req.Header.Set("X-API-Key", "test-admin-key")
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "Cache analytics not configured")
	})
}

func TestSetupRoutes_BlacklistLifecycle(t *testing.T) {
	runtime := cache.NewInMemoryBlacklistCache()
	router := setupTestRouter(t, &stubScanStore{}, &stubScanRunner{}, &stubBlacklistStore{}, runtime)

	addBody := bytes.NewBufferString(`{"instrument_id": "068270", "reason": "disclosure halt"}`)
	req := httptest.NewRequest("POST", "/api/v1/blacklist", addBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "test-admin-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	blacklisted, reason := runtime.IsBlacklisted("068270")
	assert.True(t, blacklisted)
	assert.Equal(t, "disclosure halt", reason)

	req = httptest.NewRequest("DELETE", "/api/v1/blacklist/068270", nil)
	req.Header.Set("X-API-Key", "test-admin-key")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	blacklisted, _ = runtime.IsBlacklisted("068270")
	assert.False(t, blacklisted)
}
