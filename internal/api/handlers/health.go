package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/equitra/swingscan-go/internal/services"
)

var startTime = time.Now()

// DependencyChecker is any backing connection that can verify itself.
// Both the database pool and the Redis client satisfy it.
type DependencyChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports the health of the service and its dependencies.
type HealthHandler struct {
	db       DependencyChecker
	redis    DependencyChecker
	notifier *services.NotificationService
	version  string
}

// HealthResponse is the body of the /health endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

func NewHealthHandler(db, redis DependencyChecker, notifier *services.NotificationService, version string) *HealthHandler {
	return &HealthHandler{
		db:       db,
		redis:    redis,
		notifier: notifier,
		version:  version,
	}
}

// probe turns one dependency's state into a status line for the health body.
func probe(ctx context.Context, dep DependencyChecker) (string, bool) {
	if dep == nil {
		return "unhealthy: not configured", false
	}
	if err := dep.HealthCheck(ctx); err != nil {
		return "unhealthy: " + err.Error(), false
	}
	return "healthy", true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// HealthCheck reports per-dependency status. Database and Redis failures
// degrade the service to 503; a disabled notifier is reported as such but
// keeps the service healthy because notifications are optional.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus, dbOK := probe(ctx, h.db)
	redisStatus, redisOK := probe(ctx, h.redis)

	statuses := map[string]string{
		"database": dbStatus,
		"redis":    redisStatus,
	}
	if h.notifier != nil && h.notifier.Enabled() {
		statuses["telegram"] = "healthy"
	} else {
		statuses["telegram"] = "disabled"
	}

	status, code := "healthy", http.StatusOK
	if !dbOK || !redisOK {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  statuses,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	})
}

// ReadinessCheck for Kubernetes-style deployments. The service cannot serve
// scan reads without the database, so readiness requires it.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	_, ready := probe(r.Context(), h.db)

	dbStatus := "ready"
	code := http.StatusOK
	if !ready {
		dbStatus = "not ready"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"ready":    ready,
		"services": map[string]string{"database": dbStatus},
	})
}

// LivenessCheck for container restarts. It only confirms the process is
// responsive.
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
