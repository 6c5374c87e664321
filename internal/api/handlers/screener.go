package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/equitra/swingscan-go/internal/cache"
	"github.com/equitra/swingscan-go/internal/middleware"
	"github.com/equitra/swingscan-go/internal/models"
)

// ScanStore is the persisted-run read surface behind the screener endpoints.
type ScanStore interface {
	LatestScan(ctx context.Context) (*models.ScanSummary, *models.SelectionResult, error)
	ScanHistory(ctx context.Context, limit int) ([]models.ScanSummary, error)
}

// ScanCache fronts ScanStore with the hot copy of the latest run.
type ScanCache interface {
	Get(scope string) (*cache.ScanCacheEntry, bool)
	Set(scope string, summary models.ScanSummary, result *models.SelectionResult)
}

// ScanRunner triggers screening runs and reports their progress.
type ScanRunner interface {
	RunScan(ctx context.Context) (*models.ScanSummary, *models.SelectionResult, error)
	GetStatus() (running bool, lastRun time.Time, lastRunID string)
}

const (
	latestScanScope = "latest"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// validLeaderboards are the indicator views SelectionEngine ranks.
var validLeaderboards = map[models.IndicatorName]bool{
	models.IndicatorRSI:       true,
	models.IndicatorDisparity: true,
	models.IndicatorVolume:    true,
	models.IndicatorReturn5d:  true,
	models.IndicatorRebound:   true,
	models.IndicatorPBR:       true,
}

// validProfiles are the investor-profile groupings SelectionEngine builds.
var validProfiles = map[models.ProfileName]bool{
	models.ProfileConservative: true,
	models.ProfileBalanced:     true,
	models.ProfileAggressive:   true,
}

// ScreenerHandler serves the read side of completed screening runs and the
// admin trigger for on-demand ones.
type ScreenerHandler struct {
	store  ScanStore
	cache  ScanCache
	runner ScanRunner
}

func NewScreenerHandler(store ScanStore, scanCache ScanCache, runner ScanRunner) *ScreenerHandler {
	return &ScreenerHandler{
		store:  store,
		cache:  scanCache,
		runner: runner,
	}
}

// ScanRunResponse pairs a run summary with its selection output.
type ScanRunResponse struct {
	Summary models.ScanSummary      `json:"summary"`
	Result  *models.SelectionResult `json:"result"`
}

// LeaderboardResponse is one per-indicator ranking from the latest run.
type LeaderboardResponse struct {
	RunID     string               `json:"run_id"`
	Indicator models.IndicatorName `json:"indicator"`
	Entries   []models.Candidate   `json:"entries"`
}

// ProfileResponse is one investor-profile grouping from the latest run.
type ProfileResponse struct {
	RunID   string             `json:"run_id"`
	Profile models.ProfileName `json:"profile"`
	Entries []models.Candidate `json:"entries"`
}

// ScanStatusResponse reports whether a run is in flight and which run
// completed last.
type ScanStatusResponse struct {
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run"`
	LastRunID string    `json:"last_run_id,omitempty"`
}

// latestRun resolves the most recent completed run, reading through the
// cache and backfilling it on a miss. It writes the error response itself
// and returns false when no run can be served.
func (h *ScreenerHandler) latestRun(c *gin.Context) (*ScanRunResponse, bool) {
	if h.cache != nil {
		if entry, ok := h.cache.Get(latestScanScope); ok {
			return &ScanRunResponse{Summary: entry.Summary, Result: entry.Result}, true
		}
	}

	ctx, span := middleware.StartSpan(c, "scan_store.latest")
	summary, result, err := h.store.LatestScan(ctx)
	span.End()
	if err != nil {
		middleware.RecordError(c, err, "failed to load latest scan")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load latest scan",
			"message": err.Error(),
		})
		return nil, false
	}
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No completed scan available"})
		return nil, false
	}

	if h.cache != nil {
		h.cache.Set(latestScanScope, *summary, result)
	}

	return &ScanRunResponse{Summary: *summary, Result: result}, true
}

// GetLatestScan returns the full output of the most recent completed run.
func (h *ScreenerHandler) GetLatestScan(c *gin.Context) {
	run, ok := h.latestRun(c)
	if !ok {
		return
	}

	middleware.AddSpanAttribute(c, "scan.run_id", run.Summary.RunID)
	c.JSON(http.StatusOK, run)
}

// GetLeaderboard returns one per-indicator ranking from the latest run.
func (h *ScreenerHandler) GetLeaderboard(c *gin.Context) {
	indicator := models.IndicatorName(c.Param("indicator"))
	if !validLeaderboards[indicator] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Unknown indicator",
			"message": "indicator must be one of: rsi, disparity, volume_ratio, return_5d, rebound, pbr",
		})
		return
	}

	run, ok := h.latestRun(c)
	if !ok {
		return
	}

	var entries []models.Candidate
	if run.Result != nil {
		entries = run.Result.Leaderboards[indicator]
	}
	if entries == nil {
		entries = []models.Candidate{}
	}

	middleware.AddSpanAttribute(c, "scan.run_id", run.Summary.RunID)
	c.JSON(http.StatusOK, LeaderboardResponse{
		RunID:     run.Summary.RunID,
		Indicator: indicator,
		Entries:   entries,
	})
}

// GetProfile returns one investor-profile grouping from the latest run.
func (h *ScreenerHandler) GetProfile(c *gin.Context) {
	profile := models.ProfileName(c.Param("profile"))
	if !validProfiles[profile] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Unknown profile",
			"message": "profile must be one of: conservative, balanced, aggressive",
		})
		return
	}

	run, ok := h.latestRun(c)
	if !ok {
		return
	}

	var entries []models.Candidate
	if run.Result != nil {
		entries = run.Result.ProfileGroups[profile]
	}
	if entries == nil {
		entries = []models.Candidate{}
	}

	middleware.AddSpanAttribute(c, "scan.run_id", run.Summary.RunID)
	c.JSON(http.StatusOK, ProfileResponse{
		RunID:   run.Summary.RunID,
		Profile: profile,
		Entries: entries,
	})
}

// GetScanHistory returns summaries of recent runs, newest first.
func (h *ScreenerHandler) GetScanHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= maxHistoryLimit {
			limit = parsed
		}
	}

	ctx, span := middleware.StartSpan(c, "scan_store.history")
	summaries, err := h.store.ScanHistory(ctx, limit)
	span.End()
	if err != nil {
		middleware.RecordError(c, err, "failed to load scan history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load scan history",
			"message": err.Error(),
		})
		return
	}
	if summaries == nil {
		summaries = []models.ScanSummary{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(summaries),
		"runs":  summaries,
	})
}

// GetScanStatus reports whether a run is currently in flight.
func (h *ScreenerHandler) GetScanStatus(c *gin.Context) {
	running, lastRun, lastRunID := h.runner.GetStatus()
	c.JSON(http.StatusOK, ScanStatusResponse{
		Running:   running,
		LastRun:   lastRun,
		LastRunID: lastRunID,
	})
}

// TriggerScan starts an on-demand screening run in the background. Poll
// GET /screener/status for completion; the screener itself refuses
// overlapping runs.
func (h *ScreenerHandler) TriggerScan(c *gin.Context) {
	if running, _, _ := h.runner.GetStatus(); running {
		c.JSON(http.StatusConflict, gin.H{"error": "Scan already in progress"})
		return
	}

	go func() {
		if _, _, err := h.runner.RunScan(context.Background()); err != nil {
			log.Printf("On-demand scan failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Scan started"})
}
