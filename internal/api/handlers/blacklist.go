package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/equitra/swingscan-go/internal/database"
	"github.com/equitra/swingscan-go/internal/middleware"
)

// BlacklistStore is the persistence surface behind the blacklist admin
// endpoints.
type BlacklistStore interface {
	AddInstrument(ctx context.Context, instrumentID, reason string, expiresAt *time.Time) (*database.InstrumentBlacklistEntry, error)
	RemoveInstrument(ctx context.Context, instrumentID string) error
	GetAllBlacklisted(ctx context.Context) ([]database.InstrumentBlacklistEntry, error)
}

// BlacklistRuntime is the in-run exclusion view the screener consults. The
// handlers keep it in step with the store so changes apply without a restart.
type BlacklistRuntime interface {
	Add(instrumentID, reason string, ttl time.Duration)
	Remove(instrumentID string)
}

// BlacklistHandler serves admin administration of the instrument blacklist.
type BlacklistHandler struct {
	store   BlacklistStore
	runtime BlacklistRuntime
}

func NewBlacklistHandler(store BlacklistStore, runtime BlacklistRuntime) *BlacklistHandler {
	return &BlacklistHandler{
		store:   store,
		runtime: runtime,
	}
}

// AddBlacklistRequest is the body of POST /blacklist.
type AddBlacklistRequest struct {
	InstrumentID string     `json:"instrument_id"`
	Reason       string     `json:"reason"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// ListBlacklist returns all active blacklist entries.
func (h *BlacklistHandler) ListBlacklist(c *gin.Context) {
	entries, err := h.store.GetAllBlacklisted(c.Request.Context())
	if err != nil {
		middleware.RecordError(c, err, "failed to list blacklist")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list blacklist",
			"message": err.Error(),
		})
		return
	}
	if entries == nil {
		entries = []database.InstrumentBlacklistEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// AddToBlacklist blacklists an instrument, optionally until expires_at.
func (h *BlacklistHandler) AddToBlacklist(c *gin.Context) {
	var req AddBlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.InstrumentID == "" || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id and reason are required"})
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		return
	}

	entry, err := h.store.AddInstrument(c.Request.Context(), req.InstrumentID, req.Reason, req.ExpiresAt)
	if err != nil {
		middleware.RecordError(c, err, "failed to add blacklist entry")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to add instrument to blacklist",
			"message": err.Error(),
		})
		return
	}

	if h.runtime != nil {
		var ttl time.Duration
		if entry.ExpiresAt != nil {
			ttl = time.Until(*entry.ExpiresAt)
		}
		h.runtime.Add(entry.InstrumentID, entry.Reason, ttl)
	}

	middleware.AddSpanAttribute(c, "blacklist.instrument_id", entry.InstrumentID)
	c.JSON(http.StatusCreated, entry)
}

// RemoveFromBlacklist lifts the blacklist for an instrument.
func (h *BlacklistHandler) RemoveFromBlacklist(c *gin.Context) {
	instrumentID := c.Param("instrument_id")
	if instrumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Instrument parameter is required"})
		return
	}

	if err := h.store.RemoveInstrument(c.Request.Context(), instrumentID); err != nil {
		if errors.Is(err, database.ErrBlacklistEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Instrument not blacklisted",
				"message": err.Error(),
			})
			return
		}
		middleware.RecordError(c, err, "failed to remove blacklist entry")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to remove instrument from blacklist",
			"message": err.Error(),
		})
		return
	}

	if h.runtime != nil {
		h.runtime.Remove(instrumentID)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Instrument removed from blacklist",
		"instrument_id": instrumentID,
	})
}
