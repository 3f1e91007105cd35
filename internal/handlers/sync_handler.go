package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/services"
)

// SyncHandler handles the sync control surface
type SyncHandler struct {
	service *services.SyncService
	config  *config.Config
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service *services.SyncService, cfg *config.Config) *SyncHandler {
	return &SyncHandler{
		service: service,
		config:  cfg,
	}
}

// StartSyncRequest is the body of POST /sync/start
type StartSyncRequest struct {
	services.StartRequest
	AutoContinue *bool `json:"auto_continue"`
}

// ContinueSyncRequest is the body of POST /sync/sessions/:id/continue
type ContinueSyncRequest struct {
	AutoContinue *bool `json:"auto_continue"`
}

// Start creates or resumes a sync session
func (h *SyncHandler) Start(c *gin.Context) {
	var req StartSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.service.Start(c.Request.Context(), req.StartRequest)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.autoContinue(req.AutoContinue) && result.HasMore {
		result, err = h.service.RunBatches(c.Request.Context(), result.Session.ID, h.config.SyncTimeBudget)
		if err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, result)
}

// Continue advances a session by one batch, or until the time budget is
// spent when auto-continue is on
func (h *SyncHandler) Continue(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	var req ContinueSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var (
		result *services.SyncResult
		err    error
	)
	if h.autoContinue(req.AutoContinue) {
		result, err = h.service.RunBatches(c.Request.Context(), id, h.config.SyncTimeBudget)
	} else {
		result, err = h.service.Continue(c.Request.Context(), id)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetSession returns a read-only view of one session
func (h *SyncHandler) GetSession(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	result, err := h.service.GetStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStatus returns the active session or state "none"
func (h *SyncHandler) GetStatus(c *gin.Context) {
	result, err := h.service.GetActiveStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListSessions returns recent sessions
func (h *SyncHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, total, err := h.service.ListSessions(c.Request.Context(), repository.SessionListOptions{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  sessions,
		"total": total,
	})
}

// GetSessionLogs returns the persisted logs of a session
func (h *SyncHandler) GetSessionLogs(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, err := h.service.GetSessionLogs(c.Request.Context(), id, repository.LogListOptions{
		Level:  c.Query("level"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// KillSession deletes one session
func (h *SyncHandler) KillSession(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	if err := h.service.Kill(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session killed", "killed": []uuid.UUID{id}})
}

// KillAll deletes every active session
func (h *SyncHandler) KillAll(c *gin.Context) {
	ids, err := h.service.KillAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, gin.H{"message": "active sessions killed", "killed": ids})
}

// CollectStale deletes sessions that have not advanced for older_than
// (a Go duration, defaulting to the configured stale age)
func (h *SyncHandler) CollectStale(c *gin.Context) {
	olderThan := h.config.SyncStaleAfter
	if raw := c.Query("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid older_than"})
			return
		}
		olderThan = parsed
	}

	ids, err := h.service.CollectStale(c.Request.Context(), olderThan)
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, gin.H{"collected": ids, "older_than": olderThan.String()})
}

// GetStats returns session statistics
func (h *SyncHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *SyncHandler) autoContinue(requested *bool) bool {
	if requested != nil {
		return *requested
	}
	return h.config.SyncAutoContinue
}

func parseSessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps service errors to status codes with a structured body
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, repository.ErrMappingNotFound):
		status, code = http.StatusNotFound, "mapping_not_found"
	case errors.Is(err, services.ErrSessionBusy):
		status, code = http.StatusConflict, "session_busy"
	case errors.Is(err, services.ErrStartInProgress):
		status, code = http.StatusConflict, "start_in_progress"
	case errors.Is(err, repository.ErrMappingVersionConflict):
		status, code = http.StatusConflict, "version_conflict"
	case errors.Is(err, services.ErrConfiguration):
		status, code = http.StatusUnprocessableEntity, "configuration_error"
	case errors.Is(err, services.ErrInvalidMapping):
		status, code = http.StatusUnprocessableEntity, "invalid_mapping"
	}

	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
