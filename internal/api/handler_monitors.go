package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/monitor"
)

type startMonitorRequest struct {
	UserID        string             `json:"user_id" binding:"required"`
	ProfileID     string             `json:"profile_id" binding:"required"`
	Center        model.Center       `json:"center" binding:"required"`
	CheckInterval int                `json:"check_interval"`
	AutofillMode  model.AutofillMode `json:"autofill_mode"`
}

type monitorResponse struct {
	model.Monitor
	Running bool `json:"running"`
}

// StartMonitor reuses the user's active or paused monitor for the same
// profile and center, or creates one, then schedules it.
func (h *Handler) StartMonitor(c *gin.Context) {
	var req startMonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !req.Center.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown center"})
		return
	}
	if req.AutofillMode == "" {
		req.AutofillMode = model.AutofillManual
	}
	if !req.AutofillMode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown autofill mode"})
		return
	}

	ctx := c.Request.Context()
	profile, err := h.store.LoadProfile(ctx, req.ProfileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if profile.UserID != req.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "profile belongs to another user"})
		return
	}

	m, created, err := h.store.FindOrCreateMonitor(ctx, &model.Monitor{
		UserID:        req.UserID,
		ProfileID:     req.ProfileID,
		Center:        req.Center,
		CheckInterval: h.policy.ClampInterval(req.CheckInterval),
		AutofillMode:  req.AutofillMode,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.scheduler.Start(ctx, m.ID); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(m.ID)

	h.logger.Info("monitoring started",
		zap.String("monitor_id", m.ID), zap.String("center", string(m.Center)), zap.Bool("created", created))
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, monitorResponse{Monitor: *m, Running: h.scheduler.Running(m.ID)})
}

// transition loads the monitor named in the path and checks that it may move to status.
func (h *Handler) transition(c *gin.Context, to model.MonitorStatus) (*model.Monitor, bool) {
	m, err := h.store.LoadMonitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if err := monitor.ValidateTransition(m.Status, to); err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return m, true
}

// StopMonitor tears the job down and marks the monitor stopped.
func (h *Handler) StopMonitor(c *gin.Context) {
	m, ok := h.transition(c, model.StatusStopped)
	if !ok {
		return
	}
	if err := h.scheduler.Stop(c.Request.Context(), m.ID); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(m.ID)
	c.JSON(http.StatusOK, gin.H{"id": m.ID, "status": model.StatusStopped})
}

// PauseMonitor stops checking without stopping the monitor.
func (h *Handler) PauseMonitor(c *gin.Context) {
	m, ok := h.transition(c, model.StatusPaused)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.scheduler.Pause(ctx, m.ID); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.store.UpdateMonitor(ctx, m.ID, map[string]any{
		"status":     model.StatusPaused,
		"next_check": nil,
	}); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(m.ID)
	c.JSON(http.StatusOK, gin.H{"id": m.ID, "status": model.StatusPaused})
}

// ResumeMonitor reactivates a paused, stopped or failed monitor. The failure
// counter restarts from zero.
func (h *Handler) ResumeMonitor(c *gin.Context) {
	m, ok := h.transition(c, model.StatusActive)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.UpdateMonitor(ctx, m.ID, map[string]any{
		"status":      model.StatusActive,
		"error_count": 0,
	}); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.scheduler.Resume(ctx, m.ID); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(m.ID)
	c.JSON(http.StatusOK, gin.H{"id": m.ID, "status": model.StatusActive})
}

// GetMonitor returns the persisted monitor and whether a job is live.
func (h *Handler) GetMonitor(c *gin.Context) {
	m, err := h.store.LoadMonitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, monitorResponse{Monitor: *m, Running: h.scheduler.Running(m.ID)})
}

// ListMonitors returns a user's monitors, newest first.
func (h *Handler) ListMonitors(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	monitors, err := h.store.ListMonitorsByUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]monitorResponse, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, monitorResponse{Monitor: m, Running: h.scheduler.Running(m.ID)})
	}
	c.JSON(http.StatusOK, gin.H{"monitors": out})
}

// GetSlots lists the slots discovered by a monitor.
func (h *Handler) GetSlots(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.store.LoadMonitor(ctx, id); err != nil {
		h.respondError(c, err)
		return
	}
	slots, err := h.store.ListSlots(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}
