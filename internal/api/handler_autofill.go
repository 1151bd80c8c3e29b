package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/scheduler"
	"visa-slot-monitor/internal/store"
)

type quickBookRequest struct {
	UserID    string             `json:"user_id" binding:"required"`
	ProfileID string             `json:"profile_id" binding:"required"`
	SlotID    string             `json:"slot_id"`
	Mode      model.AutofillMode `json:"mode"`
}

// QuickBook fills the booking form for one of the user's profiles, optionally
// pinned to a slot one of their monitors found.
func (h *Handler) QuickBook(c *gin.Context) {
	var req quickBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Mode == "" {
		req.Mode = model.AutofillSemi
	}
	if req.Mode != model.AutofillSemi && req.Mode != model.AutofillFull {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be semi or full"})
		return
	}

	ctx := c.Request.Context()
	profile, err := h.store.LoadProfile(ctx, req.ProfileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if profile.UserID != req.UserID || !profile.IsActive {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	var slot *model.Slot
	if req.SlotID != "" {
		if slot, err = h.ownedSlot(c, req.UserID, req.SlotID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "slot not found"})
			} else {
				h.respondError(c, err)
			}
			return
		}
		if slot.Status != model.SlotAvailable {
			c.JSON(http.StatusConflict, gin.H{"error": "slot is no longer available"})
			return
		}
	}

	b, err := h.scheduler.Book(ctx, scheduler.BookingRequest{Profile: profile, Slot: slot, Mode: req.Mode})
	switch {
	case errors.Is(err, scheduler.ErrNothingToBook):
		c.JSON(http.StatusConflict, gin.H{"error": "no slot available to book"})
		return
	case err != nil:
		h.logger.Warn("quick book failed", zap.String("profile_id", profile.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "booking page could not be filled"})
		return
	}
	if slot != nil {
		h.invalidate(slot.MonitorID)
	}

	message := "Form filled. Complete the booking in the opened page."
	if req.Mode == model.AutofillFull {
		message = "Form filled and submitted."
	}
	if !b.Outcome.SlotSelected {
		message = "Form filled but the slot could not be selected."
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       b.Outcome.SlotSelected,
		"message":       message,
		"url":           b.URL,
		"mode":          req.Mode,
		"status":        b.Status,
		"submitted":     b.Outcome.Submitted,
		"filled_fields": b.Outcome.FilledFields,
	})
}

// ownedSlot loads a slot whose monitor belongs to userID. Slots of other users
// read as not found.
func (h *Handler) ownedSlot(c *gin.Context, userID, slotID string) (*model.Slot, error) {
	ctx := c.Request.Context()
	slot, err := h.store.LoadSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	m, err := h.store.LoadMonitor(ctx, slot.MonitorID)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID {
		return nil, store.ErrNotFound
	}
	return slot, nil
}
