package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"visa-slot-monitor/internal/events"
	"visa-slot-monitor/internal/monitor"
	"visa-slot-monitor/internal/mw"
	"visa-slot-monitor/internal/scheduler"
	"visa-slot-monitor/internal/store"
)

// Controller is the scheduler surface the API drives.
type Controller interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Running(id string) bool
	Book(ctx context.Context, req scheduler.BookingRequest) (*scheduler.Booking, error)
}

// Tester sends a one-off notification through a single channel.
type Tester interface {
	SendTest(ctx context.Context, userID, channel, dest string) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	scheduler Controller
	bus       *events.Bus
	tester    Tester
	cache     *mw.ResponseCache
	policy    monitor.Policy
	vapidKey  string
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, sched Controller, bus *events.Bus, tester Tester, policy monitor.Policy, vapidPublicKey string, logger *zap.Logger) *Handler {
	return &Handler{
		store:     s,
		scheduler: sched,
		bus:       bus,
		tester:    tester,
		policy:    policy,
		vapidKey:  vapidPublicKey,
		logger:    logger,
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, monitor.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) invalidate(monitorID string) {
	if h.cache != nil {
		h.cache.Invalidate("/api/monitors/" + monitorID)
	}
}
