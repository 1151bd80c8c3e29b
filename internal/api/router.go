package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/mw"
)

// NewRouter creates and configures the gin router of the control API. It
// installs the response cache that control actions invalidate.
func NewRouter(cfg config.ServerConfig, h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute)
	h.cache = mw.NewResponseCache(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	caching := h.cache.Middleware()

	api := r.Group("/api")
	api.Use(mw.RateLimiter(limiter))
	{
		api.GET("/monitors", h.ListMonitors)
		api.POST("/monitors/start", h.StartMonitor)
		api.POST("/monitors/:id/stop", h.StopMonitor)
		api.POST("/monitors/:id/pause", h.PauseMonitor)
		api.POST("/monitors/:id/resume", h.ResumeMonitor)
		api.GET("/monitors/:id", caching, h.GetMonitor)
		api.GET("/monitors/:id/slots", h.GetSlots)

		api.POST("/autofill/quick-book", h.QuickBook)
		api.POST("/notifications/test", h.TestNotification)

		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	// the event stream is long-lived and not rate limited
	r.GET("/api/events", h.StreamEvents)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}
