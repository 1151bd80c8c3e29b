package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(r http.Handler, path, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_PerIP(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 2, time.Minute)
	r := gin.New()
	r.Use(RateLimiter(limiter))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	assert.Equal(t, http.StatusOK, get(r, "/ping", "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, get(r, "/ping", "10.0.0.1").Code)
	w := get(r, "/ping", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// another client has its own bucket
	assert.Equal(t, http.StatusOK, get(r, "/ping", "10.0.0.2").Code)
	assert.Equal(t, 2, limiter.Clients())
}

func TestRateLimiter_ForgetsIdleClients(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1, 20*time.Millisecond)
	first := limiter.Limiter("10.0.0.1")
	assert.Same(t, first, limiter.Limiter("10.0.0.1"))

	time.Sleep(40 * time.Millisecond)
	assert.NotSame(t, first, limiter.Limiter("10.0.0.1"))
}

func TestResponseCache(t *testing.T) {
	rc := NewResponseCache(time.Minute)
	calls := 0
	r := gin.New()
	r.Use(rc.Middleware())
	r.GET("/api/monitors/:id", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "calls": calls})
	})
	r.GET("/missing", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	first := get(r, "/api/monitors/a", "10.0.0.1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("X-Cache"))

	second := get(r, "/api/monitors/a", "10.0.0.1")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	rc.Invalidate("/api/monitors/a")
	get(r, "/api/monitors/a", "10.0.0.1")
	assert.Equal(t, 2, calls)

	get(r, "/missing", "10.0.0.1")
	get(r, "/missing", "10.0.0.1")
	assert.Equal(t, 4, calls)
}
