package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomsignal/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func serve(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

func limitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestHTTPRateLimitMiddleware_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := limitedRouter(cfg)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(router, "192.0.2.1:1000").Code)
	}
}

func TestHTTPRateLimitMiddleware_PerClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	router := limitedRouter(cfg)

	assert.Equal(t, http.StatusOK, serve(router, "192.0.2.1:1000").Code)

	limited := serve(router, "192.0.2.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), `"code":"RATE_LIMITED"`)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(router, "192.0.2.2:1000").Code, "other clients are unaffected")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:5555"
	assert.Equal(t, "192.0.2.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "192.0.2.9", clientIP(req))
}

func TestRateLimiterStore_EvictsIdleClients(t *testing.T) {
	now := time.Now()
	store := newRateLimiterStore(rate.Limit(1), 1)
	store.now = func() time.Time { return now }

	first := store.getLimiter("192.0.2.1")
	store.getLimiter("192.0.2.2")
	assert.Same(t, first, store.getLimiter("192.0.2.1"))
	assert.Equal(t, 2, store.size())

	now = now.Add(limiterIdleTTL + time.Second)
	store.getLimiter("192.0.2.3")
	assert.Equal(t, 1, store.size())
}
