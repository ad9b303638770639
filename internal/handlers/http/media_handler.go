package http

import (
	"net/http"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/internal/infrastructure/monitoring"
	"roomsignal/pkg/circuitbreaker"

	"github.com/gin-gonic/gin"
)

// MediaHandler serves worker statistics and the liveness/readiness probes.
type MediaHandler struct {
	stats        ports.WorkerStatsProvider
	breaker      func() circuitbreaker.State
	health       *monitoring.HealthChecker
	orchestrator ports.SessionOrchestrator
	startedAt    time.Time
}

func NewMediaHandler(
	stats ports.WorkerStatsProvider,
	breaker func() circuitbreaker.State,
	health *monitoring.HealthChecker,
	orchestrator ports.SessionOrchestrator,
) *MediaHandler {
	return &MediaHandler{
		stats:        stats,
		breaker:      breaker,
		health:       health,
		orchestrator: orchestrator,
		startedAt:    time.Now(),
	}
}

func (h *MediaHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/api/v1/media/workers", h.Workers)
}

type WorkersResponse struct {
	Workers      []domain.WorkerStats `json:"workers"`
	BreakerState string               `json:"breakerState,omitempty"`
}

func (h *MediaHandler) Workers(c *gin.Context) {
	resp := WorkersResponse{Workers: h.stats.WorkerStats()}
	if h.breaker != nil {
		resp.BreakerState = h.breaker().String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MediaHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"connections": h.orchestrator.ActiveConnections(),
	})
}

func (h *MediaHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
