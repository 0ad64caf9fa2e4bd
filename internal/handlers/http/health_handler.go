package http

import (
	"net/http"
	"time"

	"roomrec/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	gatherer  prometheus.Gatherer
	startedAt time.Time
	version   string
}

func NewHealthHandler(checker *monitoring.HealthChecker, gatherer prometheus.Gatherer, version string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		gatherer:  gatherer,
		startedAt: time.Now(),
		version:   version,
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health is the liveness probe; it reports the last background results
// without running checks.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.Cached()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"checks":  status.Checks,
	})
}

// Ready runs every check and answers 503 if any fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
