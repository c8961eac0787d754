package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// HealthChecker reports service health, recovering the store if needed.
type HealthChecker interface {
	Health(ctx context.Context) scheduler.HealthReport
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker HealthChecker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HealthHandler{checker: checker, timeout: timeout}
}

// Health returns 200 when healthy or degraded and 503 when the store is
// unreachable after a recovery attempt.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	report := h.checker.Health(ctx)
	code := http.StatusOK
	if report.Status == scheduler.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
