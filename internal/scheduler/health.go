package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
)

// HealthStatus is the overall verdict of a health check.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is returned by the health endpoint.
type HealthReport struct {
	Status            HealthStatus    `json:"status"`
	StoreReachable    bool            `json:"storeReachable"`
	RecoveryAttempted bool            `json:"recoveryAttempted"`
	RecoverySucceeded bool            `json:"recoverySucceeded"`
	JobStatus         domain.JobState `json:"jobStatus"`
	Error             string          `json:"error,omitempty"`
	CheckedAt         time.Time       `json:"checkedAt"`
}

// StoreProbe is the part of the release store health checks need.
type StoreProbe interface {
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// Restarter restarts the store's backing service.
type Restarter interface {
	Restart(ctx context.Context) error
}

// RecoveryResult describes what EnsureStore did.
type RecoveryResult struct {
	Attempted bool
	Recovered bool
}

// HealthChecker pings the store and, when it is down, restarts it and
// reconnects. Recoveries are serialized.
type HealthChecker struct {
	store       StoreProbe
	restarter   Restarter
	settleDelay time.Duration
	pingTimeout time.Duration
	log         *logger.Logger

	recoverMu sync.Mutex
}

// NewHealthChecker waits settleDelay after a successful restart before reconnecting.
func NewHealthChecker(store StoreProbe, restarter Restarter, settleDelay time.Duration, log *logger.Logger) *HealthChecker {
	return &HealthChecker{
		store:       store,
		restarter:   restarter,
		settleDelay: settleDelay,
		pingTimeout: 5 * time.Second,
		log:         log.WithComponent("health"),
	}
}

func (h *HealthChecker) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()
	return h.store.Ping(ctx)
}

// EnsureStore returns nil when the store answers, recovering it first if
// needed.
func (h *HealthChecker) EnsureStore(ctx context.Context) (RecoveryResult, error) {
	var res RecoveryResult
	err := h.ping(ctx)
	if err == nil {
		return res, nil
	}
	h.log.WithError(err).Warn("Store unreachable, attempting recovery")

	h.recoverMu.Lock()
	defer h.recoverMu.Unlock()

	// A concurrent recovery may have already fixed it.
	if err := h.ping(ctx); err == nil {
		return res, nil
	}

	res.Attempted = true
	if h.restarter != nil {
		err := h.restarter.Restart(ctx)
		switch {
		case err == nil:
			if err := sleepCtx(ctx, h.settleDelay); err != nil {
				return res, err
			}
		case errors.Is(err, ErrRecoveryDisabled):
			h.log.Debug("Restart command not configured, reconnecting only")
		default:
			h.log.WithError(err).Error("Store restart failed")
		}
	}

	if err := h.store.Reconnect(ctx); err != nil {
		return res, fmt.Errorf("store recovery failed: %w", err)
	}
	if err := h.ping(ctx); err != nil {
		return res, fmt.Errorf("store still unreachable after recovery: %w", err)
	}

	res.Recovered = true
	h.log.Info("Store recovered")
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
