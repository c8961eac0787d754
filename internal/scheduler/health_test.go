package scheduler

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu           sync.Mutex
	pingErr      error
	reconnectErr error
	pings        int
	reconnects   int
}

func (s *fakeStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *fakeStore) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	if s.reconnectErr != nil {
		return s.reconnectErr
	}
	s.pingErr = nil
	return nil
}

type fakeRestarter struct {
	calls int
	err   error
}

func (r *fakeRestarter) Restart(ctx context.Context) error {
	r.calls++
	return r.err
}

func TestHealthHealthy(t *testing.T) {
	store := &fakeStore{}
	s := newScheduler(t, &fakeRunner{}, NewHealthChecker(store, nil, 0, logger.Discard()), Options{})

	report := s.Health(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.StoreReachable)
	assert.False(t, report.RecoveryAttempted)
	assert.Equal(t, domain.JobStateIdle, report.JobStatus)
	assert.Equal(t, 0, store.reconnects)
}

func TestHealthRecoversStore(t *testing.T) {
	store := &fakeStore{pingErr: errors.New("connection refused")}
	restarter := &fakeRestarter{}
	s := newScheduler(t, &fakeRunner{}, NewHealthChecker(store, restarter, time.Millisecond, logger.Discard()), Options{})

	report := s.Health(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.RecoveryAttempted)
	assert.True(t, report.RecoverySucceeded)
	assert.Equal(t, 1, restarter.calls)
	assert.Equal(t, 1, store.reconnects)
}

func TestHealthReconnectsWithoutRestartCommand(t *testing.T) {
	store := &fakeStore{pingErr: errors.New("connection reset")}
	restarter := &fakeRestarter{err: ErrRecoveryDisabled}
	h := NewHealthChecker(store, restarter, time.Hour, logger.Discard())

	res, err := h.EnsureStore(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Attempted)
	assert.True(t, res.Recovered)
	assert.Equal(t, 1, store.reconnects)
}

func TestHealthUnhealthyWhenRecoveryFails(t *testing.T) {
	store := &fakeStore{pingErr: errors.New("connection refused"), reconnectErr: errors.New("dial tcp: refused")}
	restarter := &fakeRestarter{err: errors.New("exit status 1")}
	s := newScheduler(t, &fakeRunner{}, NewHealthChecker(store, restarter, 0, logger.Discard()), Options{})

	report := s.Health(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.False(t, report.StoreReachable)
	assert.True(t, report.RecoveryAttempted)
	assert.False(t, report.RecoverySucceeded)
	assert.Contains(t, report.Error, "recovery failed")
}

func TestHealthDegradedAfterFailedRun(t *testing.T) {
	store := &fakeStore{}
	runner := &fakeRunner{err: errors.New("portal down")}
	s := newScheduler(t, runner, NewHealthChecker(store, nil, 0, logger.Discard()), Options{ErrorReset: time.Hour})

	_, err := s.RunNow(context.Background())
	require.Error(t, err)

	report := s.Health(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, report.StoreReachable)
	assert.Equal(t, domain.JobStateError, report.JobStatus)
	assert.Equal(t, "portal down", report.Error)
}

func TestCommandRestarter(t *testing.T) {
	log := logger.Discard()

	err := NewCommandRestarter(nil, 0, log).Restart(context.Background())
	assert.ErrorIs(t, err, ErrRecoveryDisabled)

	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	assert.NoError(t, NewCommandRestarter([]string{"sh", "-c", "exit 0"}, time.Second, log).Restart(context.Background()))
	assert.Error(t, NewCommandRestarter([]string{"sh", "-c", "echo nope; exit 3"}, time.Second, log).Restart(context.Background()))
	assert.Error(t, NewCommandRestarter([]string{"sleep", "5"}, 50*time.Millisecond, log).Restart(context.Background()))
}
