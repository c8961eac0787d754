package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	periods []domain.Period
	block   chan struct{}
	started chan struct{}
	err     error
	panic   bool
}

func (r *fakeRunner) DefaultPeriods(now time.Time) []domain.Period {
	return []domain.Period{domain.PeriodOf(now)}
}

func (r *fakeRunner) Run(ctx context.Context, periods []domain.Period) (*domain.RunStats, error) {
	r.mu.Lock()
	r.calls++
	r.periods = periods
	r.mu.Unlock()

	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	if r.panic {
		panic("boom")
	}
	if r.err != nil {
		return nil, r.err
	}
	return &domain.RunStats{Inserted: 3}, nil
}

func newScheduler(t *testing.T, runner Runner, health *HealthChecker, opts Options) *Scheduler {
	t.Helper()
	s, err := New(runner, health, opts, logger.Discard())
	require.NoError(t, err)
	return s
}

func TestRunNowUpdatesStatus(t *testing.T) {
	runner := &fakeRunner{}
	s := newScheduler(t, runner, nil, Options{})

	stats, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Inserted)

	st := s.Status()
	assert.Equal(t, domain.JobStateIdle, st.Status)
	assert.Equal(t, 1, st.SuccessfulRuns)
	assert.Equal(t, 0, st.FailedRuns)
	assert.NotEmpty(t, st.LastRunID)
	require.NotNil(t, st.LastRun)
	require.NotNil(t, st.LastStats)
	assert.Equal(t, 3, st.LastStats.Inserted)
	assert.Len(t, runner.periods, 1)
}

func TestRunNowUsesExplicitPeriods(t *testing.T) {
	runner := &fakeRunner{}
	s := newScheduler(t, runner, nil, Options{})

	want := []domain.Period{domain.MonthPeriod(2023, 1), domain.MonthPeriod(2023, 2)}
	_, err := s.RunNow(context.Background(), want...)
	require.NoError(t, err)
	assert.Equal(t, want, runner.periods)
}

func TestTriggerRejectsWhileRunning(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newScheduler(t, runner, nil, Options{})

	runID, err := s.Trigger()
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	<-runner.started

	assert.True(t, s.IsRunning())
	assert.Equal(t, domain.JobStateRunning, s.Status().Status)

	_, err = s.Trigger()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = s.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(runner.block)
	require.NoError(t, s.Stop(context.Background()))

	st := s.Status()
	assert.Equal(t, domain.JobStateIdle, st.Status)
	assert.Equal(t, 1, st.SuccessfulRuns)
	assert.Equal(t, runID, st.LastRunID)
	assert.Equal(t, 1, runner.calls)
}

func TestConcurrentTriggersStartOneRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := newScheduler(t, runner, nil, Options{})

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Trigger(); err != nil {
				rejected.Add(1)
				return
			}
			accepted.Add(1)
		}()
	}
	wg.Wait()
	close(runner.block)
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(19), rejected.Load())
}

func TestFailedRunResetsToIdle(t *testing.T) {
	runner := &fakeRunner{err: errors.New("portal down")}
	s := newScheduler(t, runner, nil, Options{ErrorReset: 30 * time.Millisecond})

	_, err := s.RunNow(context.Background())
	require.Error(t, err)

	st := s.Status()
	assert.Equal(t, domain.JobStateError, st.Status)
	assert.Equal(t, "portal down", st.LastError)
	assert.Equal(t, 1, st.FailedRuns)

	assert.Eventually(t, func() bool {
		return s.Status().Status == domain.JobStateIdle
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "portal down", s.Status().LastError)
}

func TestPanicReleasesRunGuard(t *testing.T) {
	runner := &fakeRunner{panic: true}
	s := newScheduler(t, runner, nil, Options{})

	_, err := s.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.False(t, s.IsRunning())

	runner.panic = false
	_, err = s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Status().SuccessfulRuns)
}

func TestSuccessClearsLastError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	s := newScheduler(t, runner, nil, Options{ErrorReset: time.Hour})

	_, err := s.RunNow(context.Background())
	require.Error(t, err)

	runner.err = nil
	_, err = s.RunNow(context.Background())
	require.NoError(t, err)

	st := s.Status()
	assert.Equal(t, domain.JobStateIdle, st.Status)
	assert.Empty(t, st.LastError)
	assert.Equal(t, 1, st.FailedRuns)
	assert.Equal(t, 1, st.SuccessfulRuns)
}

func TestInvalidCronExpression(t *testing.T) {
	_, err := New(&fakeRunner{}, nil, Options{Cron: "not a cron"}, logger.Discard())
	assert.Error(t, err)
}

func TestNextRunInLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Montevideo")
	require.NoError(t, err)

	s := newScheduler(t, &fakeRunner{}, nil, Options{Cron: "0 3 * * *", Location: loc})
	assert.Nil(t, s.Status().NextRun)

	s.Start()
	defer s.Stop(context.Background())

	next := s.Status().NextRun
	require.NotNil(t, next)
	local := next.In(loc)
	assert.Equal(t, 3, local.Hour())
	assert.Equal(t, 0, local.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestRunAbortsWhenStoreUnrecoverable(t *testing.T) {
	store := &fakeStore{pingErr: errors.New("connection refused"), reconnectErr: errors.New("still down")}
	runner := &fakeRunner{}
	s := newScheduler(t, runner, NewHealthChecker(store, nil, 0, logger.Discard()), Options{ErrorReset: time.Hour})

	_, err := s.RunNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, runner.calls)
	assert.Equal(t, domain.JobStateError, s.Status().Status)
}
