// Package scheduler drives the ingestion pipeline on a daily wall-clock
// schedule and guards it so only one run is in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned when a run is requested while one is active.
var ErrAlreadyRunning = errors.New("ingestion already running")

// Runner is the pipeline as seen by the scheduler.
type Runner interface {
	Run(ctx context.Context, periods []domain.Period) (*domain.RunStats, error)
	DefaultPeriods(now time.Time) []domain.Period
}

// Options configure the cron schedule and error display.
type Options struct {
	Cron       string
	Location   *time.Location
	ErrorReset time.Duration
}

// Scheduler owns the process-wide JobStatus.
type Scheduler struct {
	runner Runner
	health *HealthChecker
	opts   Options
	cron   *cron.Cron
	entry  cron.EntryID
	log    *logger.Logger
	now    func() time.Time

	mu         sync.Mutex
	running    bool
	status     domain.JobStatus
	resetTimer *time.Timer

	runs    sync.WaitGroup
	baseCtx context.Context
}

// New validates the cron expression and returns a stopped scheduler.
func New(runner Runner, health *HealthChecker, opts Options, log *logger.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ErrorReset <= 0 {
		opts.ErrorReset = time.Minute
	}
	log = log.WithComponent("scheduler")

	s := &Scheduler{
		runner:  runner,
		health:  health,
		opts:    opts,
		log:     log,
		now:     time.Now,
		status:  domain.JobStatus{Status: domain.JobStateIdle},
		baseCtx: log.WithContext(context.Background()),
	}

	s.cron = cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(cron.PrintfLogger(log)),
	)
	if opts.Cron != "" {
		id, err := s.cron.AddFunc(opts.Cron, s.tick)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", opts.Cron, err)
		}
		s.entry = id
	}
	return s, nil
}

// Start begins firing scheduled runs. Ticks missed while the process was
// down are not replayed.
func (s *Scheduler) Start() {
	s.cron.Start()
	if next := s.nextRun(); next != nil {
		s.log.WithField("next_run", next.Format(time.RFC3339)).Info("Scheduler started")
	}
}

// Stop halts the schedule and waits for an in-flight run to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if _, err := s.Trigger(); err != nil {
		s.log.WithError(err).Warn("Scheduled run skipped")
	}
}

// Trigger starts a run in the background and returns its id. With no
// periods the scheduled lookback window is used.
func (s *Scheduler) Trigger(periods ...domain.Period) (string, error) {
	runID, err := s.begin()
	if err != nil {
		return "", err
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.execute(s.baseCtx, runID, periods)
	}()
	return runID, nil
}

// RunNow runs synchronously. With no periods the scheduled lookback
// window is used.
func (s *Scheduler) RunNow(ctx context.Context, periods ...domain.Period) (*domain.RunStats, error) {
	runID, err := s.begin()
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, runID, periods)
}

// IsRunning reports whether a run is in flight.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a copy of the current job status.
func (s *Scheduler) Status() domain.JobStatus {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.NextRun = s.nextRun()
	return st
}

func (s *Scheduler) nextRun() *time.Time {
	if s.entry == 0 {
		return nil
	}
	next := s.cron.Entry(s.entry).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

func (s *Scheduler) begin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", ErrAlreadyRunning
	}
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
	s.running = true
	s.status.Status = domain.JobStateRunning
	return uuid.NewString(), nil
}

func (s *Scheduler) execute(ctx context.Context, runID string, periods []domain.Period) (stats *domain.RunStats, err error) {
	ctx = logger.SetRunID(ctx, runID)
	log := logger.FromContext(ctx).WithComponent("scheduler")
	log.Info("Run started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
		s.finish(runID, stats, err)
		if err != nil {
			log.WithError(err).Error("Run failed")
		} else {
			log.Info("Run finished")
		}
	}()

	if s.health != nil {
		if _, err := s.health.EnsureStore(ctx); err != nil {
			return nil, err
		}
	}
	if len(periods) == 0 {
		periods = s.runner.DefaultPeriods(s.now().In(s.opts.Location))
	}
	return s.runner.Run(ctx, periods)
}

func (s *Scheduler) finish(runID string, stats *domain.RunStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.running = false
	s.status.LastRun = &now
	s.status.LastRunID = runID
	if stats != nil {
		s.status.LastStats = stats
	}

	if err == nil {
		s.status.Status = domain.JobStateIdle
		s.status.LastError = ""
		s.status.SuccessfulRuns++
		return
	}

	s.status.Status = domain.JobStateError
	s.status.LastError = err.Error()
	s.status.FailedRuns++
	s.resetTimer = time.AfterFunc(s.opts.ErrorReset, s.resetError)
}

func (s *Scheduler) resetError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running && s.status.Status == domain.JobStateError {
		s.status.Status = domain.JobStateIdle
	}
}

// Health checks the store, attempting recovery when it is unreachable.
func (s *Scheduler) Health(ctx context.Context) HealthReport {
	report := HealthReport{CheckedAt: s.now().UTC(), Status: StatusHealthy, StoreReachable: true}

	s.mu.Lock()
	lastErr := s.status.LastError
	report.JobStatus = s.status.Status
	s.mu.Unlock()

	if s.health != nil {
		res, err := s.health.EnsureStore(ctx)
		report.RecoveryAttempted = res.Attempted
		report.RecoverySucceeded = res.Recovered
		if err != nil {
			report.Status = StatusUnhealthy
			report.StoreReachable = false
			report.Error = err.Error()
			return report
		}
	}

	if lastErr != "" {
		report.Status = StatusDegraded
		report.Error = lastErr
	}
	return report
}
