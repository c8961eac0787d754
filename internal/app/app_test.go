package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/scheduler"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(portal string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			Path:        "file:" + uuid.NewString() + "?mode=memory&cache=shared",
			AutoMigrate: true,
		},
		Feed:      config.FeedConfig{BaseURL: portal, Timeout: time.Second},
		Rates:     config.RatesConfig{BaseCurrency: "UYU", SpecialUnit: "UI"},
		Ingest:    config.IngestConfig{BatchSize: 10, Concurrency: 2, UpsertBatchSize: 50, LookbackMonths: 1},
		Scheduler: config.SchedulerConfig{Cron: "0 3 * * *", Timezone: "UTC", ErrorReset: time.Minute},
	}
}

func TestBuildAndRunEmptyPeriod(t *testing.T) {
	portal := httptest.NewServer(http.NotFoundHandler())
	defer portal.Close()

	cfg := testConfig(portal.URL)
	a, err := Build(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	sched, err := a.NewScheduler(&cfg.Scheduler, logger.Discard())
	require.NoError(t, err)

	stats, err := sched.RunNow(context.Background(), domain.MonthPeriod(2024, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Discovered)
	assert.Equal(t, domain.JobStateIdle, sched.Status().Status)
}

func TestBuildRejectsMissingFallbackFile(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Rates.FallbackFile = "/nonexistent/rates.yaml"

	_, err := Build(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}

func TestBuildWithStoreDownRecoversThroughHealth(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "releases.db")
	marker := filepath.Join(dir, "service-up")

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Database.Path = "file:" + dbPath + "?mode=rw"
	// The restart command only brings the database back once the marker exists.
	cfg.Recovery.RestartCommand = []string{"sh", "-c", "test -f " + marker + " && touch " + dbPath}
	cfg.Recovery.Timeout = 5 * time.Second

	a, err := Build(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	sched, err := a.NewScheduler(&cfg.Scheduler, logger.Discard())
	require.NoError(t, err)

	report := sched.Health(context.Background())
	assert.Equal(t, scheduler.StatusUnhealthy, report.Status)
	assert.True(t, report.RecoveryAttempted)
	assert.False(t, report.RecoverySucceeded)

	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	report = sched.Health(context.Background())
	assert.Equal(t, scheduler.StatusHealthy, report.Status)
	assert.True(t, report.RecoveryAttempted)
	assert.True(t, report.RecoverySucceeded)

	count, err := a.Store.CountByPeriod(context.Background(), "2024-03")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestBuildFailsWhenArchiveBucketUnavailable(t *testing.T) {
	objects := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer objects.Close()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Archive = config.ArchiveConfig{
		Enabled:   true,
		Type:      "r2",
		Endpoint:  objects.URL,
		AccessKey: "k",
		SecretKey: "s",
		Bucket:    "gastos",
	}

	a, err := Build(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "archive bucket gastos")
}

func TestBuildEnsuresArchiveBucket(t *testing.T) {
	var created atomic.Bool
	objects := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/gastos":
			created.Store(true)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer objects.Close()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Archive = config.ArchiveConfig{
		Enabled:   true,
		Endpoint:  objects.URL,
		AccessKey: "k",
		SecretKey: "s",
		Bucket:    "gastos",
	}

	a, err := Build(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, created.Load())
}
