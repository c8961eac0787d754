package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJobs struct {
	status    domain.JobStatus
	err       error
	triggered [][]domain.Period
}

func (f *fakeJobs) Status() domain.JobStatus { return f.status }

func (f *fakeJobs) Trigger(periods ...domain.Period) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.triggered = append(f.triggered, periods)
	return "run-1", nil
}

type fakeHealth struct {
	report scheduler.HealthReport
}

func (f *fakeHealth) Health(ctx context.Context) scheduler.HealthReport { return f.report }

func newEngine(jobs JobController, health HealthChecker) *gin.Engine {
	r := gin.New()
	sh := NewSchedulerHandler(jobs)
	r.GET("/health", NewHealthHandler(health, 0).Health)
	r.GET("/status", sh.Status)
	r.POST("/trigger", sh.Trigger)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerAccepted(t *testing.T) {
	jobs := &fakeJobs{}
	w := do(newEngine(jobs, &fakeHealth{}), http.MethodPost, "/trigger", "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	require.Len(t, jobs.triggered, 1)
	assert.Empty(t, jobs.triggered[0])
}

func TestTriggerWithPeriods(t *testing.T) {
	jobs := &fakeJobs{}
	w := do(newEngine(jobs, &fakeHealth{}), http.MethodPost, "/trigger", `{"periods":["2024-03","2023"]}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, jobs.triggered, 1)
	assert.Equal(t, []domain.Period{domain.MonthPeriod(2024, 3), domain.YearPeriod(2023)}, jobs.triggered[0])
}

func TestTriggerBadPeriod(t *testing.T) {
	jobs := &fakeJobs{}
	w := do(newEngine(jobs, &fakeHealth{}), http.MethodPost, "/trigger", `{"periods":["march"]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, jobs.triggered)
}

func TestTriggerConflict(t *testing.T) {
	jobs := &fakeJobs{
		err:    scheduler.ErrAlreadyRunning,
		status: domain.JobStatus{Status: domain.JobStateRunning},
	}
	w := do(newEngine(jobs, &fakeHealth{}), http.MethodPost, "/trigger", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already running")
	assert.Contains(t, w.Body.String(), `"status":"running"`)
}

func TestTriggerUnexpectedError(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("boom")}
	w := do(newEngine(jobs, &fakeHealth{}), http.MethodPost, "/trigger", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatus(t *testing.T) {
	jobs := &fakeJobs{status: domain.JobStatus{Status: domain.JobStateError, LastError: "portal down", FailedRuns: 2}}
	w := do(newEngine(jobs, &fakeHealth{}), http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	var st domain.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, domain.JobStateError, st.Status)
	assert.Equal(t, "portal down", st.LastError)
	assert.Equal(t, 2, st.FailedRuns)
}

func TestHealthCodes(t *testing.T) {
	tests := []struct {
		status scheduler.HealthStatus
		code   int
	}{
		{scheduler.StatusHealthy, http.StatusOK},
		{scheduler.StatusDegraded, http.StatusOK},
		{scheduler.StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			health := &fakeHealth{report: scheduler.HealthReport{Status: tt.status, RecoveryAttempted: true}}
			w := do(newEngine(&fakeJobs{}, health), http.MethodGet, "/health", "")
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), `"recoveryAttempted":true`)
		})
	}
}
