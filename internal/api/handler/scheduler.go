package handler

import (
	"errors"
	"net/http"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/api/middleware"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// JobController is the scheduler surface exposed over HTTP.
type JobController interface {
	Status() domain.JobStatus
	Trigger(periods ...domain.Period) (string, error)
}

// SchedulerHandler exposes ingestion status and manual triggering.
type SchedulerHandler struct {
	jobs JobController
}

// NewSchedulerHandler creates a new scheduler handler.
// Parameters:
//   - jobs: scheduler controlling the ingestion run.
//
// Returns:
//   - *SchedulerHandler: initialized handler.
func NewSchedulerHandler(jobs JobController) *SchedulerHandler {
	return &SchedulerHandler{jobs: jobs}
}

// TriggerRequest optionally names the periods to ingest ("2024-03" or
// "2024"). An empty body runs the scheduled lookback window.
type TriggerRequest struct {
	Periods []string `json:"periods"`
}

// TriggerResponse is returned when a run is accepted.
type TriggerResponse struct {
	Message string `json:"message"`
	RunID   string `json:"runId"`
}

// Status returns the current job status.
func (h *SchedulerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.Status())
}

// Trigger starts a run in the background. A run already in flight yields
// 409 and no second run is started.
func (h *SchedulerHandler) Trigger(c *gin.Context) {
	log := middleware.GetLogger(c)

	var req TriggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	periods := make([]domain.Period, 0, len(req.Periods))
	for _, raw := range req.Periods {
		p, err := domain.ParsePeriod(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		periods = append(periods, p)
	}

	runID, err := h.jobs.Trigger(periods...)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Ingestion job is already running",
			"status": h.jobs.Status(),
		})
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to trigger ingestion")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.WithField(logger.FieldRunID, runID).Info("Ingestion triggered")
	c.JSON(http.StatusAccepted, TriggerResponse{
		Message: "Ingestion started",
		RunID:   runID,
	})
}
