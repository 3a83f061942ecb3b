package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/orielfx/api/internal/middleware"
	"github.com/orielfx/api/internal/model"
	"github.com/orielfx/api/internal/service"
	"github.com/orielfx/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/jobs
// @Summary      Submit render job
// @Description  Submit an audio asset and visualizer config for asynchronous video rendering
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        request body model.SubmitJobRequest true "Job submission"
// @Success      202 {object} model.SubmitJobResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs [post]
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	owner := middleware.GetUserID(c)
	email := middleware.GetUserEmail(c)
	plan := middleware.GetUserPlan(c)

	result, err := h.service.Submit(c.Context(), owner, email, plan, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			return response.ValidationError(c, err.Error(), nil)
		case errors.Is(err, service.ErrQueueUnavailable):
			return response.QueueUnavailable(c)
		default:
			return response.ServiceError(c, "Failed to submit job")
		}
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Poll the status of a render job; completed jobs include a time-limited artifact URL
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/jobs/:jobId/cancel
// @Summary      Cancel job
// @Description  Cancel a queued render job; running and finished jobs cannot be cancelled
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.CancelJobResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{jobId}/cancel [post]
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrConflict):
			return response.Conflict(c, "Job is already running or finished")
		default:
			return response.ServiceError(c, "Failed to cancel job")
		}
	}

	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
