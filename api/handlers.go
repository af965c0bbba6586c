package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/service"
)

// Handlers contains the HTTP handler methods for the API.
type Handlers struct {
	svc *service.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleSubmitJob handles POST /api/v1/jobs.
func (h *Handlers) HandleSubmitJob(c *fiber.Ctx) error {
	var req SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("invalid JSON: %v: %w", err, contracts.ErrInvalidInput)
	}

	settings, err := req.Settings.ToJobSettings()
	if err != nil {
		return err
	}

	id, err := h.svc.Submit(c.UserContext(), service.SubmitRequest{
		TemplateID:    req.TemplateID,
		Customization: req.Customization,
		Config:        req.Config,
		Inputs:        req.Inputs,
		Settings:      settings,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitJobResponse{
		JobID:  id,
		Status: contracts.JobPending,
	})
}

// HandleListJobs handles GET /api/v1/jobs?status=&limit=.
func (h *Handlers) HandleListJobs(c *fiber.Ctx) error {
	var filter contracts.ListFilter
	if raw := c.Query("status"); raw != "" {
		status, err := contracts.ParseJobStatus(strings.ToUpper(raw))
		if err != nil {
			return fmt.Errorf("status %q: %w", raw, contracts.ErrInvalidInput)
		}
		filter.Status = &status
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return fmt.Errorf("limit must be >= 0: %w", contracts.ErrInvalidInput)
	}
	filter.Limit = limit

	jobs, err := h.svc.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []contracts.JobSummary{}
	}
	return c.JSON(ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

// HandleGetJob handles GET /api/v1/jobs/:id.
func (h *Handlers) HandleGetJob(c *fiber.Ctx) error {
	job, err := h.svc.Status(c.UserContext(), contracts.JobID(c.Params("id")))
	if err != nil {
		return err
	}
	return c.JSON(NewJobResponse(job))
}

// HandleCancelJob handles POST /api/v1/jobs/:id/cancel.
func (h *Handlers) HandleCancelJob(c *fiber.Ctx) error {
	id := contracts.JobID(c.Params("id"))
	if err := h.svc.Cancel(c.UserContext(), id); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  id,
		"message": "cancellation requested",
	})
}

// HandleDeleteJob handles DELETE /api/v1/jobs/:id.
func (h *Handlers) HandleDeleteJob(c *fiber.Ctx) error {
	if err := h.svc.Delete(c.UserContext(), contracts.JobID(c.Params("id"))); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleListTasks handles GET /api/v1/tasks.
func (h *Handlers) HandleListTasks(c *fiber.Ctx) error {
	metas := h.svc.Tasks()
	out := make([]TaskDTO, len(metas))
	for i, m := range metas {
		out[i] = NewTaskDTO(m)
	}
	return c.JSON(TasksResponse{Tasks: out})
}

// HandleListTemplates handles GET /api/v1/templates.
func (h *Handlers) HandleListTemplates(c *fiber.Ctx) error {
	return c.JSON(TemplatesResponse{Templates: h.svc.Templates()})
}

// HandleGetTemplate handles GET /api/v1/templates/:id.
func (h *Handlers) HandleGetTemplate(c *fiber.Ctx) error {
	info, cfg, err := h.svc.Template(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(TemplateResponse{TemplateInfo: info, Config: cfg})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:     "healthy",
		ActiveJobs: h.svc.Active(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}
