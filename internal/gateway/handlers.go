package gateway

import (
	"context"
	"errors"
	"io"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/builder/api"
	berrors "github.com/liquidcrypto/liquidos-builder/internal/errors"
	"github.com/liquidcrypto/liquidos-builder/internal/health"
	"github.com/liquidcrypto/liquidos-builder/internal/plan"
	"github.com/liquidcrypto/liquidos-builder/internal/session"
)

// ContextFileClient is the backend surface for app context files. The
// gateway proxies these straight through; the store does not track them.
type ContextFileClient interface {
	ListContextFiles(ctx context.Context, appID string) ([]builder.ContextFile, error)
	UploadContextFile(ctx context.Context, appID, name string, r io.Reader) error
	DeleteContextFile(ctx context.Context, appID, name string) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store     *session.Store
	files     ContextFileClient
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *session.Store, files ContextFileClient, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:     store,
		files:     files,
		checker:   checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// --- Probes ---

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.checker != nil && !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	checks := map[string]string{}
	status := "ok"
	if h.checker != nil {
		for name, s := range h.checker.RunAll(c.Context()) {
			checks[name] = string(s)
			if s == health.StatusDown {
				status = "down"
			} else if s == health.StatusDegraded && status == "ok" {
				status = "degraded"
			}
		}
	}
	return c.JSON(HealthDetailResponse{
		Status:    status,
		Checks:    checks,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		LastError: h.store.LastError(),
	})
}

// --- Builds ---

// ListBuilds handles GET /api/v1/builds.
func (h *Handlers) ListBuilds(c *fiber.Ctx) error {
	builds := h.store.Builds()
	return c.JSON(BuildListResponse{
		Builds:   builds,
		Total:    len(builds),
		ActiveID: h.store.ActiveID(),
	})
}

// GetBuild handles GET /api/v1/builds/:id.
func (h *Handlers) GetBuild(c *fiber.Ctx) error {
	rec, ok := h.store.Get(c.Params("id"))
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"build_not_found", "Not Found",
			"No build with id "+c.Params("id"))
	}
	return c.JSON(BuildResponse{Build: rec})
}

// SubmitBuild handles POST /api/v1/builds.
func (h *Handlers) SubmitBuild(c *fiber.Ctx) error {
	var req SubmitBuildRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Description == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_description", "Bad Request",
			"Build description is required")
	}

	rec, err := h.store.SubmitBuild(c.Context(), api.CreateBuildRequest{
		Description:         req.Description,
		AppID:               req.AppID,
		Category:            req.Category,
		HasAgent:            req.HasAgent,
		HasResources:        req.HasResources,
		HasCustomComponents: req.HasCustomComponents,
		ResearchMode:        req.ResearchMode,
		BuildMode:           req.BuildMode,
	})
	if err != nil {
		return backendProblem(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(BuildResponse{Build: rec})
}

// ApproveBuild handles POST /api/v1/builds/:id/approve.
func (h *Handlers) ApproveBuild(c *fiber.Ctx) error {
	var req ApproveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_body", "Bad Request",
				"Invalid request body: "+err.Error())
		}
	}
	if err := h.store.ApproveBuild(c.Context(), c.Params("id"), req.Stories); err != nil {
		return backendProblem(c, err)
	}
	return h.GetBuild(c)
}

// ResumeBuild handles POST /api/v1/builds/:id/resume.
func (h *Handlers) ResumeBuild(c *fiber.Ctx) error {
	if err := h.store.ResumeBuild(c.Context(), c.Params("id")); err != nil {
		return backendProblem(c, err)
	}
	return h.GetBuild(c)
}

// CancelBuild handles POST /api/v1/builds/:id/cancel.
func (h *Handlers) CancelBuild(c *fiber.Ctx) error {
	if err := h.store.CancelBuild(c.Context(), c.Params("id")); err != nil {
		return backendProblem(c, err)
	}
	return h.GetBuild(c)
}

// InstallBuild handles POST /api/v1/builds/:id/install.
func (h *Handlers) InstallBuild(c *fiber.Ctx) error {
	if err := h.store.InstallBuild(c.Context(), c.Params("id")); err != nil {
		return backendProblem(c, err)
	}
	return c.JSON(fiber.Map{"status": "installing"})
}

// DeleteBuild handles DELETE /api/v1/builds/:id.
func (h *Handlers) DeleteBuild(c *fiber.Ctx) error {
	if err := h.store.DeleteBuild(c.Context(), c.Params("id")); err != nil {
		return backendProblem(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RefreshHistory handles POST /api/v1/builds/refresh.
func (h *Handlers) RefreshHistory(c *fiber.Ctx) error {
	if err := h.store.LoadHistory(c.Context()); err != nil {
		return backendProblem(c, err)
	}
	return h.ListBuilds(c)
}

// GetPlan handles GET /api/v1/builds/:id/plan. It returns the reviewable
// plan with implementation stories separated out and tags stripped.
func (h *Handlers) GetPlan(c *fiber.Ctx) error {
	rec, ok := h.store.Get(c.Params("id"))
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"build_not_found", "Not Found",
			"No build with id "+c.Params("id"))
	}
	if rec.Plan == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"plan_not_ready", "Not Found",
			"Build has no plan yet")
	}
	review := plan.NewReview(rec.Plan)
	return c.JSON(PlanReviewResponse{
		BuildID:        rec.ID,
		Feature:        review.Feature,
		Implementation: review.Implementation,
		NextID:         review.NextID(),
	})
}

// RequestEdit handles POST /api/v1/edits.
func (h *Handlers) RequestEdit(c *fiber.Ctx) error {
	var req EditRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.AppID == "" || req.Description == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"appId and description are required")
	}
	rec, err := h.store.RequestEdit(c.Context(), req.AppID, req.Description)
	if err != nil {
		return backendProblem(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(BuildResponse{Build: rec})
}

// --- Active selection ---

// GetActive handles GET /api/v1/active.
func (h *Handlers) GetActive(c *fiber.Ctx) error {
	id := h.store.ActiveID()
	if id == "" {
		return c.JSON(fiber.Map{"activeId": ""})
	}
	rec, _ := h.store.Get(id)
	return c.JSON(BuildResponse{Build: rec})
}

// SetActive handles PUT /api/v1/active.
func (h *Handlers) SetActive(c *fiber.Ctx) error {
	var req SetActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if err := h.store.SetActive(req.ID); err != nil {
		return backendProblem(c, err)
	}
	return c.JSON(fiber.Map{"activeId": req.ID})
}

// --- Context files ---

// ListContextFiles handles GET /api/v1/apps/:appId/context.
func (h *Handlers) ListContextFiles(c *fiber.Ctx) error {
	files, err := h.files.ListContextFiles(c.Context(), c.Params("appId"))
	if err != nil {
		return backendProblem(c, err)
	}
	return c.JSON(ContextListResponse{Files: files})
}

// UploadContextFile handles POST /api/v1/apps/:appId/context.
func (h *Handlers) UploadContextFile(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_file", "Bad Request",
			"Multipart field 'file' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"unreadable_file", "Bad Request",
			"Could not read uploaded file: "+err.Error())
	}
	defer f.Close()

	if err := h.files.UploadContextFile(c.Context(), c.Params("appId"), fh.Filename, f); err != nil {
		return backendProblem(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"name": fh.Filename})
}

// DeleteContextFile handles DELETE /api/v1/apps/:appId/context/:name.
func (h *Handlers) DeleteContextFile(c *fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_name", "Bad Request",
			"Invalid file name")
	}
	if err := h.files.DeleteContextFile(c.Context(), c.Params("appId"), name); err != nil {
		return backendProblem(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// backendProblem maps a store or backend error onto a problem response.
func backendProblem(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, berrors.ErrBuildGone), berrors.StatusOf(err) == fiber.StatusNotFound:
		return problemResponse(c, fiber.StatusNotFound,
			"build_not_found", "Not Found", err.Error())
	case errors.Is(err, berrors.ErrInvalidInput), berrors.StatusOf(err) == fiber.StatusBadRequest:
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_input", "Bad Request", err.Error())
	case errors.Is(err, berrors.ErrAuthFailure):
		return problemResponse(c, fiber.StatusBadGateway,
			"backend_auth", "Bad Gateway", "Backend rejected our credentials")
	default:
		return problemResponse(c, fiber.StatusBadGateway,
			"backend_error", "Bad Gateway", err.Error())
	}
}
