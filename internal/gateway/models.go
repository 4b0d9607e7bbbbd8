// Package gateway provides the local REST API over the build session store.
// Tooling on the workstation (buildctl, editors, dashboards) talks to the
// daemon through it instead of each holding its own backend connection.
package gateway

import (
	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/plan"
)

// --- Request DTOs ---

// SubmitBuildRequest is the payload for POST /api/v1/builds.
type SubmitBuildRequest struct {
	Description         string `json:"description"`
	AppID               string `json:"appId,omitempty"`
	Category            string `json:"category,omitempty"`
	HasAgent            bool   `json:"hasAgent,omitempty"`
	HasResources        bool   `json:"hasResources,omitempty"`
	HasCustomComponents bool   `json:"hasCustomComponents,omitempty"`
	ResearchMode        string `json:"researchMode,omitempty"`
	BuildMode           string `json:"buildMode,omitempty"`
}

// ApproveRequest is the payload for POST /api/v1/builds/:id/approve. Stories
// are optional; when present they replace the plan's user-facing stories.
type ApproveRequest struct {
	Stories []builder.UserStory `json:"stories,omitempty"`
}

// EditRequest is the payload for POST /api/v1/edits.
type EditRequest struct {
	AppID       string `json:"appId"`
	Description string `json:"description"`
}

// SetActiveRequest is the payload for PUT /api/v1/active.
type SetActiveRequest struct {
	ID string `json:"id"`
}

// --- Response DTOs ---

// BuildResponse wraps a single build record.
type BuildResponse struct {
	Build builder.BuildRecord `json:"build"`
}

// BuildListResponse wraps the tracked build list.
type BuildListResponse struct {
	Builds   []builder.BuildRecord `json:"builds"`
	Total    int                   `json:"total"`
	ActiveID string                `json:"activeId,omitempty"`
}

// PlanReviewResponse is the editable plan view for GET /api/v1/builds/:id/plan.
type PlanReviewResponse struct {
	BuildID        string       `json:"buildId"`
	Feature        []plan.Story `json:"feature"`
	Implementation []plan.Story `json:"implementation"`
	NextID         string       `json:"nextId"`
}

// ContextListResponse wraps the backend's context file listing.
type ContextListResponse struct {
	Files []builder.ContextFile `json:"files"`
}

// HealthDetailResponse is the response for GET /api/v1/health.
type HealthDetailResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Uptime    string            `json:"uptime"`
	LastError string            `json:"lastError,omitempty"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
