package builder

import (
	"time"
)

// ErrCancelled is the error string set by the local cancel override.
const ErrCancelled = "Cancelled"

// Progress counts finished user stories. Total is 0 until planning completes.
type Progress struct {
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	CurrentStory string `json:"currentStory,omitempty"`
}

// Clamp forces 0 <= Completed <= Total (when Total > 0). Malformed server
// payloads are corrected here instead of crashing percentage rendering.
func (p *Progress) Clamp() {
	if p.Completed < 0 {
		p.Completed = 0
	}
	if p.Total > 0 && p.Completed > p.Total {
		p.Completed = p.Total
	}
}

// Percent returns completion in [0, 100]. Total 0 reports 0.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	c := p.Completed
	if c < 0 {
		c = 0
	}
	if c > p.Total {
		c = p.Total
	}
	return c * 100 / p.Total
}

// UserStory is one requirement in a plan's PRD. Implementation stories carry
// the "[internal]" title prefix on the wire.
type UserStory struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

// PRD is the requirements document produced by the planning phase.
type PRD struct {
	UserStories []UserStory `json:"userStories"`
}

// Architecture describes the generated app's structure.
type Architecture struct {
	Components    []string `json:"components"`
	Stores        []string `json:"stores"`
	Executor      string   `json:"executor,omitempty"`
	NewComponents []string `json:"newComponents"`
}

// Plan is the structured output of planning, absent before that phase.
type Plan struct {
	PRD          PRD          `json:"prd"`
	Architecture Architecture `json:"architecture"`
}

// BuildRecord is one build or edit job. ID and Description are immutable
// after creation; everything else is owned by the server and merged in.
type BuildRecord struct {
	ID          string    `json:"id"`
	AppID       string    `json:"appId"`
	Phase       Phase     `json:"phase"`
	Progress    Progress  `json:"progress"`
	Description string    `json:"description"`
	Plan        *Plan     `json:"plan,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Error       string    `json:"error,omitempty"`
}

// ContextFile describes an uploaded auxiliary file for an app. The server
// owns the filesystem; the client only lists, uploads, and deletes by name.
type ContextFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}
