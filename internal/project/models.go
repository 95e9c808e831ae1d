package project

import (
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/storyforge-agent/internal/timeline"
)

// Project is one compose session: a narration track plus the timeline state
// built on top of it. The timeline state is persisted as JSON and re-derived
// into a live timeline on every operation.
type Project struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	NarrationURL      string         `json:"narration_url,omitempty"`
	NarrationDuration float64        `json:"narration_duration,omitempty"`
	State             timeline.State `json:"state"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

const (
	JobTypeRender  = "render"
	JobTypePublish = "publish"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is a background unit of work against a project: a render submission
// or a publish of a finished render.
type Job struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	ResultURL string    `json:"result_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}
