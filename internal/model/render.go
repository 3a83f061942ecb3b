package model

import (
	"encoding/json"
	"time"
)

// Maximum accepted size of a render config blob. Configs are small JSON
// documents (visualizer parameters), anything larger is rejected outright.
const MaxRenderConfigBytes = 32 * 1024

// RenderConfigVersion is the only config schema version currently accepted.
// The blob itself is opaque to the orchestrator beyond this envelope check.
const RenderConfigVersion = 1

// SubmitJobRequest is the body of POST /api/jobs.
type SubmitJobRequest struct {
	InputRef     string          `json:"inputRef" validate:"required,max=1024"`
	RenderConfig json.RawMessage `json:"renderConfig" validate:"required"`
}

// SubmitJobResponse is returned with 202 Accepted.
type SubmitJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is the polling snapshot for GET /api/jobs/:jobId.
// Attempt counts are informational only; clients should treat anything
// non-terminal as "still processing".
type JobStatusResponse struct {
	JobID        string       `json:"jobId"`
	Status       JobStatus    `json:"status"`
	Progress     int          `json:"progress"`
	CurrentStep  string       `json:"currentStep,omitempty"`
	AttemptCount int          `json:"attemptCount"`
	ArtifactURL  string       `json:"artifactUrl,omitempty"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty"`
	Error        *ErrorDetail `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
}

// CancelJobResponse is returned by POST /api/jobs/:jobId/cancel.
type CancelJobResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}
