package model

import (
	"encoding/json"
	"time"
)

// JobRecord is the durable record of one render job. It is created by the
// orchestrator at submission and mutated only through the store's guarded
// transitions afterwards.
type JobRecord struct {
	ID             string          `json:"id"`
	Owner          string          `json:"owner"`
	OwnerEmail     string          `json:"ownerEmail,omitempty"`
	InputRef       string          `json:"inputRef"`
	RenderConfig   json.RawMessage `json:"renderConfig,omitempty"` // passed through verbatim to the renderer
	MaxDurationSec int             `json:"maxDurationSec"`         // plan limit, resolved at submission
	Status         JobStatus       `json:"status"`
	AttemptCount   int             `json:"attemptCount"`
	Progress       int             `json:"progress"`
	CurrentStep    string          `json:"currentStep,omitempty"`
	ArtifactRef    string          `json:"artifactRef,omitempty"` // set iff status == completed
	Error          *ErrorDetail    `json:"error,omitempty"`       // set iff status == failed
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"` // set exactly once, at the terminal transition
}

// ErrorDetail is the structured failure reason exposed to the submitter.
// Message is operator-written context, never a raw stack trace.
type ErrorDetail struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// RenderTaskPayload is the minimal queue message for the render lane.
// Everything else lives on the JobRecord.
type RenderTaskPayload struct {
	JobID string `json:"jobId"`
}

// NotifyTaskPayload is the queue message for the notify lane.
type NotifyTaskPayload struct {
	JobID string `json:"jobId"`
}

// RenderOutcome is what a finished render attempt reports back to the
// orchestrator.
type RenderOutcome struct {
	ArtifactRef string        `json:"artifactRef"`
	DurationSec float64       `json:"durationSec"`
	SizeBytes   int64         `json:"sizeBytes"`
	Elapsed     time.Duration `json:"elapsedMs"`
}
