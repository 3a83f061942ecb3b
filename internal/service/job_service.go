package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/orielfx/api/internal/client"
	"github.com/orielfx/api/internal/config"
	"github.com/orielfx/api/internal/model"
	"github.com/orielfx/api/internal/store"
)

// Task types and queue lanes. The notify lane is the lighter,
// higher-priority one; render carries the long-running work.
const (
	TaskTypeRender = "render:process"
	TaskTypeNotify = "notify:send"
	TaskTypeSweep  = "maintenance:sweep"

	QueueRender = "render"
	QueueNotify = "notify"
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrConflict         = store.ErrConflict
	ErrInvalidInput     = errors.New("invalid input")
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// JobService is the orchestrator: the boundary between submitters and the
// asynchronous render pipeline.
type JobService struct {
	jobs        *store.JobStore
	asynqClient *asynq.Client
	storage     client.StorageClient
	renderCfg   config.RenderConfig
	signTTL     time.Duration
}

func NewJobService(jobs *store.JobStore, asynqClient *asynq.Client, storage client.StorageClient, cfg *config.Config) *JobService {
	return &JobService{
		jobs:        jobs,
		asynqClient: asynqClient,
		storage:     storage,
		renderCfg:   cfg.Render,
		signTTL:     time.Duration(cfg.Retention.SignedURLTTLMin) * time.Minute,
	}
}

// Submit validates the request, persists a queued JobRecord and enqueues a
// render task. Two submissions are always two independent jobs.
func (s *JobService) Submit(ctx context.Context, owner, ownerEmail string, plan model.Plan, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error) {
	if err := validateRenderConfig(req.RenderConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// Reject unresolvable input references up front instead of queueing a
	// job that can only fail. Skipped in mock-storage mode.
	if s.storage != nil {
		ok, err := s.storage.Exists(ctx, req.InputRef)
		if err != nil {
			return nil, fmt.Errorf("failed to check input: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: input %s does not resolve", ErrInvalidInput, req.InputRef)
		}
	}

	now := time.Now().UTC()
	job := &model.JobRecord{
		ID:             uuid.New().String(),
		Owner:          owner,
		OwnerEmail:     ownerEmail,
		InputRef:       req.InputRef,
		RenderConfig:   req.RenderConfig,
		MaxDurationSec: s.renderCfg.MaxDurationFor(string(plan)),
		Status:         model.JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	payload, err := json.Marshal(&model.RenderTaskPayload{JobID: job.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	// Every redelivery of this task is one render attempt; the first
	// delivery plus MaxRetry redeliveries add up to max_attempts.
	_, err = s.asynqClient.Enqueue(asynq.NewTask(TaskTypeRender, payload),
		asynq.Queue(QueueRender),
		asynq.MaxRetry(s.renderCfg.MaxAttempts-1),
		asynq.Timeout(time.Duration(s.renderCfg.AttemptTimeoutSec+30)*time.Second),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		// Fail loudly rather than leaving a queued record nothing will ever
		// pick up. The record transition is best-effort; the TTL is the
		// backstop.
		if ferr := s.jobs.FailQueued(ctx, job.ID, &model.ErrorDetail{
			Code:    model.ReasonQueueUnavailable,
			Message: "the render queue is unavailable",
		}); ferr != nil {
			log.Printf("Failed to mark orphaned job %s: %v", job.ID, ferr)
		}
		log.Printf("Enqueue failed for job %s: %v", job.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return &model.SubmitJobResponse{
		JobID:     job.ID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the owner-scoped snapshot of a job. Completed jobs get
// a freshly signed artifact URL; signing is idempotent and never mutates
// the record.
func (s *JobService) GetStatus(ctx context.Context, owner, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.jobs.GetOwned(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.JobStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStep:  job.CurrentStep,
		AttemptCount: job.AttemptCount,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}

	if job.Status == model.JobStatusCompleted && job.ArtifactRef != "" && s.storage != nil {
		url, err := s.storage.GetSignedURL(ctx, job.ArtifactRef, s.signTTL)
		if err != nil {
			log.Printf("Failed to sign artifact URL for job %s: %v", job.ID, err)
		} else {
			expires := time.Now().UTC().Add(s.signTTL)
			resp.ArtifactURL = url
			resp.ExpiresAt = &expires
		}
	}

	return resp, nil
}

// Cancel cancels a queued job. Running and terminal jobs conflict: an
// in-flight attempt is allowed to finish or time out rather than being
// interrupted mid-encode.
func (s *JobService) Cancel(ctx context.Context, owner, jobID string) (*model.CancelJobResponse, error) {
	if _, err := s.jobs.GetOwned(ctx, owner, jobID); err != nil {
		return nil, err
	}

	if err := s.jobs.Cancel(ctx, jobID); err != nil {
		return nil, err
	}

	// failed(CANCELLED) is terminal, so it notifies like any other
	// terminal transition
	s.EnqueueNotify(ctx, jobID)

	return &model.CancelJobResponse{
		JobID:  jobID,
		Status: model.JobStatusFailed,
	}, nil
}

// EnqueueNotify pushes a follow-up notification task onto the high-priority
// lane. Notification failures never affect job state, so an enqueue error
// here is logged and swallowed.
func (s *JobService) EnqueueNotify(ctx context.Context, jobID string) {
	payload, err := json.Marshal(&model.NotifyTaskPayload{JobID: jobID})
	if err != nil {
		log.Printf("Failed to marshal notify task for job %s: %v", jobID, err)
		return
	}

	_, err = s.asynqClient.Enqueue(asynq.NewTask(TaskTypeNotify, payload),
		asynq.Queue(QueueNotify),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		log.Printf("Failed to enqueue notification for job %s: %v", jobID, err)
	}
}

// validateRenderConfig enforces the config envelope: bounded size, a JSON
// object, and a known schema version. The blob's contents stay opaque and
// travel to the renderer verbatim.
func validateRenderConfig(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("renderConfig is required")
	}
	if len(raw) > model.MaxRenderConfigBytes {
		return fmt.Errorf("renderConfig exceeds %d bytes", model.MaxRenderConfigBytes)
	}

	var envelope struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("renderConfig must be a JSON object")
	}
	if envelope.Version != nil && *envelope.Version != model.RenderConfigVersion {
		return fmt.Errorf("unsupported renderConfig version %d", *envelope.Version)
	}
	return nil
}
