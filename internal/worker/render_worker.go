package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orielfx/api/internal/model"
	"github.com/orielfx/api/internal/render"
	"github.com/orielfx/api/internal/service"
	"github.com/orielfx/api/internal/store"
	"github.com/orielfx/api/internal/websocket"
)

// RenderWorker processes render tasks: it claims the job, runs the render
// pipeline, and translates pipeline failures into JobRecord transitions.
// A failing job must never take the worker down, so every outcome ends in
// a record update, an ack, or an asynq retry — not a panic.
type RenderWorker struct {
	jobs           *store.JobStore
	pipeline       *render.Pipeline
	jobService     *service.JobService
	hub            *websocket.Hub
	attemptTimeout time.Duration
}

func NewRenderWorker(jobs *store.JobStore, pipeline *render.Pipeline, jobService *service.JobService, hub *websocket.Hub, attemptTimeout time.Duration) *RenderWorker {
	return &RenderWorker{
		jobs:           jobs,
		pipeline:       pipeline,
		jobService:     jobService,
		hub:            hub,
		attemptTimeout: attemptTimeout,
	}
}

// ProcessTask handles one delivery of a render task. Deliveries are
// at-least-once: a redelivered message for a job another worker finished
// is acked and dropped.
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.RenderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal render task: %v: %w", err, asynq.SkipRetry)
	}
	jobID := payload.JobID
	log.Printf("Render task received for job %s", jobID)

	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Job %s is gone, dropping task", jobID)
			return nil
		}
		return err
	}
	if job.Status.IsTerminal() {
		// cancelled before pickup, or a duplicate delivery after completion
		log.Printf("Job %s already %s, dropping task", jobID, job.Status)
		return nil
	}

	// A redelivery that finds the job still running means the previous
	// worker died mid-attempt: hand the record back to queued before
	// claiming it again.
	if job.Status == model.JobStatusRunning {
		if err := w.jobs.Requeue(ctx, jobID, model.ReasonTimeout); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	}

	// Preflight validation happens before the claim, so client-caused
	// input failures go queued→failed directly and the job never reports
	// running.
	if info, err := w.pipeline.Preflight(ctx, job); err != nil {
		var perr *render.Error
		if errors.As(err, &perr) && perr.Reason == model.ReasonInvalidAudio {
			return w.finalizeQueued(ctx, job, perr)
		}
		// transient preflight trouble (storage hiccup): fall through to a
		// normal claimed attempt, which classifies and retries properly
		log.Printf("Preflight for job %s inconclusive: %v", jobID, err)
	} else {
		log.Printf("Job %s preflight ok (%.1fs audio)", jobID, info.DurationSec)
	}

	attempt, err := w.claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			// lost the race: cancelled or another worker holds it
			log.Printf("Job %s not claimable, dropping task", jobID)
			return nil
		}
		return err
	}
	log.Printf("Job %s claimed (attempt %d)", jobID, attempt)

	attemptCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
	defer cancel()

	onProgress := func(progress int, step string) {
		if err := w.jobs.UpdateProgress(ctx, jobID, progress, step); err != nil {
			log.Printf("Failed to update progress for job %s: %v", jobID, err)
		}
		w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
	}

	outcome, rerr := w.pipeline.Run(attemptCtx, job, onProgress)
	if rerr != nil {
		return w.handleFailure(ctx, attemptCtx, job, rerr)
	}

	if err := w.jobs.Complete(ctx, jobID, outcome); err != nil {
		return fmt.Errorf("failed to record completion of job %s: %w", jobID, err)
	}
	w.hub.BroadcastComplete(jobID, outcome)
	w.jobService.EnqueueNotify(ctx, jobID)
	log.Printf("Job %s completed in %s (%.1fs video, %d bytes)", jobID, outcome.Elapsed.Round(time.Millisecond), outcome.DurationSec, outcome.SizeBytes)
	return nil
}

// claim performs the atomic queued→running transition.
func (w *RenderWorker) claim(ctx context.Context, jobID string) (int, error) {
	return w.jobs.Claim(ctx, jobID, "starting render")
}

// handleFailure classifies a pipeline error and decides between a final
// failure and a retry via asynq redelivery.
func (w *RenderWorker) handleFailure(ctx, attemptCtx context.Context, job *model.JobRecord, rerr error) error {
	reason := model.ReasonCaptureFailed
	detail := &model.ErrorDetail{Code: reason, Message: "rendering failed"}

	var perr *render.Error
	if errors.As(rerr, &perr) {
		reason = perr.Reason
		detail = perr.Detail()
	} else if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		reason = model.ReasonTimeout
		detail = &model.ErrorDetail{Code: reason, Message: "rendering exceeded the time limit"}
	}
	log.Printf("Job %s attempt failed: %v", job.ID, rerr)

	if reason.Retryable() {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried < maxRetry {
			// hand the record back so the next delivery can claim it
			if err := w.jobs.Requeue(ctx, job.ID, reason); err != nil && !errors.Is(err, store.ErrConflict) {
				return err
			}
			return fmt.Errorf("job %s attempt failed with %s, retrying: %w", job.ID, reason, rerr)
		}
		detail = &model.ErrorDetail{
			Code:    model.ReasonRetryExhausted,
			Message: fmt.Sprintf("gave up after %d attempts", retried+1),
		}
	}

	if err := w.jobs.Fail(ctx, job.ID, detail); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	w.hub.BroadcastError(job.ID, detail.Code, detail.Message)
	w.jobService.EnqueueNotify(ctx, job.ID)
	return fmt.Errorf("job %s failed with %s: %v: %w", job.ID, detail.Code, rerr, asynq.SkipRetry)
}

// finalizeQueued fails a job that never left the queue (preflight input
// rejection).
func (w *RenderWorker) finalizeQueued(ctx context.Context, job *model.JobRecord, perr *render.Error) error {
	detail := perr.Detail()
	if err := w.jobs.FailQueued(ctx, job.ID, detail); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	w.hub.BroadcastError(job.ID, detail.Code, detail.Message)
	w.jobService.EnqueueNotify(ctx, job.ID)
	return fmt.Errorf("job %s rejected: %v: %w", job.ID, perr, asynq.SkipRetry)
}
