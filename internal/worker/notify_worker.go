package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orielfx/api/internal/client"
	"github.com/orielfx/api/internal/model"
	"github.com/orielfx/api/internal/notify"
	"github.com/orielfx/api/internal/store"
)

// NotifyWorker processes notification tasks from the high-priority lane.
// It is a read-only consumer of job records: whatever happens here, job
// state stands.
type NotifyWorker struct {
	jobs     *store.JobStore
	notifier *notify.Notifier
	storage  client.StorageClient
	signTTL  time.Duration
}

func NewNotifyWorker(jobs *store.JobStore, notifier *notify.Notifier, storage client.StorageClient, signTTL time.Duration) *NotifyWorker {
	return &NotifyWorker{
		jobs:     jobs,
		notifier: notifier,
		storage:  storage,
		signTTL:  signTTL,
	}
}

// ProcessTask sends the terminal-state notification for one job.
// Duplicate deliveries produce duplicate emails, which the recipient
// tolerates.
func (w *NotifyWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.NotifyTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notify task: %v: %w", err, asynq.SkipRetry)
	}

	job, err := w.jobs.Get(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Job %s is gone, skipping notification", payload.JobID)
			return nil
		}
		return err
	}
	if !job.Status.IsTerminal() {
		// the job was requeued between the terminal transition and this
		// delivery; the next terminal transition enqueues a fresh task
		log.Printf("Job %s is %s, skipping notification", job.ID, job.Status)
		return nil
	}

	outcome := &notify.Outcome{}
	switch job.Status {
	case model.JobStatusCompleted:
		outcome.Completed = true
		if w.storage != nil && job.ArtifactRef != "" {
			url, err := w.storage.GetSignedURL(ctx, job.ArtifactRef, w.signTTL)
			if err != nil {
				return fmt.Errorf("failed to sign artifact URL for job %s: %w", job.ID, err)
			}
			outcome.ArtifactURL = url
			outcome.ExpiresAt = time.Now().UTC().Add(w.signTTL)
		}
	case model.JobStatusFailed:
		if job.Error != nil {
			outcome.Reason = job.Error.Code
		}
	default:
		// expired jobs are aged out silently
		return nil
	}

	return w.notifier.Notify(ctx, job, outcome)
}
