package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orielfx/api/internal/client"
	"github.com/orielfx/api/internal/store"
)

// SweepWorker deletes artifacts past retention and marks their jobs
// expired. Scheduled periodically; each run is independent and idempotent.
type SweepWorker struct {
	jobs        *store.JobStore
	storage     client.StorageClient
	artifactTTL time.Duration
}

func NewSweepWorker(jobs *store.JobStore, storage client.StorageClient, artifactTTL time.Duration) *SweepWorker {
	return &SweepWorker{
		jobs:        jobs,
		storage:     storage,
		artifactTTL: artifactTTL,
	}
}

// ProcessTask runs one retention sweep.
func (w *SweepWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if w.storage == nil {
		return nil
	}

	cutoff := time.Now().UTC().Add(-w.artifactTTL)
	keys, err := w.storage.ListOlderThan(ctx, client.ArtifactPrefix(), cutoff)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	log.Printf("Retention sweep: %d artifacts past %s", len(keys), cutoff.Format(time.RFC3339))

	for _, key := range keys {
		if err := w.storage.Delete(ctx, key); err != nil {
			// leave it for the next sweep
			log.Printf("Sweep failed to delete %s: %v", key, err)
			continue
		}

		jobID := client.JobIDFromArtifactKey(key)
		if jobID == "" {
			continue
		}
		if err := w.jobs.Expire(ctx, jobID); err != nil &&
			!errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrConflict) {
			log.Printf("Sweep failed to expire job %s: %v", jobID, err)
		}
	}
	return nil
}
