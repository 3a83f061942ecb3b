package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orielfx/api/internal/model"
)

// setupStore connects to the local Redis test database. Tests are skipped
// when Redis is not running so the pure-Go packages still test in CI
// without services.
func setupStore(t *testing.T) *JobStore {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available on localhost:6379: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return NewJobStore(client, time.Hour)
}

func newTestJob() *model.JobRecord {
	now := time.Now().UTC()
	return &model.JobRecord{
		ID:             uuid.New().String(),
		Owner:          "user-1",
		OwnerEmail:     "user@example.com",
		InputRef:       "uploads/track.mp3",
		RenderConfig:   []byte(`{"version":1}`),
		MaxDurationSec: 30,
		Status:         model.JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// duplicate IDs are rejected
	if err := s.Create(ctx, job); err == nil {
		t.Error("expected error creating duplicate job")
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Owner != job.Owner || got.Status != model.JobStatusQueued {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.Get(ctx, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOwned(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := s.GetOwned(ctx, job.Owner, job.ID); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}
	// a different owner must not learn the job exists
	if _, err := s.GetOwned(ctx, "someone-else", job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestClaim(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	attempt, err := s.Claim(ctx, job.ID, "downloading")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if attempt != 1 {
		t.Errorf("expected attempt 1, got %d", attempt)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.JobStatusRunning {
		t.Errorf("expected running, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("expected startedAt to be set")
	}

	// second claim loses the race
	if _, err := s.Claim(ctx, job.ID, "downloading"); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on double claim, got %v", err)
	}

	// claiming a missing job
	if _, err := s.Claim(ctx, uuid.New().String(), "downloading"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClaim_Concurrent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var successes int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Claim(ctx, job.ID, "downloading")
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrConflict):
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly 1 winning claim, got %d", successes)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.AttemptCount != 1 {
		t.Errorf("expected attemptCount 1 after contended claim, got %d", got.AttemptCount)
	}
}

func TestRenderConfigSurvivesTransitions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// Empty arrays and high-precision numbers would not survive a cjson
	// round-trip; the config must come back byte-for-byte regardless of
	// how many transitions the record goes through.
	raw := `{"version":1,"colors":[],"gain":0.30000000000000004,"label":"aurora"}`
	job := newTestJob()
	job.RenderConfig = []byte(raw)
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Claim(ctx, job.ID, "downloading"); err != nil {
		t.Fatal(err)
	}
	if err := s.Requeue(ctx, job.ID, model.ReasonUploadFailed); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, job.ID, "downloading"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.RenderConfig) != raw {
		t.Errorf("render config was rewritten:\n got: %s\nwant: %s", got.RenderConfig, raw)
	}
}

func TestCancelOnlyQueued(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || got.Error.Code != model.ReasonCancelled {
		t.Errorf("expected CANCELLED detail, got %+v", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("expected completedAt on cancelled job")
	}

	// cancelling again conflicts
	if err := s.Cancel(ctx, job.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	// a claimed job can no longer be cancelled
	running := newTestJob()
	if err := s.Create(ctx, running); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, running.ID, "downloading"); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel(ctx, running.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict cancelling a running job, got %v", err)
	}
}

func TestRequeueAndReclaim(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, job.ID, "downloading"); err != nil {
		t.Fatal(err)
	}

	if err := s.Requeue(ctx, job.ID, model.ReasonUploadFailed); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.JobStatusQueued {
		t.Errorf("expected queued after requeue, got %s", got.Status)
	}

	attempt, err := s.Claim(ctx, job.ID, "downloading")
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if attempt != 2 {
		t.Errorf("expected attempt 2 after requeue, got %d", attempt)
	}
}

func TestCompleteAndExpire(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, job.ID, "downloading"); err != nil {
		t.Fatal(err)
	}

	outcome := &model.RenderOutcome{ArtifactRef: "artifacts/" + job.ID + ".mp4"}
	if err := s.Complete(ctx, job.ID, outcome); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.ArtifactRef != outcome.ArtifactRef {
		t.Errorf("expected artifact ref, got %q", got.ArtifactRef)
	}
	if got.Progress != 100 {
		t.Errorf("expected progress 100, got %d", got.Progress)
	}

	if err := s.Expire(ctx, job.ID); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	got, _ = s.Get(ctx, job.ID)
	if got.Status != model.JobStatusExpired {
		t.Errorf("expected expired, got %s", got.Status)
	}
	if got.ArtifactRef != "" {
		t.Errorf("expected cleared artifact ref, got %q", got.ArtifactRef)
	}

	// expired is final
	if err := s.Expire(ctx, job.ID); err == nil {
		t.Error("expected error expiring an expired job")
	}
}

func TestFail(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, job.ID, "capturing"); err != nil {
		t.Fatal(err)
	}

	detail := &model.ErrorDetail{Code: model.ReasonCaptureFailed, Message: "rendering failed"}
	if err := s.Fail(ctx, job.ID, detail); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || got.Error.Code != model.ReasonCaptureFailed {
		t.Errorf("expected CAPTURE_FAILED detail, got %+v", got.Error)
	}
}

func TestUpdateProgress(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	job := newTestJob()
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	// progress on a queued job is a benign no-op
	if err := s.UpdateProgress(ctx, job.ID, 50, "capturing"); err != nil {
		t.Errorf("expected lost progress race to be swallowed, got %v", err)
	}

	if _, err := s.Claim(ctx, job.ID, "downloading"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProgress(ctx, job.ID, 25, "capturing"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Progress != 25 || got.CurrentStep != "capturing" {
		t.Errorf("expected progress 25/capturing, got %d/%s", got.Progress, got.CurrentStep)
	}
}
