// Package store persists JobRecords in Redis. Every status change goes
// through a Lua compare-and-swap on the record's status field, so exactly
// one writer wins any contended transition (worker claim vs. cancel,
// duplicate redeliveries, concurrent workers).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orielfx/api/internal/model"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrConflict means the record was not in the status the transition
	// requires. The caller decides whether that is an error or a benign
	// lost race.
	ErrConflict = errors.New("job status conflict")
)

const keyPrefix = "job:"

func jobKey(jobID string) string { return keyPrefix + jobID }

// configKey holds the render config beside the record. The transition
// scripts round-trip the record through cjson, which does not preserve
// JSON byte-for-byte (empty arrays, number formatting); the config must
// reach the renderer verbatim, so it never enters a script.
func configKey(jobID string) string { return keyPrefix + jobID + ":config" }

// claimScript atomically moves a queued job to running and increments the
// attempt counter. Returns {1, attemptCount} on success, {0, status} when
// the job is not claimable, and {-1, ""} when the key is gone.
var claimScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return {-1, ''} end
local job = cjson.decode(raw)
if job.status ~= 'queued' then return {0, job.status} end
job.status = 'running'
job.attemptCount = (job.attemptCount or 0) + 1
job.progress = 0
job.currentStep = ARGV[2]
job.startedAt = ARGV[1]
job.updatedAt = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(job), 'KEEPTTL')
return {1, tostring(job.attemptCount)}
`)

// transitionScript is a generic guarded transition: ARGV[1] expected status,
// ARGV[2] next status, ARGV[3] timestamp, ARGV[4] JSON patch merged into the
// record. Same return convention as claimScript.
var transitionScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return {-1, ''} end
local job = cjson.decode(raw)
if job.status ~= ARGV[1] then return {0, job.status} end
job.status = ARGV[2]
job.updatedAt = ARGV[3]
if ARGV[4] ~= '' then
  local patch = cjson.decode(ARGV[4])
  for k, v in pairs(patch) do
    job[k] = v
  end
end
redis.call('SET', KEYS[1], cjson.encode(job), 'KEEPTTL')
return {1, ARGV[2]}
`)

// JobStore is the Redis-backed JobRecord store.
type JobStore struct {
	redis     *redis.Client
	recordTTL time.Duration
}

func NewJobStore(redisClient *redis.Client, recordTTL time.Duration) *JobStore {
	return &JobStore{
		redis:     redisClient,
		recordTTL: recordTTL,
	}
}

// Create persists a new JobRecord. IDs are unique by construction (UUIDv4),
// so an existing key is a programming error.
func (s *JobStore) Create(ctx context.Context, job *model.JobRecord) error {
	rec := *job
	rec.RenderConfig = nil
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, jobKey(job.ID), data, s.recordTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	if len(job.RenderConfig) > 0 {
		if err := s.redis.Set(ctx, configKey(job.ID), []byte(job.RenderConfig), s.recordTTL).Err(); err != nil {
			return fmt.Errorf("failed to save render config: %w", err)
		}
	}
	return nil
}

// Get loads a JobRecord by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (*model.JobRecord, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	cfg, err := s.redis.Get(ctx, configKey(jobID)).Bytes()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	job.RenderConfig = cfg
	return &job, nil
}

// GetOwned loads a JobRecord scoped to an owner. A record belonging to a
// different owner is indistinguishable from a missing one.
func (s *JobStore) GetOwned(ctx context.Context, owner, jobID string) (*model.JobRecord, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, ErrNotFound
	}
	return job, nil
}

// Claim attempts the queued→running transition. Returns the attempt number
// on success and ErrConflict when another writer got there first (the job
// was cancelled, or already claimed by a concurrent worker).
func (s *JobStore) Claim(ctx context.Context, jobID, step string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := claimScript.Run(ctx, s.redis, []string{jobKey(jobID)}, now, step).Slice()
	if err != nil {
		return 0, fmt.Errorf("claim script failed: %w", err)
	}
	return parseScriptResult(res, func(info string) (int, error) {
		var attempt int
		fmt.Sscanf(info, "%d", &attempt)
		return attempt, nil
	})
}

// transition runs the guarded CAS from one status to another, merging patch
// into the record on success.
func (s *JobStore) transition(ctx context.Context, jobID string, from, to model.JobStatus, patch map[string]interface{}) error {
	if !from.CanTransition(to) && from != to {
		return fmt.Errorf("illegal transition %s→%s", from, to)
	}

	patchJSON := ""
	if len(patch) > 0 {
		data, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("failed to marshal patch: %w", err)
		}
		patchJSON = string(data)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := transitionScript.Run(ctx, s.redis,
		[]string{jobKey(jobID)},
		string(from), string(to), now, patchJSON,
	).Slice()
	if err != nil {
		return fmt.Errorf("transition script failed: %w", err)
	}
	_, err = parseScriptResult(res, func(string) (int, error) { return 0, nil })
	return err
}

// Cancel moves a queued job to failed(CANCELLED). Only queued jobs can be
// cancelled; anything else is a conflict.
func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, model.JobStatusQueued, model.JobStatusFailed, map[string]interface{}{
		"error": &model.ErrorDetail{
			Code:    model.ReasonCancelled,
			Message: "cancelled by the submitter before processing",
		},
		"completedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// FailQueued fails a job that never reached a worker, e.g. when the queue
// rejected the task at submission.
func (s *JobStore) FailQueued(ctx context.Context, jobID string, detail *model.ErrorDetail) error {
	return s.transition(ctx, jobID, model.JobStatusQueued, model.JobStatusFailed, map[string]interface{}{
		"error":       detail,
		"completedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Requeue hands a running job back to the queue after a retryable failure.
func (s *JobStore) Requeue(ctx context.Context, jobID string, reason model.ReasonCode) error {
	return s.transition(ctx, jobID, model.JobStatusRunning, model.JobStatusQueued, map[string]interface{}{
		"progress":    0,
		"currentStep": fmt.Sprintf("retrying after %s", reason),
	})
}

// Complete records a successful render: running→completed with the artifact
// reference. completedAt is set here, exactly once.
func (s *JobStore) Complete(ctx context.Context, jobID string, outcome *model.RenderOutcome) error {
	return s.transition(ctx, jobID, model.JobStatusRunning, model.JobStatusCompleted, map[string]interface{}{
		"artifactRef": outcome.ArtifactRef,
		"progress":    100,
		"currentStep": "",
		"completedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Fail records a final failure: running→failed with the structured reason.
func (s *JobStore) Fail(ctx context.Context, jobID string, detail *model.ErrorDetail) error {
	return s.transition(ctx, jobID, model.JobStatusRunning, model.JobStatusFailed, map[string]interface{}{
		"error":       detail,
		"currentStep": "",
		"completedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Expire marks a completed job expired once its artifact has been swept.
func (s *JobStore) Expire(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, model.JobStatusCompleted, model.JobStatusExpired, map[string]interface{}{
		"artifactRef": "",
	})
}

// UpdateProgress updates progress on a running job. Lost races (the job is
// no longer running) are ignored: progress is advisory.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	err := s.transition(ctx, jobID, model.JobStatusRunning, model.JobStatusRunning, map[string]interface{}{
		"progress":    progress,
		"currentStep": step,
	})
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

// parseScriptResult decodes the {code, info} reply shared by both scripts.
func parseScriptResult(res []interface{}, onOK func(info string) (int, error)) (int, error) {
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected script reply: %v", res)
	}
	code, _ := res[0].(int64)
	info, _ := res[1].(string)

	switch code {
	case 1:
		return onOK(info)
	case 0:
		return 0, fmt.Errorf("%w: currently %s", ErrConflict, info)
	default:
		return 0, ErrNotFound
	}
}
