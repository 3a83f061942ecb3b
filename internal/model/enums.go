package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusExpired   JobStatus = "expired"
)

// IsTerminal reports whether a job in this status will never run again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether the status graph allows moving from s to
// next. The graph is forward-only with a single loop: running→queued when
// a retryable attempt is handed back to the queue.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusQueued || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed:
		return next == JobStatusExpired
	}
	return false
}

// Failure reason codes carried in error_detail and API responses.
type ReasonCode string

const (
	ReasonInvalidInput     ReasonCode = "INVALID_INPUT"
	ReasonInvalidAudio     ReasonCode = "INVALID_AUDIO"
	ReasonCaptureFailed    ReasonCode = "CAPTURE_FAILED"
	ReasonEncodeFailed     ReasonCode = "ENCODE_FAILED"
	ReasonUploadFailed     ReasonCode = "UPLOAD_FAILED"
	ReasonTimeout          ReasonCode = "TIMEOUT"
	ReasonRetryExhausted   ReasonCode = "RETRY_EXHAUSTED"
	ReasonCancelled        ReasonCode = "CANCELLED"
	ReasonQueueUnavailable ReasonCode = "QUEUE_UNAVAILABLE"
)

// Retryable reports whether a failed attempt with this reason should be
// handed back to the queue. Client-caused and deterministic pipeline
// failures are final; only transient infrastructure failures retry.
func (r ReasonCode) Retryable() bool {
	switch r {
	case ReasonUploadFailed, ReasonTimeout:
		return true
	}
	return false
}

// Subscription plans, as carried in the JWT plan claim. The plan only
// affects the maximum input duration accepted for rendering.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)
