package model

import "testing"

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusQueued:    false,
		JobStatusRunning:   false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusExpired:   true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestJobStatusCanTransition(t *testing.T) {
	allowed := []struct {
		from, to JobStatus
	}{
		{JobStatusQueued, JobStatusRunning},
		{JobStatusQueued, JobStatusFailed},
		{JobStatusRunning, JobStatusQueued},
		{JobStatusRunning, JobStatusCompleted},
		{JobStatusRunning, JobStatusFailed},
		{JobStatusCompleted, JobStatusExpired},
		{JobStatusFailed, JobStatusExpired},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to JobStatus
	}{
		{JobStatusQueued, JobStatusCompleted},
		{JobStatusQueued, JobStatusExpired},
		{JobStatusCompleted, JobStatusQueued},
		{JobStatusCompleted, JobStatusRunning},
		{JobStatusFailed, JobStatusQueued},
		{JobStatusExpired, JobStatusQueued},
		{JobStatusExpired, JobStatusExpired},
		{JobStatusRunning, JobStatusExpired},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestReasonCodeRetryable(t *testing.T) {
	retryable := map[ReasonCode]bool{
		ReasonInvalidInput:     false,
		ReasonInvalidAudio:     false,
		ReasonCaptureFailed:    false,
		ReasonEncodeFailed:     false,
		ReasonUploadFailed:     true,
		ReasonTimeout:          true,
		ReasonRetryExhausted:   false,
		ReasonCancelled:        false,
		ReasonQueueUnavailable: false,
	}
	for code, want := range retryable {
		if got := code.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", code, got, want)
		}
	}
}
