package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/orielfx/api/internal/client"
	"github.com/orielfx/api/internal/model"
)

type recordingSender struct {
	messages []*client.EmailMessage
	failures int
}

func (s *recordingSender) Send(_ context.Context, msg *client.EmailMessage) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp relay refused")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) IsConfigured() bool { return true }

func TestNotify_Completed(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)

	job := &model.JobRecord{ID: "job-1", OwnerEmail: "user@example.com"}
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outcome := &Outcome{
		Completed:   true,
		ArtifactURL: "https://cdn.example.com/artifacts/job-1.mp4?sig=abc",
		ExpiresAt:   expires,
	}

	if err := n.Notify(context.Background(), job, outcome); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.messages))
	}

	msg := sender.messages[0]
	if msg.To != "user@example.com" {
		t.Errorf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "ready") {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, outcome.ArtifactURL) {
		t.Error("body is missing the download link")
	}
	if !strings.Contains(msg.Body, "expires") {
		t.Error("body is missing the expiry notice")
	}
}

func TestNotify_Failed(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)

	job := &model.JobRecord{ID: "job-2", OwnerEmail: "user@example.com"}
	outcome := &Outcome{Completed: false, Reason: model.ReasonInvalidAudio}

	if err := n.Notify(context.Background(), job, outcome); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	msg := sender.messages[0]
	if strings.Contains(msg.Subject, "ready") {
		t.Errorf("failure subject reads like success: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "audio file could not be processed") {
		t.Errorf("expected audio-specific explanation, got %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "job-2") {
		t.Error("body is missing the job id")
	}
}

func TestNotify_NoEmailIsSkipped(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)

	job := &model.JobRecord{ID: "job-3"}
	if err := n.Notify(context.Background(), job, &Outcome{Completed: true}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(sender.messages) != 0 {
		t.Errorf("expected no delivery without an owner email, got %d", len(sender.messages))
	}
}

func TestNotify_RetriesTransientFailure(t *testing.T) {
	sender := &recordingSender{failures: 1}
	n := NewNotifier(sender)

	job := &model.JobRecord{ID: "job-4", OwnerEmail: "user@example.com"}
	if err := n.Notify(context.Background(), job, &Outcome{Completed: true}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected exactly 1 delivered message, got %d", len(sender.messages))
	}
}
