// Package notify delivers terminal-state messages to job owners. It is a
// read-only consumer of JobRecords: delivery failures are logged and
// retried a few times, never reflected back into job state.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/orielfx/api/internal/client"
	"github.com/orielfx/api/internal/model"
)

const sendAttempts = 3

// Notifier composes and sends the completion/failure email for one job.
type Notifier struct {
	sender client.EmailSender
}

func NewNotifier(sender client.EmailSender) *Notifier {
	return &Notifier{sender: sender}
}

// Outcome is what the worker hands over when a job reaches a terminal
// state.
type Outcome struct {
	Completed   bool
	ArtifactURL string
	ExpiresAt   time.Time
	Reason      model.ReasonCode
}

// Notify sends the terminal-state message. Duplicate deliveries are
// acceptable; recipients tolerate them, so no deduplication happens here.
func (n *Notifier) Notify(ctx context.Context, job *model.JobRecord, outcome *Outcome) error {
	if job.OwnerEmail == "" {
		log.Printf("Job %s has no owner email, skipping notification", job.ID)
		return nil
	}

	msg := &client.EmailMessage{
		To:      job.OwnerEmail,
		Subject: subjectFor(outcome),
		Body:    bodyFor(job, outcome),
	}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err := n.sender.Send(ctx, msg); err != nil {
			lastErr = err
			log.Printf("Notification for job %s failed (attempt %d/%d): %v", job.ID, attempt, sendAttempts, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to notify for job %s: %w", job.ID, lastErr)
}

func subjectFor(outcome *Outcome) string {
	if outcome.Completed {
		return "Your Oriel FX video is ready"
	}
	return "Your Oriel FX render did not finish"
}

func bodyFor(job *model.JobRecord, outcome *Outcome) string {
	if outcome.Completed {
		return fmt.Sprintf(
			"Your audio visualization is ready.\n\n"+
				"Download: %s\n\n"+
				"The link expires on %s. After that the video is removed and you can re-render it at any time.\n",
			outcome.ArtifactURL,
			outcome.ExpiresAt.UTC().Format(time.RFC1123),
		)
	}

	reason := "the render could not be completed"
	switch outcome.Reason {
	case model.ReasonInvalidAudio:
		reason = "the audio file could not be processed — please check the format and length"
	case model.ReasonRetryExhausted:
		reason = "the render kept failing after several attempts"
	case model.ReasonCancelled:
		reason = "the render was cancelled"
	}

	return fmt.Sprintf(
		"Unfortunately your render (job %s) did not finish: %s.\n\n"+
			"You can submit it again from your dashboard.\n",
		job.ID, reason,
	)
}
