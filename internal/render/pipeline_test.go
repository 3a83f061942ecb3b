package render

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/orielfx/api/internal/config"
	"github.com/orielfx/api/internal/model"
)

func testPipeline() *Pipeline {
	return NewPipeline(config.RenderConfig{
		MaxInputBytes: 50 * 1024 * 1024,
	}, nil)
}

func TestValidateAudio(t *testing.T) {
	p := testPipeline()
	job := &model.JobRecord{MaxDurationSec: 30}

	good := &AudioInfo{HasAudio: true, DurationSec: 25, SizeBytes: 1024}
	if err := p.validateAudio(good, job); err != nil {
		t.Errorf("expected valid audio to pass, got %v", err)
	}

	noStream := &AudioInfo{HasAudio: false, DurationSec: 25}
	if err := p.validateAudio(noStream, job); err == nil {
		t.Error("expected error for missing audio stream")
	}

	zeroDur := &AudioInfo{HasAudio: true, DurationSec: 0}
	if err := p.validateAudio(zeroDur, job); err == nil {
		t.Error("expected error for unknown duration")
	}

	tooLong := &AudioInfo{HasAudio: true, DurationSec: 31.5, SizeBytes: 1024}
	err := p.validateAudio(tooLong, job)
	if err == nil {
		t.Fatal("expected error for over-limit duration")
	}
	if !strings.Contains(err.Error(), "plan limit") {
		t.Errorf("expected plan limit message, got %q", err.Error())
	}

	tooBig := &AudioInfo{HasAudio: true, DurationSec: 10, SizeBytes: 51 * 1024 * 1024}
	if err := p.validateAudio(tooBig, job); err == nil {
		t.Error("expected error for oversized input")
	}
}

func TestValidateAudio_NoDurationLimit(t *testing.T) {
	p := testPipeline()
	job := &model.JobRecord{MaxDurationSec: 0}

	long := &AudioInfo{HasAudio: true, DurationSec: 3600, SizeBytes: 1024}
	if err := p.validateAudio(long, job); err != nil {
		t.Errorf("expected no limit when MaxDurationSec is zero, got %v", err)
	}
}

func TestClassify_DeadlineBecomesTimeout(t *testing.T) {
	p := testPipeline()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	<-ctx.Done()

	rerr := p.classify("capture", ctx, model.ReasonCaptureFailed, errors.New("browser exited"))
	if rerr.Reason != model.ReasonTimeout {
		t.Errorf("expected TIMEOUT after deadline, got %s", rerr.Reason)
	}

	rerr = p.classify("capture", context.Background(), model.ReasonCaptureFailed, errors.New("browser exited"))
	if rerr.Reason != model.ReasonCaptureFailed {
		t.Errorf("expected CAPTURE_FAILED without deadline, got %s", rerr.Reason)
	}
}

func TestErrorDetail(t *testing.T) {
	invalid := failStep("probe", model.ReasonInvalidAudio, errors.New("no audio stream found in input"))
	d := invalid.Detail()
	if d.Code != model.ReasonInvalidAudio || d.Message != "no audio stream found in input" {
		t.Errorf("expected verbatim message for invalid audio, got %+v", d)
	}

	encode := failStep("encode", model.ReasonEncodeFailed, errors.New("ffmpeg exit 1: long internal output"))
	d = encode.Detail()
	if d.Code != model.ReasonEncodeFailed {
		t.Errorf("expected ENCODE_FAILED, got %s", d.Code)
	}
	if strings.Contains(d.Message, "ffmpeg") {
		t.Errorf("internal tool output leaked to submitter: %q", d.Message)
	}

	timeout := failStep("capture", model.ReasonTimeout, context.DeadlineExceeded)
	if timeout.Detail().Message != "rendering exceeded the time limit" {
		t.Errorf("unexpected timeout message: %q", timeout.Detail().Message)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	rerr := failStep("upload", model.ReasonUploadFailed, inner)

	var target *Error
	if !errors.As(error(rerr), &target) {
		t.Fatal("errors.As failed to match *Error")
	}
	if !errors.Is(rerr, inner) {
		t.Error("expected wrapped error to match via errors.Is")
	}
}
