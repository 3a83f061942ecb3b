// Package render turns one JobRecord's audio input and config into a
// finished video artifact. The pipeline is a straight-line state machine
// (initializing → capturing → encoding → uploading → done) with guaranteed
// workspace cleanup on every exit path.
package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/orielfx/api/internal/client"
	"github.com/orielfx/api/internal/config"
	"github.com/orielfx/api/internal/model"
)

// ProgressFunc receives advisory progress updates while the pipeline runs.
type ProgressFunc func(progress int, step string)

var errStorageUnconfigured = errors.New("artifact storage is not configured")

type Pipeline struct {
	cfg     config.RenderConfig
	storage client.StorageClient
}

func NewPipeline(cfg config.RenderConfig, storage client.StorageClient) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		storage: storage,
	}
}

// Preflight fetches and validates the input without claiming the job. It
// lets client-caused input rejections fail the job straight out of the
// queue, before any attempt is recorded.
func (p *Pipeline) Preflight(ctx context.Context, job *model.JobRecord) (*AudioInfo, error) {
	if p.storage == nil {
		return nil, failStep("initializing", model.ReasonUploadFailed, errStorageUnconfigured)
	}

	workDir, err := os.MkdirTemp(p.cfg.WorkDir, "orielfx-preflight-")
	if err != nil {
		return nil, failStep("initializing", model.ReasonUploadFailed, err)
	}
	defer os.RemoveAll(workDir)

	audioPath := filepath.Join(workDir, "input"+filepath.Ext(job.InputRef))
	if err := p.storage.Download(ctx, job.InputRef, audioPath); err != nil {
		if client.IsNotFound(err) {
			return nil, failStep("initializing", model.ReasonInvalidAudio, fmt.Errorf("input asset %s is gone", job.InputRef))
		}
		return nil, p.classify("initializing", ctx, model.ReasonUploadFailed, err)
	}

	info, err := probeAudio(ctx, p.cfg.FFprobeBin, audioPath)
	if err != nil {
		return nil, p.classify("initializing", ctx, model.ReasonInvalidAudio, err)
	}
	if err := p.validateAudio(info, job); err != nil {
		return nil, failStep("initializing", model.ReasonInvalidAudio, err)
	}
	return info, nil
}

// Run executes one render attempt. Any returned error is a *render.Error
// whose reason code drives the orchestrator's retry decision. The attempt
// deadline is enforced by the caller through ctx; a deadline hit anywhere
// is reported as TIMEOUT.
func (p *Pipeline) Run(ctx context.Context, job *model.JobRecord, onProgress ProgressFunc) (*model.RenderOutcome, error) {
	if onProgress == nil {
		onProgress = func(int, string) {}
	}
	if p.storage == nil {
		return nil, failStep("initializing", model.ReasonUploadFailed, errStorageUnconfigured)
	}
	started := time.Now()

	// Initializing: exclusive per-attempt workspace, released no matter how
	// the attempt ends.
	onProgress(5, "preparing workspace")
	workDir, err := os.MkdirTemp(p.cfg.WorkDir, "orielfx-"+job.ID+"-")
	if err != nil {
		return nil, failStep("initializing", model.ReasonCaptureFailed, fmt.Errorf("failed to create workspace: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("Failed to clean workspace %s: %v", workDir, err)
		}
	}()

	audioPath := filepath.Join(workDir, "input"+filepath.Ext(job.InputRef))
	if err := p.storage.Download(ctx, job.InputRef, audioPath); err != nil {
		if client.IsNotFound(err) {
			return nil, failStep("initializing", model.ReasonInvalidAudio, fmt.Errorf("input asset %s is gone", job.InputRef))
		}
		return nil, p.classify("initializing", ctx, model.ReasonUploadFailed, fmt.Errorf("failed to fetch input: %w", err))
	}

	onProgress(10, "validating audio")
	info, err := probeAudio(ctx, p.cfg.FFprobeBin, audioPath)
	if err != nil {
		return nil, p.classify("initializing", ctx, model.ReasonInvalidAudio, err)
	}
	if err := p.validateAudio(info, job); err != nil {
		return nil, failStep("initializing", model.ReasonInvalidAudio, err)
	}

	// Capturing: headless browser plays the audio against the visualizer
	// config and records the canvas, paced by the audio clock.
	onProgress(25, "capturing visualization")
	capturePath, err := p.capture(ctx, workDir, audioPath, job.RenderConfig, info.DurationSec)
	if err != nil {
		return nil, p.classify("capturing", ctx, model.ReasonCaptureFailed, err)
	}

	// Encoding: mux capture + original audio into the delivery MP4.
	onProgress(60, "encoding video")
	outPath, err := p.encode(ctx, workDir, capturePath, audioPath)
	if err != nil {
		return nil, p.classify("encoding", ctx, model.ReasonEncodeFailed, err)
	}

	// Uploading: push the artifact; the storage client retries transient
	// failures with bounded backoff before giving up.
	onProgress(85, "uploading artifact")
	artifactKey := client.ArtifactKey(job.ID)
	f, err := os.Open(outPath)
	if err != nil {
		return nil, failStep("uploading", model.ReasonUploadFailed, err)
	}
	defer f.Close()

	st, _ := f.Stat()
	if _, err := p.storage.Upload(ctx, artifactKey, f, "video/mp4"); err != nil {
		return nil, p.classify("uploading", ctx, model.ReasonUploadFailed, err)
	}

	var size int64
	if st != nil {
		size = st.Size()
	}
	return &model.RenderOutcome{
		ArtifactRef: artifactKey,
		DurationSec: info.DurationSec,
		SizeBytes:   size,
		Elapsed:     time.Since(started),
	}, nil
}

// validateAudio enforces the input bounds recorded on the job at
// submission.
func (p *Pipeline) validateAudio(info *AudioInfo, job *model.JobRecord) error {
	if !info.HasAudio {
		return fmt.Errorf("no audio stream found in input")
	}
	if info.DurationSec <= 0 {
		return fmt.Errorf("could not determine audio duration")
	}
	maxDur := float64(job.MaxDurationSec)
	if maxDur > 0 && info.DurationSec > maxDur {
		return fmt.Errorf("audio is %.1fs, plan limit is %.0fs", info.DurationSec, maxDur)
	}
	if p.cfg.MaxInputBytes > 0 && info.SizeBytes > p.cfg.MaxInputBytes {
		return fmt.Errorf("input is %d bytes, limit is %d", info.SizeBytes, p.cfg.MaxInputBytes)
	}
	return nil
}

// classify maps a step failure to its reason code, except when the attempt
// deadline already expired: every step reports that uniformly as TIMEOUT.
func (p *Pipeline) classify(step string, ctx context.Context, reason model.ReasonCode, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failStep(step, model.ReasonTimeout, err)
	}
	return failStep(step, reason, err)
}
