package render

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// buildEncodeArgs assembles the ffmpeg mux of the raw capture with the
// original audio into an MP4 for broad playback compatibility. CRF and
// preset are fixed by configuration so output size stays predictable.
func buildEncodeArgs(capturePath, audioPath, outPath string, crf int, preset string, frameRate int) []string {
	return []string{
		"-i", capturePath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", preset,
		"-crf", strconv.Itoa(crf),
		"-r", strconv.Itoa(frameRate),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		"-shortest",
		"-y",
		outPath,
	}
}

// encode muxes the capture with the source audio. ffmpeg output is kept in
// the error for server-side logs; it never reaches the submitter.
func (p *Pipeline) encode(ctx context.Context, workDir, capturePath, audioPath string) (string, error) {
	if _, err := exec.LookPath(p.cfg.FFmpegBin); err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	outPath := filepath.Join(workDir, "output.mp4")
	args := buildEncodeArgs(capturePath, audioPath, outPath, p.cfg.VideoCRF, p.cfg.VideoPreset, p.cfg.FrameRate)

	cmd := exec.CommandContext(ctx, p.cfg.FFmpegBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(out))
	}

	return outPath, nil
}
