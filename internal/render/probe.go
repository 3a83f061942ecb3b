package render

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// AudioInfo is the subset of ffprobe output the pipeline validates against.
type AudioInfo struct {
	CodecName   string
	FormatName  string
	DurationSec float64
	SizeBytes   int64
	HasAudio    bool
}

// probeAudio inspects the input asset with ffprobe. A non-zero exit or a
// file with no audio stream both mean the submitter gave us something we
// cannot render.
func probeAudio(ctx context.Context, ffprobeBin, path string) (*AudioInfo, error) {
	cmd := exec.CommandContext(ctx, ffprobeBin,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_type,codec_name",
		"-show_entries", "format=format_name,duration,size",
		"-of", "default=noprint_wrappers=1",
		path,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, string(out))
	}

	return parseProbeOutput(string(out)), nil
}

// parseProbeOutput parses ffprobe's key=value line output.
func parseProbeOutput(out string) *AudioInfo {
	info := &AudioInfo{}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]

		switch key {
		case "codec_type":
			if value == "audio" {
				info.HasAudio = true
			}
		case "codec_name":
			info.CodecName = value
		case "format_name":
			info.FormatName = value
		case "duration":
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				info.DurationSec = d
			}
		case "size":
			if s, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.SizeBytes = s
			}
		}
	}
	return info
}
