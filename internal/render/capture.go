package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// captureSink is the loopback HTTP endpoint the visualizer page talks to
// during capture: it serves the input audio to the page and receives the
// recorded stream back when the audio clock runs out.
type captureSink struct {
	listener  net.Listener
	server    *http.Server
	audioPath string
	outPath   string
	done      chan error
}

func newCaptureSink(audioPath, outPath string) (*captureSink, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to open capture listener: %w", err)
	}

	sink := &captureSink{
		listener:  listener,
		audioPath: audioPath,
		outPath:   outPath,
		done:      make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/audio", sink.serveAudio)
	mux.HandleFunc("/capture", sink.receiveCapture)
	sink.server = &http.Server{Handler: mux}

	go sink.server.Serve(listener)
	return sink, nil
}

func (s *captureSink) baseURL() string {
	return "http://" + s.listener.Addr().String()
}

func (s *captureSink) serveAudio(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.audioPath)
}

func (s *captureSink) receiveCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	f, err := os.Create(s.outPath)
	if err != nil {
		s.done <- err
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if _, err := io.Copy(f, r.Body); err != nil {
		s.done <- err
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	s.done <- nil
}

func (s *captureSink) Close() {
	s.server.Close()
}

// buildCaptureArgs assembles the headless browser invocation for one
// capture. The page records its own canvas against the audio element and
// posts the result to the sink, so recording length follows the audio
// clock rather than a wall timer.
func buildCaptureArgs(browserBin, pageURL string, width, height int) []string {
	return []string{
		"--headless=new",
		"--no-sandbox",
		"--disable-gpu-sandbox",
		"--disable-dev-shm-usage",
		"--autoplay-policy=no-user-gesture-required",
		"--mute-audio",
		fmt.Sprintf("--window-size=%d,%d", width, height),
		pageURL,
	}
}

// buildPageURL points the visualizer page at the sink and embeds the
// render config verbatim (base64url, the page decodes it).
func buildPageURL(visualizerURL, sinkBase string, renderConfig json.RawMessage) string {
	q := url.Values{}
	q.Set("audio", sinkBase+"/audio")
	q.Set("sink", sinkBase+"/capture")
	q.Set("config", base64.RawURLEncoding.EncodeToString(renderConfig))

	sep := "?"
	if containsQuery(visualizerURL) {
		sep = "&"
	}
	return visualizerURL + sep + q.Encode()
}

func containsQuery(u string) bool {
	parsed, err := url.Parse(u)
	return err == nil && parsed.RawQuery != ""
}

// capture drives the headless browser and blocks until the page has posted
// its recording or the attempt deadline passes. The grace added on top of
// the audio duration covers page load and encoder flush on slow hosts.
func (p *Pipeline) capture(ctx context.Context, workDir, audioPath string, renderConfig json.RawMessage, durationSec float64) (string, error) {
	outPath := filepath.Join(workDir, "capture.webm")

	sink, err := newCaptureSink(audioPath, outPath)
	if err != nil {
		return "", err
	}
	defer sink.Close()

	grace := 30 * time.Second
	captureCtx, cancel := context.WithTimeout(ctx, time.Duration(durationSec*float64(time.Second))+grace)
	defer cancel()

	pageURL := buildPageURL(p.cfg.VisualizerURL, sink.baseURL(), renderConfig)
	args := buildCaptureArgs(p.cfg.BrowserBin, pageURL, p.cfg.Width, p.cfg.Height)

	cmd := exec.CommandContext(captureCtx, p.cfg.BrowserBin, args...)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start browser: %w", err)
	}
	// The browser never exits on its own in headless page mode; it is torn
	// down when the capture completes or the context expires.
	defer func() {
		cancel()
		cmd.Wait()
	}()

	select {
	case err := <-sink.done:
		if err != nil {
			return "", fmt.Errorf("capture sink write failed: %w", err)
		}
	case <-captureCtx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			// attempt-level timeout, classified by the caller
			return "", ctx.Err()
		}
		return "", fmt.Errorf("browser produced no capture within the audio window")
	}

	st, err := os.Stat(outPath)
	if err != nil || st.Size() == 0 {
		return "", fmt.Errorf("capture output missing or empty")
	}
	return outPath, nil
}
