package render

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
)

func TestBuildPageURL(t *testing.T) {
	cfg := json.RawMessage(`{"version":1,"shape":"cube"}`)
	pageURL := buildPageURL("http://localhost:3000/render.html", "http://127.0.0.1:43521", cfg)

	parsed, err := url.Parse(pageURL)
	if err != nil {
		t.Fatalf("page URL does not parse: %v", err)
	}

	q := parsed.Query()
	if q.Get("audio") != "http://127.0.0.1:43521/audio" {
		t.Errorf("unexpected audio URL: %q", q.Get("audio"))
	}
	if q.Get("sink") != "http://127.0.0.1:43521/capture" {
		t.Errorf("unexpected sink URL: %q", q.Get("sink"))
	}

	decoded, err := base64.RawURLEncoding.DecodeString(q.Get("config"))
	if err != nil {
		t.Fatalf("config param is not base64url: %v", err)
	}
	if string(decoded) != string(cfg) {
		t.Errorf("config round-trip mismatch: %s", decoded)
	}
}

func TestBuildPageURL_ExistingQuery(t *testing.T) {
	pageURL := buildPageURL("http://localhost:3000/render.html?embed=1", "http://127.0.0.1:1", nil)

	if strings.Count(pageURL, "?") != 1 {
		t.Errorf("expected a single '?' in %q", pageURL)
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		t.Fatalf("page URL does not parse: %v", err)
	}
	if parsed.Query().Get("embed") != "1" {
		t.Error("existing query parameter lost")
	}
}

func TestBuildCaptureArgs(t *testing.T) {
	args := buildCaptureArgs("chromium", "http://localhost/page", 1920, 1080)

	if args[len(args)-1] != "http://localhost/page" {
		t.Errorf("page URL must be the last argument, got %q", args[len(args)-1])
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--headless=new",
		"--autoplay-policy=no-user-gesture-required",
		"--mute-audio",
		"--window-size=1920,1080",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in capture args", want)
		}
	}
}
