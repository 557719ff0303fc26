package scan

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.HTTPTimeout = 500 * time.Millisecond
	return cfg
}

func TestIsStreamResponse(t *testing.T) {
	cases := []struct {
		status      int
		contentType string
		want        bool
	}{
		{200, "video/mp4", true},
		{200, "multipart/x-mixed-replace; boundary=frame", false},
		{200, "application/octet-stream", true},
		{206, "Video/MP2T", true},
		{200, "image/x-MJPEG", true},
		{200, "text/html", false},
		{200, "", false},
		{302, "video/mp4", false},
		{404, "video/mp4", false},
		{500, "application/x-mpegURL stream", false},
	}
	for _, tc := range cases {
		if got := isStreamResponse(tc.status, tc.contentType); got != tc.want {
			t.Fatalf("isStreamResponse(%d, %q) = %v, want %v", tc.status, tc.contentType, got, tc.want)
		}
	}
}

func TestCandidatesOrder(t *testing.T) {
	c := NewClassifier(testConfig(), zerolog.Nop(), WithDialer(newFakeNet()), WithHTTPClient(&fakeDoer{}))
	got := c.Candidates("10.0.0.5", 8080)
	want := []string{
		"http://10.0.0.5:8080/video",
		"http://10.0.0.5:8080/stream",
		"http://10.0.0.5:8080/mjpeg",
		"rtsp://10.0.0.5:8080/live",
		"http://10.0.0.5:8080/video.mjpg",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(got))
	}
	for i, ep := range got {
		if ep.URL() != want[i] {
			t.Fatalf("candidate %d: expected %s, got %s", i, want[i], ep.URL())
		}
	}
}

func TestClassifyRTSPConfirmedByConnect(t *testing.T) {
	network := newFakeNet("10.0.0.5:554")
	c := NewClassifier(testConfig(), zerolog.Nop(), WithDialer(network), WithHTTPClient(&fakeDoer{}))

	stream, ok := c.Classify(context.Background(), "10.0.0.5", 554)
	if !ok {
		t.Fatalf("expected an rtsp stream")
	}
	if stream.URL != "rtsp://10.0.0.5:554/live" {
		t.Fatalf("unexpected url %s", stream.URL)
	}
	if stream.Scheme != "rtsp" || stream.Port != 554 || stream.Path != "/live" {
		t.Fatalf("unexpected stream fields %+v", stream)
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	doer := &fakeDoer{responses: map[string]fakeResponse{
		"http://10.0.0.7:8080/stream":    {status: 200, contentType: "video/mp4"},
		"http://10.0.0.7:8080/video.mjpg": {status: 200, contentType: "image/mjpeg"},
	}}
	network := newFakeNet("10.0.0.7:8080")
	c := NewClassifier(testConfig(), zerolog.Nop(), WithDialer(network), WithHTTPClient(doer))

	stream, ok := c.Classify(context.Background(), "10.0.0.7", 8080)
	if !ok {
		t.Fatalf("expected a stream")
	}
	if stream.URL != "http://10.0.0.7:8080/stream" {
		t.Fatalf("expected first matching candidate, got %s", stream.URL)
	}
	if len(doer.requests) != 2 {
		t.Fatalf("expected evaluation to stop at the first match, got %v", doer.requests)
	}
	for _, r := range doer.requests {
		if r[:5] != "HEAD " {
			t.Fatalf("expected header-only requests, got %s", r)
		}
	}
}

func TestClassifyRejectsNonStreamContent(t *testing.T) {
	doer := &fakeDoer{responses: map[string]fakeResponse{
		"http://10.0.0.8:80/video":      {status: 200, contentType: "text/html"},
		"http://10.0.0.8:80/stream":     {status: 404, contentType: "video/mp4"},
		"http://10.0.0.8:80/mjpeg":      {status: 301},
		"http://10.0.0.8:80/video.mjpg": {status: 200, contentType: "application/json"},
	}}
	// The port answers HTTP but refuses the bare connect used for rtsp.
	c := NewClassifier(testConfig(), zerolog.Nop(), WithDialer(newFakeNet()), WithHTTPClient(doer))

	if stream, ok := c.Classify(context.Background(), "10.0.0.8", 80); ok {
		t.Fatalf("expected no stream, got %s", stream.URL)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	doer := &fakeDoer{responses: map[string]fakeResponse{
		"http://10.0.0.9:8000/mjpeg": {status: 200, contentType: "multipart/x-mixed-replace;boundary=mjpeg"},
	}}
	c := NewClassifier(testConfig(), zerolog.Nop(), WithDialer(newFakeNet()), WithHTTPClient(doer))

	first, ok := c.Classify(context.Background(), "10.0.0.9", 8000)
	if !ok {
		t.Fatalf("expected a stream")
	}
	for i := 0; i < 5; i++ {
		again, ok := c.Classify(context.Background(), "10.0.0.9", 8000)
		if !ok || again.URL != first.URL {
			t.Fatalf("expected identical verdicts, got %v %s", ok, again.URL)
		}
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	c := NewClassifier(testConfig(), zerolog.Nop(), WithDialer(newFakeNet("10.0.0.5:554")), WithHTTPClient(&fakeDoer{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := c.Classify(ctx, "10.0.0.5", 554); ok {
		t.Fatalf("expected no verdict after cancellation")
	}
}

func TestClassifyHTTPServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/video", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD request, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	c := NewClassifier(testConfig(), zerolog.Nop())
	stream, ok := c.Classify(context.Background(), host, port)
	if !ok {
		t.Fatalf("expected the /stream endpoint to match")
	}
	if stream.Path != "/stream" {
		t.Fatalf("expected the redirect to be a non-match, got %s", stream.URL)
	}
}

func TestEvaluateUnknownScheme(t *testing.T) {
	c := NewClassifier(testConfig(), zerolog.Nop(), WithDialer(newFakeNet("10.0.0.5:554")), WithHTTPClient(&fakeDoer{}))
	if c.Evaluate(context.Background(), Endpoint{Scheme: "rtmp", Host: "10.0.0.5", Port: 554, Path: "/live"}) {
		t.Fatalf("expected unknown scheme to be a non-match")
	}
}
