package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamscan/internal/scan"
)

type portsFor func(ctx context.Context, host string) []int

func (f portsFor) Probe(ctx context.Context, host string) []int { return f(ctx, host) }

type rtspEverywhere struct{}

func (rtspEverywhere) Classify(_ context.Context, host string, port int) (scan.Stream, bool) {
	ep := scan.Endpoint{Scheme: "rtsp", Host: host, Port: port, Path: "/live"}
	return scan.Stream{URL: ep.URL(), Scheme: ep.Scheme, Host: host, Port: port, Path: ep.Path}, true
}

func testDefaults() scan.Config {
	cfg := scan.DefaultConfig()
	cfg.OverallDeadline = 10 * time.Second
	return cfg
}

func newTestServer(t *testing.T, prober scan.PortProber, startRate int) (*httptest.Server, *scan.Manager) {
	t.Helper()
	manager := scan.NewManager(func(cfg scan.Config) (*scan.Scanner, error) {
		return scan.NewScanner(cfg, scan.StaticSource{"10.0.0.5", "10.0.0.6"},
			scan.WithProber(prober),
			scan.WithClassifier(rtspEverywhere{}),
		)
	})
	ctx, cancel := context.WithCancel(context.Background())
	srv := New(ctx, manager, Options{Defaults: testDefaults(), StartRate: startRate, Logger: zerolog.Nop()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts, manager
}

func onlyRTSP(ctx context.Context, host string) []int {
	if host == "10.0.0.5" {
		return []int{554}
	}
	return nil
}

func post(t *testing.T, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func waitIdle(t *testing.T, m *scan.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func TestStartScanAndFetchSnapshot(t *testing.T) {
	ts, manager := newTestServer(t, portsFor(onlyRTSP), 0)

	resp := post(t, ts.URL+"/api/scans", "application/json", strings.NewReader(`{"hostConcurrency": 2}`))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started scan.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, 2, started.Config.HostConcurrency)
	assert.Equal(t, scan.DefaultPorts, started.Config.Ports)

	waitIdle(t, manager)

	resp = get(t, ts.URL+"/api/scans/current")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snapshot scan.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Equal(t, scan.StatusCompleted, snapshot.Progress.Status)
	assert.Equal(t, []string{"rtsp://10.0.0.5:554/live"}, snapshot.Report.URLs())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	ts, _ := newTestServer(t, portsFor(onlyRTSP), 0)

	resp := post(t, ts.URL+"/api/scans", "application/json", strings.NewReader(`{"ports": [70000]}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/scans", "application/json", strings.NewReader(`{"ports": `))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartWhileRunningConflicts(t *testing.T) {
	release := make(chan struct{})
	blocking := portsFor(func(ctx context.Context, host string) []int {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	ts, manager := newTestServer(t, blocking, 0)

	resp := post(t, ts.URL+"/api/scans", "application/json", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = post(t, ts.URL+"/api/scans", "application/json", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, ts.URL+"/api/scans/cancel", "application/json", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	close(release)
	waitIdle(t, manager)

	assert.Equal(t, scan.StatusCancelled, manager.GetSnapshot().Progress.Status)
}

func TestControlWithoutScanConflicts(t *testing.T) {
	ts, _ := newTestServer(t, portsFor(onlyRTSP), 0)
	for _, op := range []string{"pause", "resume", "cancel"} {
		resp := post(t, ts.URL+"/api/scans/"+op, "application/json", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, op)
	}
	resp := get(t, ts.URL+"/api/scans/current/export")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportImportRoundTrip(t *testing.T) {
	ts, manager := newTestServer(t, portsFor(onlyRTSP), 0)
	resp := post(t, ts.URL+"/api/scans", "application/json", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitIdle(t, manager)

	resp = get(t, ts.URL+"/api/scans/current/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	exported, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	other, _ := newTestServer(t, portsFor(onlyRTSP), 0)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "streams.json")
	require.NoError(t, err)
	_, err = part.Write(exported)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp = post(t, other.URL+"/api/scans/import", mw.FormDataContentType(), &body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = get(t, other.URL+"/api/scans/current")
	var snapshot scan.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Equal(t, []string{"rtsp://10.0.0.5:554/live"}, snapshot.Report.URLs())

	resp = post(t, other.URL+"/api/scans/import", "application/json", bytes.NewReader(exported))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = post(t, other.URL+"/api/scans/import", "application/json", strings.NewReader("{broken"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartIsRateLimited(t *testing.T) {
	ts, manager := newTestServer(t, portsFor(onlyRTSP), 1)

	resp := post(t, ts.URL+"/api/scans", "application/json", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitIdle(t, manager)

	resp = post(t, ts.URL+"/api/scans", "application/json", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, portsFor(onlyRTSP), 0)

	resp := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "streamscan_hosts_discovered_total")
}

func TestEventsStreamsInitialSnapshot(t *testing.T) {
	ts, _ := newTestServer(t, portsFor(onlyRTSP), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: snapshot\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))

	var ev event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, scan.StatusIdle, ev.Snapshot.Progress.Status)
}

func TestEventsReceiveStreamUpdates(t *testing.T) {
	ts, _ := newTestServer(t, portsFor(onlyRTSP), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	// Consume the initial snapshot before starting a scan.
	for i := 0; i < 3; i++ {
		_, err := reader.ReadString('\n')
		require.NoError(t, err)
	}

	start := post(t, ts.URL+"/api/scans", "application/json", nil)
	require.Equal(t, http.StatusAccepted, start.StatusCode)

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "event: stream\n" {
			data, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Contains(t, data, "rtsp://10.0.0.5:554/live")
			return
		}
	}
}
