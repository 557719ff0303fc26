package scan

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeNet answers dials from a fixed table of open host:port pairs.
type fakeNet struct {
	mu    sync.Mutex
	open  map[string]bool
	dials []string
}

func newFakeNet(open ...string) *fakeNet {
	n := &fakeNet{open: make(map[string]bool)}
	for _, addr := range open {
		n.open[addr] = true
	}
	return n
}

func (n *fakeNet) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	n.mu.Lock()
	n.dials = append(n.dials, address)
	ok := n.open[address]
	n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

type fakeResponse struct {
	status      int
	contentType string
}

// fakeDoer serves canned HEAD responses keyed by URL; unknown URLs fail.
type fakeDoer struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	requests  []string
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req.Method+" "+req.URL.String())
	resp, ok := d.responses[req.URL.String()]
	d.mu.Unlock()
	if !ok {
		return nil, errors.New("dial tcp: connection refused")
	}
	header := make(http.Header)
	if resp.contentType != "" {
		header.Set("Content-Type", resp.contentType)
	}
	return &http.Response{
		StatusCode: resp.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

type proberFunc func(ctx context.Context, host string) []int

func (f proberFunc) Probe(ctx context.Context, host string) []int { return f(ctx, host) }

type classifierFunc func(ctx context.Context, host string, port int) (Stream, bool)

func (f classifierFunc) Classify(ctx context.Context, host string, port int) (Stream, bool) {
	return f(ctx, host, port)
}

func rtspOn(host string, port int) Stream {
	return newStream(Endpoint{Scheme: "rtsp", Host: host, Port: port, Path: "/live"}, fixedTime)
}
