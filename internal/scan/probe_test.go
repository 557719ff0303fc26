package scan

import (
	"context"
	"net"
	"testing"
	"time"
)

func listenLocal(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestProbeLocalhost(t *testing.T) {
	_, open := listenLocal(t)
	closed := closedPort(t)

	p := NewProber([]int{closed, open}, time.Second, nil)
	got := p.Probe(context.Background(), "127.0.0.1")
	if len(got) != 1 || got[0] != open {
		t.Fatalf("expected only port %d open, got %v", open, got)
	}
}

func TestProbeKeepsCandidateOrder(t *testing.T) {
	network := newFakeNet("10.0.0.5:8000", "10.0.0.5:554", "10.0.0.5:80")
	p := NewProber(DefaultPorts, time.Second, network)

	got := p.Probe(context.Background(), "10.0.0.5")
	want := []int{554, 80, 8000}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if len(network.dials) != len(DefaultPorts) {
		t.Fatalf("expected one dial per port, got %v", network.dials)
	}
}

func TestProbeNoOpenPorts(t *testing.T) {
	p := NewProber(DefaultPorts, time.Second, newFakeNet())
	if got := p.Probe(context.Background(), "10.0.0.6"); len(got) != 0 {
		t.Fatalf("expected no open ports, got %v", got)
	}
}

type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProbeRespectsConnectTimeout(t *testing.T) {
	p := NewProber(DefaultPorts, 100*time.Millisecond, blockingDialer{})
	start := time.Now()
	if got := p.Probe(context.Background(), "10.0.0.7"); len(got) != 0 {
		t.Fatalf("expected silent ports to be closed, got %v", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected ports to be probed in parallel within the timeout, took %s", elapsed)
	}
}
