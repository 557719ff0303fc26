package scan

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// Dialer opens network connections. *net.Dialer satisfies it; tests supply
// simulated responders.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober checks which candidate ports accept TCP connections.
type Prober struct {
	ports   []int
	timeout time.Duration
	dialer  Dialer
}

// NewProber creates a Prober for ports. A nil dialer uses the system dialer.
func NewProber(ports []int, timeout time.Duration, dialer Dialer) *Prober {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Prober{
		ports:   append([]int(nil), ports...),
		timeout: timeout,
		dialer:  dialer,
	}
}

// Probe returns the open ports of host in candidate order. Refused, unreachable
// and timed out ports are simply absent.
func (p *Prober) Probe(ctx context.Context, host string) []int {
	if len(p.ports) == 0 {
		return nil
	}

	open := make([]bool, len(p.ports))
	var wg sync.WaitGroup
	for i, port := range p.ports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			open[i] = connect(ctx, p.dialer, host, port, p.timeout)
		}()
	}
	wg.Wait()

	var out []int
	for i, ok := range open {
		if ok {
			out = append(out, p.ports[i])
		}
	}
	return out
}

// connect reports whether a TCP connection to host:port completes within
// timeout. No payload is exchanged.
func connect(ctx context.Context, dialer Dialer, host string, port int, timeout time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
