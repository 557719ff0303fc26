package scan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"sync"
	"time"

	ping "github.com/go-ping/ping"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const icmpSweepConcurrency = 64

var errNoResponse = errors.New("no response")

// pingHost sends one echo request and returns nil once a reply arrives.
func pingHost(ctx context.Context, host string, timeout time.Duration) error {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return err
	}
	pinger.SetPrivileged(runtime.GOOS == "windows")
	pinger.Count = 1
	pinger.Timeout = timeout

	errCh := make(chan error, 1)
	go func() {
		errCh <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if !replied(pinger.Statistics()) {
		return errNoResponse
	}
	return nil
}

func replied(stats *ping.Statistics) bool {
	return stats != nil && stats.PacketsRecv > 0
}

// icmpSweep pings every target once. It is the fallback when the link-layer
// sweep cannot open its socket. ErrDiscovery is returned only when every echo
// failed for a reason other than silence, which means ICMP is unusable here.
func icmpSweep(ctx context.Context, targets []netip.Addr, timeout time.Duration, logger zerolog.Logger) ([]Host, error) {
	var (
		mu       sync.Mutex
		replies  []string
		failures int
		lastErr  error
	)

	g := new(errgroup.Group)
	g.SetLimit(icmpSweepConcurrency)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		ip := target.String()
		g.Go(func() error {
			if err := pingHost(ctx, ip, timeout); err != nil {
				if !errors.Is(err, errNoResponse) && ctx.Err() == nil {
					mu.Lock()
					failures++
					lastErr = err
					mu.Unlock()
				}
				return nil
			}
			mu.Lock()
			replies = append(replies, ip)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(targets) > 0 && failures == len(targets) {
		return nil, fmt.Errorf("%w: icmp: %v", ErrDiscovery, lastErr)
	}
	logger.Debug().Int("targets", len(targets)).Int("replies", len(replies)).Msg("icmp sweep finished")

	// Echo replies leave resolved entries in the neighbour cache.
	neighbours := loadNeighbours(procNeighbourPath)
	hosts := make([]Host, 0, len(replies))
	for _, ip := range replies {
		mac := neighbours.lookup(ctx, ip)
		hosts = append(hosts, Host{IP: ip, MAC: mac, Vendor: vendorForMAC(mac), Source: "icmp"})
	}
	return mergeHosts(hosts), nil
}
