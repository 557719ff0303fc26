package scan

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/mdlayher/arp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// arpSweep broadcasts an ARP request for every target and collects the
// replies that arrive before timeout. It returns ErrDiscovery only when the
// sweep cannot start; a quiet network yields an empty result.
func arpSweep(ctx context.Context, prefix netip.Prefix, targets []netip.Addr, timeout time.Duration, limiter *rate.Limiter, logger zerolog.Logger) ([]Host, error) {
	ifi, err := interfaceForPrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	client, err := arp.Dial(ifi)
	if err != nil {
		return nil, fmt.Errorf("%w: arp on %s: %v", ErrDiscovery, ifi.Name, err)
	}
	defer client.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := client.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: arp read deadline: %v", ErrDiscovery, err)
	}

	replies := newReplySet()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			pkt, _, err := client.Read()
			if err != nil {
				return
			}
			if pkt.Operation != arp.OperationReply || !prefix.Contains(pkt.SenderIP) {
				continue
			}
			replies.add(pkt.SenderIP.String(), pkt.SenderHardwareAddr.String())
		}
	}()

	sent := 0
	for _, target := range targets {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if err := client.Request(target); err != nil {
			logger.Debug().Err(err).Str("ip", target.String()).Msg("arp request failed")
			continue
		}
		sent++
	}

	select {
	case <-done:
	case <-ctx.Done():
		_ = client.SetReadDeadline(time.Now())
		<-done
	}

	hosts := replies.hosts()
	logger.Debug().
		Str("interface", ifi.Name).
		Int("requests", sent).
		Int("replies", len(hosts)).
		Msg("arp sweep finished")
	return hosts, nil
}

// replySet collapses duplicate ARP replies from the same address.
type replySet struct {
	mu   sync.Mutex
	macs map[string]string
}

func newReplySet() *replySet {
	return &replySet{macs: make(map[string]string)}
}

func (r *replySet) add(ip, mac string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.macs[ip]; ok {
		return
	}
	r.macs[ip] = normaliseMAC(mac)
}

func (r *replySet) hosts() []Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Host, 0, len(r.macs))
	for ip, mac := range r.macs {
		out = append(out, Host{IP: ip, MAC: mac, Vendor: vendorForMAC(mac), Source: "arp"})
	}
	return mergeHosts(out)
}
