package scan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// HostSource enumerates candidate hosts for a scan.
type HostSource interface {
	Discover(ctx context.Context) ([]Host, error)
}

// HostSourceFunc adapts a function to HostSource.
type HostSourceFunc func(ctx context.Context) ([]Host, error)

// Discover calls f.
func (f HostSourceFunc) Discover(ctx context.Context) ([]Host, error) {
	return f(ctx)
}

// StaticSource returns a fixed list of addresses without touching the network.
type StaticSource []string

// Discover returns the configured addresses as hosts.
func (s StaticSource) Discover(context.Context) ([]Host, error) {
	hosts := make([]Host, 0, len(s))
	for _, ip := range s {
		addr, err := netip.ParseAddr(ip)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: invalid IPv4 address %q", ErrInvalidConfig, ip)
		}
		hosts = append(hosts, Host{IP: addr.String(), Source: "static"})
	}
	return mergeHosts(hosts), nil
}

// DiscoveryMethod selects how live hosts are found on the subnet.
type DiscoveryMethod string

const (
	// MethodAuto tries ARP first and falls back to ICMP when ARP cannot run.
	MethodAuto DiscoveryMethod = "auto"
	MethodARP  DiscoveryMethod = "arp"
	MethodICMP DiscoveryMethod = "icmp"
)

// DiscoveryConfig controls LocalSource.
type DiscoveryConfig struct {
	Method DiscoveryMethod `json:"method"`
	// Subnet overrides the /24 derived from the outbound address.
	Subnet  string        `json:"subnet,omitempty"`
	Timeout time.Duration `json:"timeout"`
	// RequestRate caps ARP requests per second. Zero means unlimited.
	RequestRate float64 `json:"requestRate"`
	MDNS        bool    `json:"mdns"`
}

// DefaultDiscoveryConfig returns the built-in discovery parameters.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Method:      MethodAuto,
		Timeout:     3 * time.Second,
		RequestRate: 500,
		MDNS:        true,
	}
}

// Validate checks that the discovery configuration is usable.
func (c DiscoveryConfig) Validate() error {
	switch c.Method {
	case MethodAuto, MethodARP, MethodICMP:
	default:
		return fmt.Errorf("%w: unknown discovery method %q", ErrInvalidConfig, c.Method)
	}
	if c.Subnet != "" {
		if _, err := parseSubnet(c.Subnet); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: discovery timeout must be greater than 0", ErrInvalidConfig)
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("%w: requestRate cannot be negative", ErrInvalidConfig)
	}
	return nil
}

type sweepFunc func(ctx context.Context, prefix netip.Prefix, targets []netip.Addr) ([]Host, error)

// LocalSource discovers hosts on the local IPv4 subnet.
type LocalSource struct {
	cfg    DiscoveryConfig
	logger zerolog.Logger

	localAddr func() string
	arp       sweepFunc
	icmp      sweepFunc
	mdns      func(ctx context.Context, window time.Duration) map[string][]string
}

// NewLocalSource creates a LocalSource using the real network.
func NewLocalSource(cfg DiscoveryConfig, logger zerolog.Logger) *LocalSource {
	s := &LocalSource{
		cfg:       cfg,
		logger:    logger,
		localAddr: localIPv4,
		mdns:      browseMDNS,
	}
	s.arp = func(ctx context.Context, prefix netip.Prefix, targets []netip.Addr) ([]Host, error) {
		var limiter *rate.Limiter
		if cfg.RequestRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), 16)
		}
		return arpSweep(ctx, prefix, targets, cfg.Timeout, limiter, logger)
	}
	s.icmp = func(ctx context.Context, _ netip.Prefix, targets []netip.Addr) ([]Host, error) {
		return icmpSweep(ctx, targets, cfg.Timeout, logger)
	}
	return s
}

// Discover returns the live hosts on the subnet. A host-less local identity
// degrades to the loopback address alone.
func (s *LocalSource) Discover(ctx context.Context) ([]Host, error) {
	prefix, loopback, err := s.target()
	if err != nil {
		return nil, err
	}
	if loopback {
		s.logger.Warn().Msg("no outbound route; scanning loopback only")
		return []Host{{IP: loopbackAddr, Source: "loopback"}}, nil
	}

	targets := sweepTargets(prefix)
	s.logger.Info().
		Str("subnet", prefix.String()).
		Str("method", string(s.cfg.Method)).
		Int("targets", len(targets)).
		Msg("discovering hosts")

	var (
		hosts []Host
		names map[string][]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := s.sweep(gctx, prefix, targets)
		hosts = found
		return err
	})
	if s.cfg.MDNS && s.mdns != nil {
		g.Go(func() error {
			names = s.mdns(gctx, s.cfg.Timeout)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range hosts {
		hosts[i].Names = append(hosts[i].Names, names[hosts[i].IP]...)
	}
	return mergeHosts(hosts), nil
}

func (s *LocalSource) target() (netip.Prefix, bool, error) {
	if s.cfg.Subnet != "" {
		prefix, err := parseSubnet(s.cfg.Subnet)
		if err != nil {
			return netip.Prefix{}, false, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return prefix, false, nil
	}

	ip := s.localAddr()
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, false, fmt.Errorf("%w: local address %q: %v", ErrDiscovery, ip, err)
	}
	if addr.IsLoopback() {
		return netip.Prefix{}, true, nil
	}
	prefix, err := subnet24(ip)
	if err != nil {
		return netip.Prefix{}, false, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	return prefix, false, nil
}

func (s *LocalSource) sweep(ctx context.Context, prefix netip.Prefix, targets []netip.Addr) ([]Host, error) {
	switch s.cfg.Method {
	case MethodARP:
		return s.arp(ctx, prefix, targets)
	case MethodICMP:
		return s.icmp(ctx, prefix, targets)
	default:
		hosts, err := s.arp(ctx, prefix, targets)
		if err == nil {
			return hosts, nil
		}
		if !errors.Is(err, ErrDiscovery) {
			return nil, err
		}
		s.logger.Warn().Err(err).Msg("arp sweep unavailable, falling back to icmp")
		return s.icmp(ctx, prefix, targets)
	}
}
