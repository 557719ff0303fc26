package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"streamscan/internal/metrics"
)

// PortProber returns the open candidate ports of a host.
type PortProber interface {
	Probe(ctx context.Context, host string) []int
}

// StreamClassifier decides whether host:port serves a stream.
type StreamClassifier interface {
	Classify(ctx context.Context, host string, port int) (Stream, bool)
}

// NameResolver returns extra names for a host that served a stream.
type NameResolver func(ctx context.Context, host string) []string

// Hooks observe a scan as it runs. Every field is optional.
type Hooks struct {
	// OnHosts is called once with the discovered host set.
	OnHosts func(hosts []Host)
	// BeforeHost gates each host pipeline; an error skips the host.
	BeforeHost func(ctx context.Context) error
	// OnHostDone is called for every host whose pipeline started.
	OnHostDone func(host Host, openPorts []int)
	// OnStream is called for each newly confirmed stream.
	OnStream func(stream Stream)
}

// Scanner coordinates discovery, port probing and classification across the
// host set under a bounded number of concurrent host pipelines.
type Scanner struct {
	cfg        Config
	source     HostSource
	prober     PortProber
	classifier StreamClassifier
	resolver   NameResolver
	logger     zerolog.Logger
	now        func() time.Time
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithProber replaces the TCP port prober.
func WithProber(p PortProber) Option {
	return func(s *Scanner) { s.prober = p }
}

// WithClassifier replaces the stream classifier.
func WithClassifier(c StreamClassifier) Option {
	return func(s *Scanner) { s.classifier = c }
}

// WithNameResolver enables name lookups for hosts that served a stream.
func WithNameResolver(r NameResolver) Option {
	return func(s *Scanner) { s.resolver = r }
}

// WithLogger sets the scanner logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner validates cfg and wires the default prober and classifier.
func NewScanner(cfg Config, source HostSource, opts ...Option) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: host source is required", ErrInvalidConfig)
	}
	s := &Scanner{
		cfg:    cfg,
		source: source,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prober == nil {
		s.prober = NewProber(cfg.Ports, cfg.ConnectTimeout, nil)
	}
	if s.classifier == nil {
		s.classifier = NewClassifier(cfg, s.logger)
	}
	return s, nil
}

// Config returns the scan parameters.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Scan runs a single pass and returns the confirmed streams.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	return s.Run(ctx, Hooks{})
}

// Run performs a scan pass, reporting progress through hooks. Per-host and
// per-probe failures never surface; a discovery failure is recorded on the
// report and yields an empty host set. When the overall deadline expires the
// streams confirmed so far are returned and the report is marked partial.
func (s *Scanner) Run(ctx context.Context, hooks Hooks) (Report, error) {
	report := Report{ID: uuid.NewString(), Started: s.now().UTC()}
	logger := s.logger.With().Str("scan_id", report.ID).Logger()

	if s.cfg.OverallDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OverallDeadline)
		defer cancel()
	}

	hosts, err := s.source.Discover(ctx)
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return report, err
		}
		logger.Warn().Err(err).Msg("host discovery failed; continuing with an empty host set")
		metrics.IncDiscoveryFailure()
		report.Error = err.Error()
		hosts = nil
	}
	hosts = mergeHosts(hosts)
	report.Hosts = hosts
	metrics.AddHostsDiscovered(len(hosts))
	logger.Info().Int("hosts", len(hosts)).Msg("host discovery complete")
	if hooks.OnHosts != nil {
		hooks.OnHosts(append([]Host(nil), hosts...))
	}

	results := newCollector()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		g := new(errgroup.Group)
		g.SetLimit(s.cfg.HostConcurrency)
		for _, host := range hosts {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				s.scanHost(ctx, host, hooks, results, logger)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
	}

	report.Streams = results.seal()
	report.Finished = s.now().UTC()
	select {
	case <-finished:
		// Pipelines skip their work once the context expires.
		report.Partial = ctx.Err() != nil
	default:
		report.Partial = true
	}
	if report.Partial {
		logger.Warn().Err(ctx.Err()).Int("streams", len(report.Streams)).Msg("scan cut short; returning partial results")
	}
	metrics.ObserveScan(report.Finished.Sub(report.Started), report.Partial)
	logger.Info().
		Int("hosts", len(hosts)).
		Int("streams", len(report.Streams)).
		Dur("elapsed", report.Finished.Sub(report.Started)).
		Msg("scan finished")
	return report, nil
}

func (s *Scanner) scanHost(ctx context.Context, host Host, hooks Hooks, results *collector, logger zerolog.Logger) {
	if hooks.BeforeHost != nil {
		if err := hooks.BeforeHost(ctx); err != nil {
			return
		}
	}
	var open []int
	if hooks.OnHostDone != nil {
		defer func() { hooks.OnHostDone(host, open) }()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("ip", host.IP).Interface("panic", r).Msg("host pipeline panicked")
		}
	}()
	if ctx.Err() != nil {
		return
	}

	open = s.prober.Probe(ctx, host.IP)
	for _, port := range open {
		metrics.IncOpenPort(port)
	}
	if len(open) == 0 {
		return
	}
	logger.Debug().Str("ip", host.IP).Ints("ports", open).Msg("open ports")

	var (
		nameOnce sync.Once
		device   string
		wg       sync.WaitGroup
	)
	deviceName := func() string {
		nameOnce.Do(func() {
			var hostnames []string
			if s.resolver != nil {
				hostnames = s.resolver(ctx, host.IP)
			}
			device = selectDeviceName(host.Names, hostnames)
		})
		return device
	}

	for _, port := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("ip", host.IP).Int("port", port).Interface("panic", r).Msg("classifier panicked")
				}
			}()
			stream, ok := s.classifier.Classify(ctx, host.IP, port)
			if !ok {
				return
			}
			stream.MAC = host.MAC
			stream.Vendor = host.Vendor
			stream.DeviceName = deviceName()
			if !results.add(stream) {
				return
			}
			metrics.IncStreamConfirmed(stream.Scheme)
			logger.Info().Str("url", stream.URL).Str("device", stream.DeviceName).Msg("found potential stream")
			if hooks.OnStream != nil {
				hooks.OnStream(stream)
			}
		}()
	}
	wg.Wait()
}
