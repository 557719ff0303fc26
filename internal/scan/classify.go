package scan

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPDoer issues HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Template is a scheme and path combined with a host and port to form a
// candidate endpoint.
type Template struct {
	Scheme string
	Path   string
}

// DefaultTemplates are tried in order for every open port, whatever protocol
// the port conventionally serves.
var DefaultTemplates = []Template{
	{Scheme: "http", Path: "/video"},
	{Scheme: "http", Path: "/stream"},
	{Scheme: "http", Path: "/mjpeg"},
	{Scheme: "rtsp", Path: "/live"},
	{Scheme: "http", Path: "/video.mjpg"},
}

// streamContentMarkers are matched case-insensitively against Content-Type.
var streamContentMarkers = []string{"video", "stream", "mjpeg"}

// Classifier decides whether an open port serves a live stream.
//
// An RTSP candidate is confirmed by a bare TCP connect; there is no protocol
// handshake, so any listener on the port is reported as a stream.
type Classifier struct {
	templates      []Template
	connectTimeout time.Duration
	httpTimeout    time.Duration
	dialer         Dialer
	client         HTTPDoer
	logger         zerolog.Logger
	now            func() time.Time
}

// ClassifierOption customises a Classifier.
type ClassifierOption func(*Classifier)

// WithDialer sets the dialer used for RTSP connects and, unless WithHTTPClient
// is also given, for HTTP requests.
func WithDialer(d Dialer) ClassifierOption {
	return func(c *Classifier) { c.dialer = d }
}

// WithHTTPClient sets the HTTP transport used for header probes.
func WithHTTPClient(doer HTTPDoer) ClassifierOption {
	return func(c *Classifier) { c.client = doer }
}

// WithTemplates replaces the candidate templates.
func WithTemplates(templates []Template) ClassifierOption {
	return func(c *Classifier) { c.templates = append([]Template(nil), templates...) }
}

// NewClassifier builds a Classifier from the scan timeouts.
func NewClassifier(cfg Config, logger zerolog.Logger, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		templates:      DefaultTemplates,
		connectTimeout: cfg.ConnectTimeout,
		httpTimeout:    cfg.HTTPTimeout,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{}
	}
	if c.client == nil {
		c.client = newProbeClient(c.dialer, c.httpTimeout)
	}
	return c
}

func newProbeClient(dialer Dialer, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			DisableKeepAlives:     true,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
		// A redirect is a non-match; it is never followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Candidates returns the endpoints tried for host:port, in evaluation order.
func (c *Classifier) Candidates(host string, port int) []Endpoint {
	out := make([]Endpoint, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, Endpoint{Scheme: t.Scheme, Host: host, Port: port, Path: t.Path})
	}
	return out
}

// Classify returns the first candidate of host:port that looks like a live
// stream. Candidate failures are non-matches, never errors.
func (c *Classifier) Classify(ctx context.Context, host string, port int) (Stream, bool) {
	for _, ep := range c.Candidates(host, port) {
		if ctx.Err() != nil {
			return Stream{}, false
		}
		if c.Evaluate(ctx, ep) {
			return newStream(ep, c.now()), true
		}
	}
	return Stream{}, false
}

// Evaluate applies the decision rule for a single candidate.
func (c *Classifier) Evaluate(ctx context.Context, ep Endpoint) bool {
	switch strings.ToLower(ep.Scheme) {
	case "rtsp":
		ok := connect(ctx, c.dialer, ep.Host, ep.Port, c.connectTimeout)
		c.logger.Debug().Str("url", ep.URL()).Bool("match", ok).Msg("rtsp connect probe")
		return ok
	case "http":
		return c.probeHTTP(ctx, ep)
	default:
		return false
	}
}

func (c *Classifier) probeHTTP(ctx context.Context, ep Endpoint) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, ep.URL(), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", ep.URL()).Msg("http header probe failed")
		return false
	}
	if resp.Body != nil {
		_ = resp.Body.Close()
	}

	contentType := resp.Header.Get("Content-Type")
	ok := isStreamResponse(resp.StatusCode, contentType)
	c.logger.Debug().
		Str("url", ep.URL()).
		Int("status", resp.StatusCode).
		Str("content_type", contentType).
		Bool("match", ok).
		Msg("http header probe")
	return ok
}

// isStreamResponse is the HTTP decision rule: a 2xx status and a content type
// naming video, stream or mjpeg.
func isStreamResponse(status int, contentType string) bool {
	if status < 200 || status > 299 {
		return false
	}
	contentType = strings.ToLower(contentType)
	for _, marker := range streamContentMarkers {
		if strings.Contains(contentType, marker) {
			return true
		}
	}
	return false
}
