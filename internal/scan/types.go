package scan

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/samber/lo"
)

// DefaultPorts are the streaming-related TCP ports probed on every host:
// RTSP, HTTP, HTTP alt, RTSP alt and a generic streaming alt port.
var DefaultPorts = []int{554, 80, 8080, 8554, 8000}

const (
	DefaultConnectTimeout  = time.Second
	DefaultHTTPTimeout     = 2 * time.Second
	DefaultHostConcurrency = 10
	DefaultOverallDeadline = 2 * time.Minute
)

// Config describes the parameters of a scan run.
type Config struct {
	Ports           []int         `json:"ports"`
	ConnectTimeout  time.Duration `json:"connectTimeout"`
	HTTPTimeout     time.Duration `json:"httpTimeout"`
	HostConcurrency int           `json:"hostConcurrency"`
	// OverallDeadline bounds the whole scan. Zero disables the deadline.
	OverallDeadline time.Duration `json:"overallDeadline"`
}

// DefaultConfig returns the built-in scan parameters.
func DefaultConfig() Config {
	return Config{
		Ports:           append([]int(nil), DefaultPorts...),
		ConnectTimeout:  DefaultConnectTimeout,
		HTTPTimeout:     DefaultHTTPTimeout,
		HostConcurrency: DefaultHostConcurrency,
		OverallDeadline: DefaultOverallDeadline,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("%w: at least one port is required", ErrInvalidConfig)
	}
	for _, port := range c.Ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
		}
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connectTimeout must be greater than 0", ErrInvalidConfig)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: httpTimeout must be greater than 0", ErrInvalidConfig)
	}
	if c.HostConcurrency <= 0 {
		return fmt.Errorf("%w: hostConcurrency must be greater than 0", ErrInvalidConfig)
	}
	if c.OverallDeadline < 0 {
		return fmt.Errorf("%w: overallDeadline cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ScanStatus represents the lifecycle state of a scan.
type ScanStatus string

const (
	StatusIdle      ScanStatus = "idle"
	StatusRunning   ScanStatus = "running"
	StatusPaused    ScanStatus = "paused"
	StatusCancelled ScanStatus = "cancelled"
	StatusCompleted ScanStatus = "completed"
)

// Host is a live address found on the local subnet.
type Host struct {
	IP     string   `json:"ip"`
	MAC    string   `json:"mac,omitempty"`
	Vendor string   `json:"vendor,omitempty"`
	Names  []string `json:"names,omitempty"`
	Source string   `json:"source,omitempty"`
}

// Endpoint is a speculative stream URL built from a host, an open port and a
// path template.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Path   string `json:"path"`
}

// URL renders the endpoint as scheme://host:port/path.
func (e Endpoint) URL() string {
	return e.Scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + e.Path
}

// Stream is an endpoint that passed classification.
type Stream struct {
	URL         string    `json:"url"`
	Scheme      string    `json:"scheme"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Path        string    `json:"path"`
	DeviceName  string    `json:"deviceName,omitempty"`
	MAC         string    `json:"mac,omitempty"`
	Vendor      string    `json:"vendor,omitempty"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

func newStream(ep Endpoint, at time.Time) Stream {
	return Stream{
		URL:         ep.URL(),
		Scheme:      ep.Scheme,
		Host:        ep.Host,
		Port:        ep.Port,
		Path:        ep.Path,
		ConfirmedAt: at,
	}
}

// Report is the outcome of a single scan pass.
type Report struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Hosts    []Host    `json:"hosts"`
	Streams  []Stream  `json:"streams"`
	// Partial is set when the overall deadline or a cancellation cut the scan short.
	Partial bool   `json:"partial,omitempty"`
	Error   string `json:"error,omitempty"`
}

// URLs returns the confirmed stream URLs.
func (r Report) URLs() []string {
	return lo.Map(r.Streams, func(s Stream, _ int) string { return s.URL })
}

// Progress contains a summary of the current scan progress.
type Progress struct {
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Active    int        `json:"active"`
	Streams   int        `json:"streams"`
	Status    ScanStatus `json:"status"`
}

// Snapshot is a point-in-time view of a scan's configuration, results and progress.
type Snapshot struct {
	Config   Config    `json:"config"`
	Progress Progress  `json:"progress"`
	Report   Report    `json:"report"`
	Updated  time.Time `json:"updated"`
}

// Update represents an incrementally confirmed stream.
type Update struct {
	Stream   Stream   `json:"stream"`
	Progress Progress `json:"progress"`
}

var (
	// ErrDiscovery indicates the local host enumeration could not run at all.
	ErrDiscovery = errors.New("host discovery failed")
	// ErrInvalidConfig indicates the scan parameters are unusable.
	ErrInvalidConfig = errors.New("invalid scan config")
	// ErrScanInProgress indicates a scan is already running.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrNoActiveScan indicates there is no running or paused scan to control.
	ErrNoActiveScan = errors.New("no active scan")
)
