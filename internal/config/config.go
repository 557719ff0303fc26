// Package config loads streamscan settings with precedence
// environment > YAML file > built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"streamscan/internal/scan"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Scan      ScanConfig      `yaml:"scan"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
}

// ScanConfig mirrors scan.Config.
type ScanConfig struct {
	Ports           []int         `yaml:"ports"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	HTTPTimeout     time.Duration `yaml:"httpTimeout"`
	HostConcurrency int           `yaml:"hostConcurrency"`
	Deadline        time.Duration `yaml:"deadline"`
}

// DiscoveryConfig mirrors scan.DiscoveryConfig.
type DiscoveryConfig struct {
	Method      string        `yaml:"method"`
	Subnet      string        `yaml:"subnet"`
	Timeout     time.Duration `yaml:"timeout"`
	RequestRate float64       `yaml:"requestRate"`
	MDNS        bool          `yaml:"mdns"`
	// Names enables NetBIOS, LLMNR and reverse DNS lookups for stream hosts.
	Names bool `yaml:"names"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
	// StartRate caps scan starts per minute per client.
	StartRate int `yaml:"startRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	sc := scan.DefaultConfig()
	dc := scan.DefaultDiscoveryConfig()
	return AppConfig{
		Scan: ScanConfig{
			Ports:           sc.Ports,
			ConnectTimeout:  sc.ConnectTimeout,
			HTTPTimeout:     sc.HTTPTimeout,
			HostConcurrency: sc.HostConcurrency,
			Deadline:        sc.OverallDeadline,
		},
		Discovery: DiscoveryConfig{
			Method:      string(dc.Method),
			Timeout:     dc.Timeout,
			RequestRate: dc.RequestRate,
			MDNS:        dc.MDNS,
			Names:       true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		API: APIConfig{
			Listen:    "127.0.0.1:8089",
			StartRate: 6,
		},
	}
}

// ScanParams converts the scan section for the engine.
func (c AppConfig) ScanParams() scan.Config {
	return scan.Config{
		Ports:           append([]int(nil), c.Scan.Ports...),
		ConnectTimeout:  c.Scan.ConnectTimeout,
		HTTPTimeout:     c.Scan.HTTPTimeout,
		HostConcurrency: c.Scan.HostConcurrency,
		OverallDeadline: c.Scan.Deadline,
	}
}

// DiscoveryParams converts the discovery section for the engine.
func (c AppConfig) DiscoveryParams() scan.DiscoveryConfig {
	return scan.DiscoveryConfig{
		Method:      scan.DiscoveryMethod(strings.ToLower(c.Discovery.Method)),
		Subnet:      c.Discovery.Subnet,
		Timeout:     c.Discovery.Timeout,
		RequestRate: c.Discovery.RequestRate,
		MDNS:        c.Discovery.MDNS,
	}
}

// Validate reports the first unusable setting.
func (c AppConfig) Validate() error {
	if err := c.ScanParams().Validate(); err != nil {
		return fmt.Errorf("%w: scan: %v", ErrInvalid, err)
	}
	if err := c.DiscoveryParams().Validate(); err != nil {
		return fmt.Errorf("%w: discovery: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("%w: log.format must be json or console, got %q", ErrInvalid, c.Log.Format)
	}
	if c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			return fmt.Errorf("%w: api.listen: %v", ErrInvalid, err)
		}
	}
	if c.API.StartRate < 0 {
		return fmt.Errorf("%w: api.startRate cannot be negative", ErrInvalid)
	}
	return nil
}
