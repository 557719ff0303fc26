package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"streamscan/internal/log"
)

// Loader builds an AppConfig from defaults, an optional YAML file and the
// environment.
type Loader struct {
	path   string
	logger zerolog.Logger
	lookup func(string) (string, bool)
}

// NewLoader creates a Loader for the YAML file at path. An empty path skips
// the file stage.
func NewLoader(path string) *Loader {
	return &Loader{
		path:   path,
		logger: log.WithComponent("config"),
		lookup: defaultLookup,
	}
}

// Load applies defaults, then the file, then the environment, and validates
// the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.path != "" {
		if err := l.loadFile(&cfg); err != nil {
			return AppConfig{}, err
		}
	}
	if err := l.mergeEnv(&cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(cfg *AppConfig) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", l.path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalid, l.path, err)
	}
	l.logger.Debug().Str("path", l.path).Msg("loaded config file")
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) error {
	e := env{logger: l.logger, lookup: l.lookup}

	ports, err := e.Ports("STREAMSCAN_PORTS", cfg.Scan.Ports)
	if err != nil {
		return fmt.Errorf("%w: STREAMSCAN_PORTS: %v", ErrInvalid, err)
	}
	cfg.Scan.Ports = ports
	cfg.Scan.ConnectTimeout = e.Duration("STREAMSCAN_CONNECT_TIMEOUT", cfg.Scan.ConnectTimeout)
	cfg.Scan.HTTPTimeout = e.Duration("STREAMSCAN_HTTP_TIMEOUT", cfg.Scan.HTTPTimeout)
	cfg.Scan.HostConcurrency = e.Int("STREAMSCAN_CONCURRENCY", cfg.Scan.HostConcurrency)
	cfg.Scan.Deadline = e.Duration("STREAMSCAN_DEADLINE", cfg.Scan.Deadline)

	cfg.Discovery.Method = e.String("STREAMSCAN_DISCOVERY", cfg.Discovery.Method)
	cfg.Discovery.Subnet = e.String("STREAMSCAN_SUBNET", cfg.Discovery.Subnet)
	cfg.Discovery.Timeout = e.Duration("STREAMSCAN_DISCOVERY_TIMEOUT", cfg.Discovery.Timeout)
	cfg.Discovery.RequestRate = e.Float("STREAMSCAN_ARP_RATE", cfg.Discovery.RequestRate)
	cfg.Discovery.MDNS = e.Bool("STREAMSCAN_MDNS", cfg.Discovery.MDNS)
	cfg.Discovery.Names = e.Bool("STREAMSCAN_NAMES", cfg.Discovery.Names)

	cfg.Log.Level = e.String("STREAMSCAN_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = e.String("STREAMSCAN_LOG_FORMAT", cfg.Log.Format)

	cfg.API.Listen = e.String("STREAMSCAN_LISTEN", cfg.API.Listen)
	cfg.API.StartRate = e.Int("STREAMSCAN_START_RATE", cfg.API.StartRate)
	return nil
}
