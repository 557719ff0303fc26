package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"streamscan/internal/config"
	"streamscan/internal/log"
	"streamscan/internal/report"
	"streamscan/internal/scan"
)

type scanFlags struct {
	ports       string
	timeout     string
	httpTimeout string
	concurrency int
	deadline    string
	subnet      string
	discovery   string
	hosts       []string
	noMDNS      bool
	noNames     bool
	asJSON      bool
	output      string
}

func newScanCmd() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan and print the stream URLs found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log.Configure(log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})

			var source scan.HostSource
			if len(f.hosts) > 0 {
				source = scan.StaticSource(f.hosts)
			} else {
				source = scan.NewLocalSource(cfg.DiscoveryParams(), log.WithComponent("discovery"))
			}
			scanner, err := buildScanner(cfg, cfg.ScanParams(), source)
			if err != nil {
				return err
			}

			rep, err := scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}

			switch {
			case f.output != "":
				if err := report.WriteFile(f.output, rep, f.asJSON); err != nil {
					return fmt.Errorf("write %s: %w", f.output, err)
				}
				logger := log.WithComponent("cli")
				logger.Info().Str("path", f.output).Int("streams", len(rep.Streams)).Msg("report written")
				return nil
			case f.asJSON:
				return report.Save(cmd.OutOrStdout(), rep)
			default:
				return report.WriteText(cmd.OutOrStdout(), rep.URLs())
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.ports, "ports", "", `ports to probe, e.g. "554,80,8000-8010"`)
	flags.StringVar(&f.timeout, "timeout", "", "TCP connect timeout (e.g. 1s)")
	flags.StringVar(&f.httpTimeout, "http-timeout", "", "HTTP header probe timeout")
	flags.IntVar(&f.concurrency, "concurrency", 0, "hosts probed at the same time")
	flags.StringVar(&f.deadline, "deadline", "", "overall scan deadline; partial results are printed when it expires")
	flags.StringVar(&f.subnet, "subnet", "", "CIDR to sweep instead of the /24 around the outbound address")
	flags.StringVar(&f.discovery, "discovery", "", "host discovery method: auto, arp or icmp")
	flags.StringSliceVar(&f.hosts, "hosts", nil, "scan these addresses instead of discovering hosts")
	flags.BoolVar(&f.noMDNS, "no-mdns", false, "skip mDNS name collection")
	flags.BoolVar(&f.noNames, "no-names", false, "skip NetBIOS, LLMNR and reverse DNS name lookups")
	flags.BoolVar(&f.asJSON, "json", false, "emit the full report as JSON")
	flags.StringVarP(&f.output, "output", "o", "", "write the result to a file instead of stdout")
	return cmd
}

// apply overlays the flags that were set explicitly on cfg.
func (f scanFlags) apply(cmd *cobra.Command, cfg *config.AppConfig) error {
	changed := cmd.Flags().Changed
	if changed("ports") {
		ports, err := config.ParsePortSpec(f.ports)
		if err != nil {
			return fmt.Errorf("--ports: %w", err)
		}
		cfg.Scan.Ports = ports
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeout", f.timeout, &cfg.Scan.ConnectTimeout},
		{"http-timeout", f.httpTimeout, &cfg.Scan.HTTPTimeout},
		{"deadline", f.deadline, &cfg.Scan.Deadline},
	} {
		if !changed(d.name) {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("--%s: %w", d.name, err)
		}
		*d.dst = v
	}
	if changed("concurrency") {
		cfg.Scan.HostConcurrency = f.concurrency
	}
	if changed("subnet") {
		cfg.Discovery.Subnet = strings.TrimSpace(f.subnet)
	}
	if changed("discovery") {
		cfg.Discovery.Method = f.discovery
	}
	if f.noMDNS {
		cfg.Discovery.MDNS = false
	}
	if f.noNames {
		cfg.Discovery.Names = false
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (config.AppConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.AppConfig{}, err
	}
	return config.NewLoader(path).Load()
}

func buildScanner(cfg config.AppConfig, params scan.Config, source scan.HostSource) (*scan.Scanner, error) {
	opts := []scan.Option{scan.WithLogger(log.WithComponent("scan"))}
	if cfg.Discovery.Names {
		opts = append(opts, scan.WithNameResolver(scan.LookupNames))
	}
	return scan.NewScanner(params, source, opts...)
}
