// Package metrics exposes Prometheus instruments for stream discovery.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanDuration tracks wall time of complete scan passes.
	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamscan_scan_duration_seconds",
		Help:    "Wall time of a scan pass",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"partial"})

	// HostsDiscovered counts live hosts returned by discovery.
	HostsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamscan_hosts_discovered_total",
		Help: "Total number of live hosts returned by host discovery",
	})

	// DiscoveryFailures counts scans whose host discovery could not run.
	DiscoveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamscan_discovery_failures_total",
		Help: "Total number of scans that degraded to an empty host set",
	})

	// OpenPorts counts candidate ports that accepted a TCP connection.
	OpenPorts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamscan_open_ports_total",
		Help: "Total number of open candidate ports by port number; non-default ports share the \"other\" label",
	}, []string{"port"})

	// StreamsConfirmed counts confirmed stream endpoints.
	StreamsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamscan_streams_confirmed_total",
		Help: "Total number of confirmed stream endpoints by scheme",
	}, []string{"scheme"})
)

// ObserveScan records the duration of a finished scan.
func ObserveScan(d time.Duration, partial bool) {
	ScanDuration.WithLabelValues(strconv.FormatBool(partial)).Observe(d.Seconds())
}

// AddHostsDiscovered adds n discovered hosts.
func AddHostsDiscovered(n int) {
	if n > 0 {
		HostsDiscovered.Add(float64(n))
	}
}

// IncDiscoveryFailure records a degraded discovery.
func IncDiscoveryFailure() {
	DiscoveryFailures.Inc()
}

// labelledPorts keeps the port label bounded when custom ranges are scanned.
var labelledPorts = map[int]struct{}{554: {}, 80: {}, 8080: {}, 8554: {}, 8000: {}}

// PortLabel returns the OpenPorts label for port.
func PortLabel(port int) string {
	if _, ok := labelledPorts[port]; ok {
		return strconv.Itoa(port)
	}
	return "other"
}

// IncOpenPort records an open candidate port.
func IncOpenPort(port int) {
	OpenPorts.WithLabelValues(PortLabel(port)).Inc()
}

// IncStreamConfirmed records a confirmed stream.
func IncStreamConfirmed(scheme string) {
	StreamsConfirmed.WithLabelValues(scheme).Inc()
}
