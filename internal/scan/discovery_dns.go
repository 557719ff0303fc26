package scan

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceTypes are the DNS-SD types cameras and encoders commonly announce.
var mdnsServiceTypes = []string{
	"_rtsp._tcp",
	"_http._tcp",
	"_axis-video._tcp",
	"_airplay._tcp",
	"_googlecast._tcp",
}

// LookupHostnames performs a reverse DNS lookup for host.
func LookupHostnames(ctx context.Context, host string) []string {
	resolver := &net.Resolver{PreferGo: false}

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	names, err := resolver.LookupAddr(lookupCtx, host)
	if err != nil {
		// PTR records are rarely present on home networks.
		return nil
	}
	return uniqueStrings(names)
}

// browseMDNS listens for announcements of mdnsServiceTypes for the given
// window and returns instance and host names keyed by IPv4 address.
func browseMDNS(ctx context.Context, window time.Duration) map[string][]string {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string][]string)
		wg      sync.WaitGroup
	)

	record := func(entry *zeroconf.ServiceEntry) {
		var names []string
		if entry.Instance != "" {
			names = append(names, entry.Instance)
		}
		if hostname := strings.TrimSuffix(entry.HostName, "."); hostname != "" {
			names = append(names, hostname)
		}
		if len(names) == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, ip := range entry.AddrIPv4 {
			key := ip.String()
			results[key] = append(results[key], names...)
		}
	}

	for _, serviceType := range mdnsServiceTypes {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil
		}
		// The resolver closes entries once ctx expires, also when Browse fails.
		entries := make(chan *zeroconf.ServiceEntry, 16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range entries {
				record(entry)
			}
		}()
		_ = resolver.Browse(ctx, serviceType, "local.", entries)
	}

	<-ctx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for ip, names := range results {
		results[ip] = uniqueStrings(names)
	}
	return results
}

func selectDeviceName(mdns, hostnames []string) string {
	if len(mdns) > 0 {
		return mdns[0]
	}
	if len(hostnames) > 0 {
		return hostnames[0]
	}
	return ""
}
