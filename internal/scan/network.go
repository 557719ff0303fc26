package scan

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// outboundProbeAddr is only used for a connectionless route lookup; no packet is sent.
var outboundProbeAddr = "8.8.8.8:80"

const loopbackAddr = "127.0.0.1"

// localIPv4 returns the address the kernel would use for outbound traffic,
// or the loopback address when no route is available.
func localIPv4() string {
	conn, err := net.Dial("udp4", outboundProbeAddr)
	if err != nil {
		return loopbackAddr
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return loopbackAddr
	}
	return addr.IP.To4().String()
}

// subnet24 returns the /24 network that contains ip.
func subnet24(ip string) (netip.Prefix, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", ip, err)
	}
	if !addr.Is4() {
		return netip.Prefix{}, fmt.Errorf("only IPv4 addresses are supported: %s", ip)
	}
	return addr.Prefix(24)
}

// maxSweepBits bounds the subnet override; a /16 is 65534 sweep targets.
const maxSweepBits = 16

// parseSubnet accepts a CIDR range no wider than /16 or a single IPv4 address.
func parseSubnet(subnet string) (netip.Prefix, error) {
	if addr, err := netip.ParseAddr(subnet); err == nil {
		if !addr.Is4() {
			return netip.Prefix{}, fmt.Errorf("only IPv4 addresses are supported: %s", subnet)
		}
		return netip.PrefixFrom(addr, 32), nil
	}
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid subnet: %w", err)
	}
	if !prefix.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("only IPv4 CIDR ranges are supported: %s", subnet)
	}
	if prefix.Bits() < maxSweepBits {
		return netip.Prefix{}, fmt.Errorf("subnet %s is wider than /%d", subnet, maxSweepBits)
	}
	return prefix.Masked(), nil
}

// sweepTargets lists the addresses worth probing in prefix. The network and
// broadcast addresses are skipped for ranges larger than /31.
func sweepTargets(prefix netip.Prefix) []netip.Addr {
	prefix = prefix.Masked()
	var targets []netip.Addr
	for current := prefix.Addr(); current.IsValid() && prefix.Contains(current); current = current.Next() {
		targets = append(targets, current)
	}
	if prefix.Bits() < 31 && len(targets) > 2 {
		targets = targets[1 : len(targets)-1]
	}
	return targets
}

// interfaceForPrefix finds the up, non-loopback interface whose network holds
// the first address of prefix.
func interfaceForPrefix(prefix netip.Prefix) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		ifi := ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.To4() != nil && ipNet.Contains(net.IP(prefix.Addr().AsSlice())) {
				return &ifi, nil
			}
		}
	}
	return nil, errors.New("no interface on subnet " + prefix.String())
}

func compareIP(a, b string) int {
	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return pa.Compare(pb)
}
