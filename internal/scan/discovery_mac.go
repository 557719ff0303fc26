package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/endobit/oui"
)

const procNeighbourPath = "/proc/net/arp"

// arpFlagComplete marks a neighbour entry whose hardware address is resolved.
const arpFlagComplete = 0x2

// neighbourTable maps IPv4 addresses to the hardware addresses the kernel has
// resolved for them.
type neighbourTable map[string]string

// loadNeighbours snapshots the kernel neighbour cache. A missing or unreadable
// cache yields an empty table.
func loadNeighbours(path string) neighbourTable {
	f, err := os.Open(path)
	if err != nil {
		return neighbourTable{}
	}
	defer f.Close()
	return parseNeighbours(f)
}

// parseNeighbours reads the /proc/net/arp layout: a header line, then
// "IP type flags HW-address mask device" per entry.
func parseNeighbours(r io.Reader) neighbourTable {
	table := make(neighbourTable)
	sc := bufio.NewScanner(r)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		var flags int
		if _, err := fmt.Sscanf(fields[2], "0x%x", &flags); err != nil || flags&arpFlagComplete == 0 {
			continue
		}
		if mac := normaliseMAC(fields[3]); mac != "" && mac != "00:00:00:00:00:00" {
			table[fields[0]] = mac
		}
	}
	return table
}

// lookup returns the hardware address for ip. Platforms without a readable
// neighbour cache are asked through the arp utility.
func (t neighbourTable) lookup(ctx context.Context, ip string) string {
	if mac, ok := t[ip]; ok {
		return mac
	}
	if len(t) > 0 {
		return ""
	}
	return arpUtilityMAC(ctx, ip)
}

func arpUtilityMAC(ctx context.Context, ip string) string {
	flag := "-n"
	if runtime.GOOS == "windows" {
		flag = "-a"
	}
	output, err := exec.CommandContext(ctx, "arp", flag, ip).Output()
	if err != nil {
		return ""
	}
	return normaliseMAC(string(output))
}

// vendorForMAC resolves the OUI registrant of mac, or "" when unknown.
func vendorForMAC(mac string) string {
	if mac == "" {
		return ""
	}
	return oui.Vendor(strings.ToLower(mac))
}
