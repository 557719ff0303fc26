package scan

import (
	"regexp"
	"sort"
	"strings"
)

var macLinePattern = regexp.MustCompile(`(?i)([0-9a-f]{2}[:-]){5}([0-9a-f]{2})`)

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		normalized := strings.TrimSpace(v)
		normalized = strings.TrimSuffix(normalized, ".")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

func normaliseMAC(raw string) string {
	if raw == "" {
		return ""
	}
	raw = strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(raw, "-", ":"), ".", ":"))
	match := macLinePattern.FindString(raw)
	if match == "" {
		return ""
	}
	parts := strings.Split(match, ":")
	if len(parts) != 6 {
		return ""
	}
	for i := range parts {
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	return strings.Join(parts, ":")
}

// mergeHosts collapses duplicate addresses, keeping the first non-empty MAC
// and vendor and the union of names. The result is sorted by address.
func mergeHosts(hosts []Host) []Host {
	if len(hosts) == 0 {
		return nil
	}
	index := make(map[string]int, len(hosts))
	out := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if h.IP == "" {
			continue
		}
		i, ok := index[h.IP]
		if !ok {
			index[h.IP] = len(out)
			h.Names = uniqueStrings(h.Names)
			out = append(out, h)
			continue
		}
		existing := &out[i]
		if existing.MAC == "" {
			existing.MAC = h.MAC
		}
		if existing.Vendor == "" {
			existing.Vendor = h.Vendor
		}
		if existing.Source == "" {
			existing.Source = h.Source
		}
		existing.Names = uniqueStrings(append(existing.Names, h.Names...))
	}
	sort.Slice(out, func(i, j int) bool {
		return compareIP(out[i].IP, out[j].IP) < 0
	})
	return out
}
