package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParsePortSpec parses a comma separated list of ports and inclusive ranges,
// for example "554,80,8000-8010". Duplicates are dropped; the first occurrence
// keeps its position because probe order follows it.
func ParsePortSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty port spec")
	}
	seen := make(map[int]struct{})
	var ports []int
	add := func(p int) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		ports = append(ports, p)
	}

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, errors.New("invalid empty token in port spec")
		}
		lo, hi, isRange := strings.Cut(token, "-")
		start, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parsePort(hi); err != nil {
				return nil, err
			}
			if start > end {
				return nil, fmt.Errorf("range start greater than end: %s", token)
			}
		}
		for p := start; p <= end; p++ {
			add(p)
		}
	}
	return ports, nil
}

func parsePort(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	if v < 1 || v > 65535 {
		return 0, fmt.Errorf("port %d not in 1..65535", v)
	}
	return v, nil
}

// FormatPortSpec renders ports as a comma separated list.
func FormatPortSpec(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
