package targets

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TopTCPPorts are the most commonly open TCP ports, most frequent first.
var TopTCPPorts = []uint16{
	80, 23, 443, 21, 22, 25, 3389, 110, 445, 139, 143, 53, 135, 3306, 8080,
	1723, 111, 995, 993, 5900, 1025, 587, 8888, 199, 1720, 465, 548, 113, 81,
	6001, 10000, 514, 5060, 179, 1026, 2000, 8443, 8000, 32768, 554, 26, 1433,
	49152, 2001, 515, 8008, 49154, 1027, 5666, 646, 5000, 5631, 631, 49153,
	8081, 2049, 88, 79, 5800, 106, 2121, 1110, 49155, 6000, 513, 990, 5357,
	427, 49156, 543, 544, 5101, 144, 7, 389, 8009, 3128, 444, 9999, 5009, 7070,
	5190, 3000, 5432, 1900, 3986, 13, 1029, 9, 5051, 6646, 49157, 1028, 873,
	1755, 2717, 4899, 9100, 119, 37,
}

// TopUDPPorts are the most commonly open UDP ports, most frequent first.
var TopUDPPorts = []uint16{
	53, 67, 68, 69, 123, 135, 137, 138, 139, 161, 162, 445, 500, 514, 520, 631,
	1900, 4500, 5353, 5060, 1434, 1701, 4569, 5004, 5005, 2049, 111, 2000,
	1812, 1813, 1645, 1646, 3478, 5349, 11211, 623, 1194, 177, 427, 49152,
}

// ParsePorts parses a port expression: a comma separated list of ports and
// start-end ranges, "top:N" or "udp-top:N" for the N most common ports, or
// "all" for 1-65535. The result is sorted and free of duplicates.
func ParsePorts(expr string) ([]uint16, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty port expression")
	}

	var ports []uint16
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		got, err := parsePortPart(part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, got...)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in %q", expr)
	}

	slices.Sort(ports)
	return slices.Compact(ports), nil
}

func parsePortPart(part string) ([]uint16, error) {
	lower := strings.ToLower(part)
	switch {
	case lower == "all" || lower == "-":
		return portRange(1, 65535), nil
	case strings.HasPrefix(lower, "top:"):
		return topN(TopTCPPorts, strings.TrimPrefix(lower, "top:"))
	case strings.HasPrefix(lower, "udp-top:"):
		return topN(TopUDPPorts, strings.TrimPrefix(lower, "udp-top:"))
	}

	if start, end, ok := strings.Cut(part, "-"); ok {
		lo, err := parsePort(start)
		if err != nil {
			return nil, fmt.Errorf("start port is not valid: %w", err)
		}
		hi, err := parsePort(end)
		if err != nil {
			return nil, fmt.Errorf("end port is not valid: %w", err)
		}
		if lo > hi {
			return nil, fmt.Errorf("start port must be less than or equal to end port: %s", part)
		}
		return portRange(lo, hi), nil
	}

	p, err := parsePort(part)
	if err != nil {
		return nil, err
	}
	return []uint16{p}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("port is not a number: %s", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("ports must be within 1-65535 range: %d", n)
	}
	return uint16(n), nil
}

func topN(list []uint16, s string) ([]uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("top count must be a positive number: %s", s)
	}
	n = min(n, len(list))
	return slices.Clone(list[:n]), nil
}

func portRange(lo, hi uint16) []uint16 {
	out := make([]uint16, 0, int(hi)-int(lo)+1)
	for p := int(lo); p <= int(hi); p++ {
		out = append(out, uint16(p))
	}
	return out
}
