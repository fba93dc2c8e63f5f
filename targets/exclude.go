package targets

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/projectdiscovery/mapcidr"
)

// Exclusions are addresses and ports a scan must never probe. The zero
// value and a nil *Exclusions exclude nothing.
type Exclusions struct {
	nets   []*net.IPNet
	ranges [][2]netip.Addr
	ports  map[uint16]struct{}
}

// NewExclusions parses address exclusions (addresses, CIDR prefixes or
// start-end ranges, comma separated or one per entry) and a port
// expression in the ParsePorts syntax. Host names are not accepted.
func NewExclusions(addrs []string, ports string) (*Exclusions, error) {
	x := &Exclusions{}
	var nets []*net.IPNet
	for _, raw := range addrs {
		for _, expr := range strings.Split(raw, ",") {
			expr = strings.TrimSpace(expr)
			if expr == "" {
				continue
			}
			if lo, hi, ok := strings.Cut(expr, "-"); ok {
				r, err := parseRange(lo, hi)
				if err != nil {
					return nil, fmt.Errorf("exclude %q: %w", expr, err)
				}
				x.ranges = append(x.ranges, r)
				continue
			}
			p, err := parseExcludedPrefix(expr)
			if err != nil {
				return nil, fmt.Errorf("exclude %q: %w", expr, err)
			}
			nets = append(nets, ipNet(p))
		}
	}
	v4, v6 := mapcidr.CoalesceCIDRs(nets)
	x.nets = append(v4, v6...)

	if strings.TrimSpace(ports) != "" {
		list, err := ParsePorts(ports)
		if err != nil {
			return nil, fmt.Errorf("exclude ports: %w", err)
		}
		x.ports = make(map[uint16]struct{}, len(list))
		for _, p := range list {
			x.ports[p] = struct{}{}
		}
	}
	return x, nil
}

func parseExcludedPrefix(expr string) (netip.Prefix, error) {
	if strings.Contains(expr, "/") {
		p, err := netip.ParsePrefix(expr)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(expr)
	if err != nil {
		return netip.Prefix{}, err
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

func parseRange(lo, hi string) ([2]netip.Addr, error) {
	start, err := netip.ParseAddr(strings.TrimSpace(lo))
	if err != nil {
		return [2]netip.Addr{}, err
	}
	end, err := netip.ParseAddr(strings.TrimSpace(hi))
	if err != nil {
		return [2]netip.Addr{}, err
	}
	start, end = start.Unmap(), end.Unmap()
	if start.Is4() != end.Is4() {
		return [2]netip.Addr{}, fmt.Errorf("mixed address families")
	}
	if end.Less(start) {
		return [2]netip.Addr{}, fmt.Errorf("reversed range")
	}
	return [2]netip.Addr{start, end}, nil
}

// Empty reports whether nothing is excluded.
func (x *Exclusions) Empty() bool {
	return x == nil || (len(x.nets) == 0 && len(x.ranges) == 0 && len(x.ports) == 0)
}

// ExcludesAddr reports whether a must not be probed.
func (x *Exclusions) ExcludesAddr(a netip.Addr) bool {
	if x == nil {
		return false
	}
	a = a.Unmap()
	ip := net.IP(a.AsSlice())
	for _, n := range x.nets {
		if n.Contains(ip) {
			return true
		}
	}
	for _, r := range x.ranges {
		if r[0].BitLen() == a.BitLen() && !a.Less(r[0]) && !r[1].Less(a) {
			return true
		}
	}
	return false
}

// ExcludesPort reports whether port must not be probed.
func (x *Exclusions) ExcludesPort(port uint16) bool {
	if x == nil {
		return false
	}
	_, ok := x.ports[port]
	return ok
}

// Addrs returns addrs without the excluded addresses, keeping order.
func (x *Exclusions) Addrs(addrs []netip.Addr) []netip.Addr {
	if x.Empty() {
		return addrs
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if !x.ExcludesAddr(a) {
			out = append(out, a)
		}
	}
	return out
}

// Ports returns ports without the excluded ports, keeping order.
func (x *Exclusions) Ports(ports []uint16) []uint16 {
	if x == nil || len(x.ports) == 0 {
		return ports
	}
	out := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if !x.ExcludesPort(p) {
			out = append(out, p)
		}
	}
	return out
}
