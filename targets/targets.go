// Package targets turns user supplied host and port expressions into the
// concrete addresses and ports a scan probes.
package targets

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strings"

	"github.com/projectdiscovery/mapcidr"
)

// MaxExpansion bounds how many addresses one expression may produce.
const MaxExpansion = 1 << 20

// ErrTooManyAddresses is returned when an expression expands past
// MaxExpansion.
var ErrTooManyAddresses = errors.New("target expands to too many addresses")

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Expand resolves every expression to addresses. An expression is an IP
// address, a CIDR prefix, a start-end IPv4 range or a host name. Duplicates
// are dropped; order of first appearance is kept.
func Expand(ctx context.Context, exprs []string, r Resolver) ([]netip.Addr, error) {
	if r == nil {
		r = net.DefaultResolver
	}

	seen := make(map[netip.Addr]struct{})
	var out []netip.Addr
	add := func(a netip.Addr) error {
		a = a.Unmap()
		if _, ok := seen[a]; ok {
			return nil
		}
		if len(out) >= MaxExpansion {
			return ErrTooManyAddresses
		}
		seen[a] = struct{}{}
		out = append(out, a)
		return nil
	}

	for _, raw := range exprs {
		for _, expr := range strings.Split(raw, ",") {
			expr = strings.TrimSpace(expr)
			if expr == "" {
				continue
			}
			addrs, err := expandOne(ctx, expr, r)
			if err != nil {
				return nil, err
			}
			for _, a := range addrs {
				if err := add(a); err != nil {
					return nil, fmt.Errorf("%s: %w", expr, err)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets")
	}
	return out, nil
}

func expandOne(ctx context.Context, expr string, r Resolver) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(expr); err == nil {
		return []netip.Addr{a}, nil
	}
	if strings.Contains(expr, "/") {
		p, err := netip.ParsePrefix(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", expr, err)
		}
		return ExpandPrefix(p)
	}
	if lo, hi, ok := strings.Cut(expr, "-"); ok {
		if start, err := netip.ParseAddr(lo); err == nil {
			end, err := netip.ParseAddr(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid range end %q: %w", hi, err)
			}
			return expandRange(start, end)
		}
	}

	addrs, err := r.LookupNetIP(ctx, "ip", expr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", expr, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", expr)
	}
	// Prefer IPv4: crafted probes only speak it.
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return []netip.Addr{a.Unmap()}, nil
		}
	}
	return addrs[:1], nil
}

// ExpandPrefix lists the host addresses of p. For IPv4 prefixes shorter than
// /31 the network and broadcast addresses are skipped.
func ExpandPrefix(p netip.Prefix) ([]netip.Addr, error) {
	p = p.Masked()
	if p.Addr().BitLen()-p.Bits() > 20 {
		return nil, fmt.Errorf("%s: %w", p, ErrTooManyAddresses)
	}
	count := mapcidr.AddressCountIpnet(ipNet(p))

	// The stream is drained to the end so its producer always exits.
	stream, err := mapcidr.IPAddressesAsStream(p.String())
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", p, err)
	}
	out := make([]netip.Addr, 0, count)
	for ip := range stream {
		if a, err := netip.ParseAddr(ip); err == nil {
			out = append(out, a.Unmap())
		}
	}
	if p.Addr().Is4() && p.Bits() < 31 && len(out) > 2 {
		out = out[1 : len(out)-1]
	}
	return out, nil
}

func expandRange(start, end netip.Addr) ([]netip.Addr, error) {
	start, end = start.Unmap(), end.Unmap()
	if start.Is4() != end.Is4() {
		return nil, fmt.Errorf("range %s-%s mixes address families", start, end)
	}
	if end.Less(start) {
		return nil, fmt.Errorf("range %s-%s is reversed", start, end)
	}

	first, bits, err := mapcidr.IPToInteger(net.IP(start.AsSlice()))
	if err != nil {
		return nil, err
	}
	last, _, err := mapcidr.IPToInteger(net.IP(end.AsSlice()))
	if err != nil {
		return nil, err
	}
	span := new(big.Int).Sub(last, first)
	if span.Cmp(big.NewInt(MaxExpansion)) >= 0 {
		return nil, ErrTooManyAddresses
	}

	n := int(span.Int64()) + 1
	out := make([]netip.Addr, 0, n)
	for i := range n {
		ip := mapcidr.IntegerToIP(new(big.Int).Add(first, big.NewInt(int64(i))), bits)
		a, ok := netip.AddrFromSlice(ip)
		if !ok {
			return nil, fmt.Errorf("range %s-%s: bad address %v", start, end, ip)
		}
		out = append(out, a.Unmap())
	}
	return out, nil
}

func ipNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}
