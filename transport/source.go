package transport

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// SourceResolver finds the local address the kernel routes toward a target.
// Results are cached per target.
type SourceResolver struct {
	cache sync.Map // netip.Addr -> netip.Addr
}

// Source returns the local IPv4 address used to reach target. Connecting a
// UDP socket selects the route without sending anything.
func (r *SourceResolver) Source(target netip.Addr) (netip.Addr, error) {
	if v, ok := r.cache.Load(target); ok {
		return v.(netip.Addr), nil
	}

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(target, 9)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("route to %s: %w", target, err)
	}
	defer conn.Close()

	src := conn.LocalAddr().(*net.UDPAddr).AddrPort().Addr().Unmap()
	r.cache.Store(target, src)
	return src, nil
}
