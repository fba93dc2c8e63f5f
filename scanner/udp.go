package scanner

import (
	"context"
	"math/rand/v2"
	"net/netip"

	"strobe/packet"
	"strobe/transport"
)

// udp sends the port's probe payload. Crafted datagrams over the raw
// transport are preferred since they honour the stealth options; without
// raw sockets a connected kernel socket is used, which surfaces ICMP port
// unreachable as a refused read.
func (s *scan) udp(ctx context.Context, job ScanJob) (observed, error) {
	dst := job.Target.Unmap()
	payload := s.e.probes.Payload(job.Port)
	if s.raw != nil && dst.Is4() {
		return s.rawUDP(ctx, dst, job.Port, payload)
	}

	p := &transport.Probe{Target: dst, Port: job.Port, Protocol: packet.ProtoUDP}
	if err := s.write(ctx, s.os, Udp, p, payload); err != nil {
		return observed{}, err
	}
	reply, err := s.os.Recv(ctx, p, s.timeout.Current())
	if err != nil {
		return observed{}, err
	}
	return osObservation(reply, ICMPPortUnreachable), nil
}

func (s *scan) rawUDP(ctx context.Context, dst netip.Addr, port uint16, payload []byte) (observed, error) {
	src, err := s.sourceAddr(dst)
	if err != nil {
		return observed{}, NewScanError(KindNetwork, "route", dst.String(), err)
	}

	st := s.cfg.Stealth
	spec := packet.UDPSpec{
		SrcIP:       src,
		DstIP:       dst,
		SrcPort:     s.sourcePort(),
		DstPort:     port,
		Payload:     payload,
		IPID:        uint16(rand.Uint32()),
		MTU:         st.MTU,
		BadChecksum: st.BadChecksum,
	}
	datagram, err := packet.BuildUDP(spec)
	if err != nil {
		return observed{}, NewScanError(KindConfig, "build probe", dst.String(), err)
	}
	if err := s.sendDecoys(ctx, Udp, dst, port, packet.ProtoUDP, func(decoy netip.Addr) ([]byte, error) {
		d := spec
		d.SrcIP = decoy
		return packet.BuildUDP(d)
	}); err != nil {
		return observed{}, err
	}

	probe := &transport.Probe{Target: dst, Port: port, Source: src, SrcPort: spec.SrcPort, Protocol: packet.ProtoUDP}
	if err := s.sendCrafted(ctx, Udp, probe, datagram); err != nil {
		return observed{}, err
	}

	reply, err := s.raw.Recv(ctx, probe, s.timeout.Current())
	if err != nil || reply == nil {
		return observed{obs: NoResponse}, err
	}
	defer reply.Release()

	sent := Sent{Target: dst, Port: port, SrcPort: spec.SrcPort, Proto: packet.ProtoUDP}
	if reply.ICMP != nil {
		if !MatchICMP(sent, reply.ICMP) {
			return observed{obs: NoResponse}, nil
		}
		return observed{obs: icmpObservation(reply.ICMP), rtt: reply.RTT}, nil
	}

	resp, err := packet.ParseUDP(reply.Buffer.Bytes())
	if err != nil || !MatchUDP(sent, resp) {
		return observed{obs: NoResponse}, nil
	}
	return observed{obs: UDPReply, rtt: reply.RTT, payload: resp.Payload}, nil
}
