package scanner

import (
	"context"
	"math/rand/v2"
	"net/netip"

	"strobe/packet"
	"strobe/transport"
)

// synMSS is advertised on SYN probes so they look like an ordinary
// handshake.
const synMSS = 1460

// crafted runs one hand-built TCP probe (SYN, FIN, NULL, Xmas, ACK,
// Window) over the raw transport. Decoys go out first, then the real
// probe, fragmented when asked. A SYN that is answered with SYN|ACK is torn
// down with a RST so the target does not keep a half-open connection.
func (s *scan) crafted(ctx context.Context, job ScanJob) (observed, error) {
	dst := job.Target.Unmap()
	src, err := s.sourceAddr(dst)
	if err != nil {
		return observed{}, NewScanError(KindNetwork, "route", dst.String(), err)
	}

	spec := s.tcpSpec(src, dst, job.Port, job.Technique)
	datagram, err := packet.BuildTCP(spec)
	if err != nil {
		return observed{}, NewScanError(KindConfig, "build probe", dst.String(), err)
	}
	if err := s.sendDecoys(ctx, job.Technique, dst, job.Port, packet.ProtoTCP, func(decoy netip.Addr) ([]byte, error) {
		d := spec
		d.SrcIP = decoy
		return packet.BuildTCP(d)
	}); err != nil {
		return observed{}, err
	}

	probe := &transport.Probe{Target: dst, Port: job.Port, Source: src, SrcPort: spec.SrcPort, Protocol: packet.ProtoTCP}
	if err := s.sendCrafted(ctx, job.Technique, probe, datagram); err != nil {
		return observed{}, err
	}

	reply, err := s.raw.Recv(ctx, probe, s.timeout.Current())
	if err != nil || reply == nil {
		return observed{obs: NoResponse}, err
	}
	defer reply.Release()

	sent := Sent{Target: dst, Port: job.Port, SrcPort: spec.SrcPort, Proto: packet.ProtoTCP}
	if reply.ICMP != nil {
		if !MatchICMP(sent, reply.ICMP) {
			return observed{obs: NoResponse}, nil
		}
		return observed{obs: icmpObservation(reply.ICMP), rtt: reply.RTT}, nil
	}

	resp, err := packet.ParseTCP(reply.Buffer.Bytes())
	if err != nil || !MatchTCP(sent, resp) {
		// Unparsable or foreign replies count as silence.
		s.e.log.Debug("Discarding reply", "target", dst, "port", job.Port, "error", err)
		return observed{obs: NoResponse}, nil
	}

	o := observed{obs: tcpObservation(resp), rtt: reply.RTT}
	if Classify(job.Technique, o.obs).SendRST {
		s.teardown(ctx, spec, resp)
	}
	return o, nil
}

func (s *scan) tcpSpec(src, dst netip.Addr, port uint16, tech Technique) packet.TCPSpec {
	st := s.cfg.Stealth
	spec := packet.TCPSpec{
		SrcIP:       src,
		DstIP:       dst,
		SrcPort:     s.sourcePort(),
		DstPort:     port,
		Flags:       tech.Flags(),
		Seq:         rand.Uint32(),
		IPID:        uint16(rand.Uint32()),
		Padding:     st.Padding,
		MTU:         st.MTU,
		BadChecksum: st.BadChecksum,
	}
	if tech == Syn {
		spec.Window = 1024
		spec.Options = []packet.TCPOption{packet.MSSOption(synMSS)}
	}
	if spec.Flags.Has(packet.FlagACK) {
		spec.Ack = rand.Uint32()
	}
	return spec
}

// sendCrafted writes the real probe. With fragmentation on, only the first
// fragment registers the flow; the rest follow as oneway writes.
func (s *scan) sendCrafted(ctx context.Context, tech Technique, p *transport.Probe, datagram []byte) error {
	if !s.cfg.Stealth.FragmentPackets {
		return s.write(ctx, s.raw, tech, p, datagram)
	}

	frags, err := packet.Fragment(datagram, s.cfg.Stealth.FragmentSize)
	if err != nil {
		return NewScanError(KindConfig, "fragment probe", p.Target.String(), err)
	}
	if err := s.write(ctx, s.raw, tech, p, frags[0]); err != nil {
		return err
	}
	rest := *p
	rest.Oneway = true
	for _, f := range frags[1:] {
		if err := s.write(ctx, s.raw, tech, &rest, f); err != nil {
			abandon(s.raw, p)
			return err
		}
	}
	return nil
}

// sendDecoys writes one copy of the probe per decoy source. Replies to
// decoys are never awaited.
func (s *scan) sendDecoys(ctx context.Context, tech Technique, dst netip.Addr, port uint16, proto packet.Proto, build func(netip.Addr) ([]byte, error)) error {
	for _, decoy := range s.cfg.Stealth.Decoys {
		b, err := build(decoy.Unmap())
		if err != nil {
			return NewScanError(KindConfig, "build decoy", dst.String(), err)
		}
		p := &transport.Probe{Target: dst, Port: port, Source: decoy, Protocol: proto, Oneway: true}
		if err := s.write(ctx, s.raw, tech, p, b); err != nil {
			return err
		}
	}
	return nil
}

// teardown resets the connection a SYN probe half-opened.
func (s *scan) teardown(ctx context.Context, spec packet.TCPSpec, resp *packet.TCPResponse) {
	rst := packet.TCPSpec{
		SrcIP:   spec.SrcIP,
		DstIP:   spec.DstIP,
		SrcPort: spec.SrcPort,
		DstPort: spec.DstPort,
		Flags:   packet.FlagRST,
		Seq:     resp.Ack,
		IPID:    uint16(rand.Uint32()),
	}
	b, err := packet.BuildTCP(rst)
	if err == nil {
		p := &transport.Probe{Target: spec.DstIP, Port: spec.DstPort, Source: spec.SrcIP, SrcPort: spec.SrcPort, Protocol: packet.ProtoTCP, Oneway: true}
		err = s.write(ctx, s.raw, Syn, p, b)
	}
	if err != nil {
		s.e.log.Debug("RST teardown failed", "target", spec.DstIP, "port", spec.DstPort, "error", err)
	}
}

func tcpObservation(r *packet.TCPResponse) Observation {
	switch {
	case r.IsSynAck():
		return SynAck
	case r.IsRST():
		return Rst
	default:
		return OtherTCP
	}
}

func icmpObservation(r *packet.ICMPResponse) Observation {
	if r.IsPortUnreachable() {
		return ICMPPortUnreachable
	}
	return ICMPUnreachable
}
