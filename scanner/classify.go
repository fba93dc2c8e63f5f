package scanner

import (
	"net/netip"

	"strobe/packet"
)

// Observation is what came back for one probe, reduced to the cases the
// classifier distinguishes.
type Observation uint8

const (
	NoResponse Observation = iota
	SynAck
	Rst
	OtherTCP
	UDPReply
	ICMPPortUnreachable
	ICMPUnreachable
	ConnectSucceeded
	ConnectRefused
)

var observationNames = [...]string{
	NoResponse:          "no-response",
	SynAck:              "syn-ack",
	Rst:                 "rst",
	OtherTCP:            "other-tcp",
	UDPReply:            "udp-reply",
	ICMPPortUnreachable: "icmp-port-unreachable",
	ICMPUnreachable:     "icmp-unreachable",
	ConnectSucceeded:    "connect-succeeded",
	ConnectRefused:      "connect-refused",
}

func (o Observation) String() string {
	if int(o) < len(observationNames) {
		return observationNames[o]
	}
	return "unknown"
}

// Verdict is the classifier's decision for one probe.
type Verdict struct {
	State PortState
	// SendRST asks the caller to tear down a half-open connection.
	SendRST bool
}

// Classify maps a technique and what was observed to a port state. It does
// no I/O. Observations a technique cannot produce take the technique's
// no-response branch, except ICMP unreachable errors which always mean
// filtered.
func Classify(t Technique, obs Observation) Verdict {
	if obs == ICMPUnreachable {
		return Verdict{State: Filtered}
	}

	switch t {
	case Syn:
		switch obs {
		case SynAck:
			return Verdict{State: Open, SendRST: true}
		case Rst:
			return Verdict{State: Closed}
		default:
			return Verdict{State: Filtered}
		}

	case Connect:
		switch obs {
		case ConnectSucceeded:
			return Verdict{State: Open}
		case ConnectRefused:
			return Verdict{State: Closed}
		default:
			return Verdict{State: Filtered}
		}

	case Fin, Null, Xmas:
		switch obs {
		case Rst:
			return Verdict{State: Closed}
		case ICMPPortUnreachable:
			return Verdict{State: Filtered}
		default:
			return Verdict{State: OpenFiltered}
		}

	case Ack, Window:
		switch obs {
		case Rst:
			return Verdict{State: Unfiltered}
		default:
			return Verdict{State: Filtered}
		}

	case Udp:
		switch obs {
		case UDPReply:
			return Verdict{State: Open}
		case ICMPPortUnreachable:
			return Verdict{State: Closed}
		default:
			return Verdict{State: OpenFiltered}
		}
	}
	return Verdict{State: Filtered}
}

// Sent identifies a probe as it left: the local and remote ends of the flow.
type Sent struct {
	Target  netip.Addr
	Port    uint16
	SrcPort uint16
	Proto   packet.Proto
}

// MatchTCP reports whether a TCP segment answers the probe. Replies from a
// different address, port or to a different local port are rejected.
func MatchTCP(s Sent, r *packet.TCPResponse) bool {
	return s.Proto == packet.ProtoTCP &&
		r.Src == s.Target.Unmap() &&
		r.SrcPort == s.Port &&
		r.DstPort == s.SrcPort
}

// MatchUDP reports whether a UDP datagram answers the probe.
func MatchUDP(s Sent, r *packet.UDPResponse) bool {
	return s.Proto == packet.ProtoUDP &&
		r.Src == s.Target.Unmap() &&
		r.SrcPort == s.Port &&
		r.DstPort == s.SrcPort
}

// MatchICMP reports whether an ICMP error quotes the probe. The error itself
// may come from any router on the path, so only the quoted datagram is
// compared.
func MatchICMP(s Sent, r *packet.ICMPResponse) bool {
	q := r.Quoted
	return q != nil &&
		q.Proto == s.Proto &&
		q.Dst == s.Target.Unmap() &&
		q.DstPort == s.Port &&
		q.SrcPort == s.SrcPort
}

// Matches dispatches to the matcher for the response type. Unknown types
// never match.
func Matches(s Sent, resp any) bool {
	switch r := resp.(type) {
	case *packet.TCPResponse:
		return r != nil && MatchTCP(s, r)
	case *packet.UDPResponse:
		return r != nil && MatchUDP(s, r)
	case *packet.ICMPResponse:
		return r != nil && MatchICMP(s, r)
	default:
		return false
	}
}
