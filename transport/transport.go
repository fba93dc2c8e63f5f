// Package transport moves probes onto the wire and hands replies back to the
// scan engine. Two implementations exist: RawTransport, which sends
// hand-built IPv4 datagrams over raw sockets and demultiplexes replies by
// flow, and OSTransport, which uses ordinary kernel sockets and needs no
// privileges.
package transport

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"strobe/packet"
)

var (
	// ErrPermission is returned when raw sockets cannot be opened.
	ErrPermission = errors.New("raw socket access denied")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrDuplicateFlow is returned when a probe reuses a flow that is still
	// awaiting a reply.
	ErrDuplicateFlow = errors.New("flow already in flight")
	// ErrNotSent is returned by Recv for a probe that was never sent.
	ErrNotSent = errors.New("probe was not sent")
)

// Probe identifies one outbound probe. The same pointer must be passed to
// Send and Recv.
type Probe struct {
	Target   netip.Addr
	Port     uint16
	Source   netip.Addr
	SrcPort  uint16
	Protocol packet.Proto
	// Oneway probes are written but never awaited (decoys, trailing
	// fragments, RST teardown).
	Oneway bool
}

func (p *Probe) flow() flowKey {
	return flowKey{remote: p.Target, remotePort: p.Port, localPort: p.SrcPort, proto: p.Protocol}
}

// Outcome is what an OS socket reported for a probe.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeConnected
	OutcomeRefused
	OutcomeData
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomeRefused:
		return "refused"
	case OutcomeData:
		return "data"
	case OutcomeUnreachable:
		return "unreachable"
	}
	return "none"
}

// Reply is the response to a probe. Raw replies carry the received datagram
// in Buffer (or the parsed ICMP error in ICMP); OS replies carry an Outcome
// and, for UDP, the Payload. Release must be called once the reply has been
// consumed.
type Reply struct {
	Buffer  *packet.Buffer
	ICMP    *packet.ICMPResponse
	Outcome Outcome
	Payload []byte
	RTT     time.Duration
}

// Release returns the reply's receive buffer to its pool.
func (r *Reply) Release() {
	if r != nil && r.Buffer != nil {
		r.Buffer.Release()
	}
}

// Transport sends probes and waits for their replies. Recv returns (nil,
// nil) when no reply arrived before timeout.
type Transport interface {
	Send(ctx context.Context, p *Probe, datagram []byte) error
	Recv(ctx context.Context, p *Probe, timeout time.Duration) (*Reply, error)
	Close() error
}

type flowKey struct {
	remote     netip.Addr
	remotePort uint16
	localPort  uint16
	proto      packet.Proto
}

// inbound returns the key a reply datagram travelling from remote to us
// is filed under.
func inbound(f packet.Flow) flowKey {
	return flowKey{remote: f.Src, remotePort: f.SrcPort, localPort: f.DstPort, proto: f.Proto}
}

// outbound returns the key of a datagram we sent, as quoted by an ICMP error.
func outbound(f packet.Flow) flowKey {
	return flowKey{remote: f.Dst, remotePort: f.DstPort, localPort: f.SrcPort, proto: f.Proto}
}
