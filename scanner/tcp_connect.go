package scanner

import (
	"context"

	"strobe/packet"
	"strobe/transport"
)

// connect runs a full TCP handshake through the OS transport. With
// ConfirmOpenAttempts above one, a successful connect is repeated that many
// times in total, ConfirmDelay apart, and any attempt that does not connect
// replaces the verdict. This weeds out middleboxes that accept a handshake
// and then reset it.
func (s *scan) connect(ctx context.Context, job ScanJob) (observed, error) {
	o, err := s.dial(ctx, job)
	if err != nil || o.obs != ConnectSucceeded || s.cfg.ConfirmOpenAttempts <= 1 {
		return o, err
	}

	for i := 1; i < s.cfg.ConfirmOpenAttempts; i++ {
		if err := sleep(ctx, s.cfg.ConfirmDelay); err != nil {
			return observed{}, err
		}
		again, err := s.dial(ctx, job)
		if err != nil {
			return observed{}, err
		}
		if again.obs != ConnectSucceeded {
			s.e.log.Debug("Open port failed confirmation", "target", job.Target, "port", job.Port,
				"attempt", i+1, "observation", again.obs)
			return again, nil
		}
	}
	return o, nil
}

func (s *scan) dial(ctx context.Context, job ScanJob) (observed, error) {
	p := &transport.Probe{Target: job.Target.Unmap(), Port: job.Port, Protocol: packet.ProtoTCP}
	if err := s.write(ctx, s.os, Connect, p, nil); err != nil {
		return observed{}, err
	}
	reply, err := s.os.Recv(ctx, p, s.timeout.Current())
	if err != nil {
		return observed{}, err
	}
	return osObservation(reply, ConnectRefused), nil
}

// osObservation maps an OS transport reply. refused is what ECONNREFUSED
// means for the protocol: a RST for TCP, ICMP port unreachable for UDP.
func osObservation(r *transport.Reply, refused Observation) observed {
	if r == nil {
		return observed{obs: NoResponse}
	}
	o := observed{rtt: r.RTT}
	switch r.Outcome {
	case transport.OutcomeConnected:
		o.obs = ConnectSucceeded
	case transport.OutcomeData:
		o.obs = UDPReply
		o.payload = r.Payload
	case transport.OutcomeRefused:
		o.obs = refused
	case transport.OutcomeUnreachable:
		o.obs = ICMPUnreachable
	default:
		o.obs = NoResponse
	}
	return o
}
