package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"syscall"
	"time"

	"strobe/packet"
)

const maxUDPReply = 2048

// OSTransport probes through ordinary kernel sockets. TCP probes are full
// connects; UDP probes are connected datagram sockets whose read surfaces
// the ICMP port-unreachable as ECONNREFUSED. Send's datagram argument is the
// application payload, not an IP datagram.
type OSTransport struct {
	log    *slog.Logger
	dialer net.Dialer

	mu      sync.Mutex
	pending map[*Probe]*osProbe
	closed  bool
}

type osProbe struct {
	sent   time.Time
	cancel context.CancelFunc

	// tcp
	done    chan struct{}
	outcome Outcome
	err     error

	// udp
	conn net.Conn
}

func NewOSTransport(log *slog.Logger) *OSTransport {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &OSTransport{
		log:     log.With("component", "os_transport"),
		pending: make(map[*Probe]*osProbe),
	}
}

func (t *OSTransport) Send(ctx context.Context, p *Probe, payload []byte) error {
	addr := netip.AddrPortFrom(p.Target, p.Port).String()

	switch p.Protocol {
	case packet.ProtoTCP:
		dctx, cancel := context.WithCancel(ctx)
		op := &osProbe{sent: time.Now(), cancel: cancel, done: make(chan struct{})}
		if err := t.track(p, op); err != nil {
			cancel()
			return err
		}
		go func() {
			defer close(op.done)
			conn, err := t.dialer.DialContext(dctx, "tcp", addr)
			if err == nil {
				_ = conn.Close()
				op.outcome = OutcomeConnected
				return
			}
			op.outcome, op.err = dialOutcome(err)
		}()
		return nil

	case packet.ProtoUDP:
		conn, err := t.dialer.DialContext(ctx, "udp", addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		op := &osProbe{sent: time.Now(), cancel: func() {}, conn: conn}
		if err := t.track(p, op); err != nil {
			_ = conn.Close()
			return err
		}
		if _, err := conn.Write(payload); err != nil {
			t.untrack(p)
			_ = conn.Close()
			return fmt.Errorf("write %s: %w", addr, err)
		}
		return nil
	}
	return fmt.Errorf("unsupported protocol %s", p.Protocol)
}

func (t *OSTransport) track(p *Probe, op *osProbe) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, ok := t.pending[p]; ok {
		return ErrDuplicateFlow
	}
	t.pending[p] = op
	return nil
}

func (t *OSTransport) untrack(p *Probe) (*osProbe, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.pending[p]
	delete(t.pending, p)
	return op, ok
}

func (t *OSTransport) Recv(ctx context.Context, p *Probe, timeout time.Duration) (*Reply, error) {
	op, ok := t.untrack(p)
	if !ok {
		return nil, ErrNotSent
	}
	defer op.cancel()

	if op.conn != nil {
		return t.recvUDP(ctx, op, timeout)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-op.done:
	case <-timer.C:
		op.cancel()
		<-op.done
		// The dial may have completed while being cancelled.
		if op.outcome == OutcomeNone {
			return nil, nil
		}
	case <-ctx.Done():
		op.cancel()
		<-op.done
		return nil, ctx.Err()
	}

	if op.err != nil {
		return nil, op.err
	}
	if op.outcome == OutcomeNone {
		return nil, nil
	}
	return &Reply{Outcome: op.outcome, RTT: time.Since(op.sent)}, nil
}

func (t *OSTransport) recvUDP(ctx context.Context, op *osProbe, timeout time.Duration) (*Reply, error) {
	defer op.conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = op.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := op.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, maxUDPReply)
	n, err := op.conn.Read(buf)
	if err == nil {
		return &Reply{Outcome: OutcomeData, Payload: buf[:n], RTT: time.Since(op.sent)}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	outcome, err := dialOutcome(err)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNone {
		return nil, nil
	}
	return &Reply{Outcome: outcome, RTT: time.Since(op.sent)}, nil
}

// dialOutcome maps a socket error to the outcome it evidences. Timeouts and
// cancellation mean no response; anything unrecognised is returned as is.
func dialOutcome(err error) (Outcome, error) {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return OutcomeRefused, nil
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return OutcomeUnreachable, nil
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return OutcomeNone, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return OutcomeNone, nil
	}
	return OutcomeNone, err
}

func (t *OSTransport) Close() error {
	t.mu.Lock()
	ops := t.pending
	t.pending = make(map[*Probe]*osProbe)
	t.closed = true
	t.mu.Unlock()

	for _, op := range ops {
		op.cancel()
		if op.conn != nil {
			_ = op.conn.Close()
		}
	}
	return nil
}
