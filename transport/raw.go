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
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"strobe/packet"
)

const (
	DefaultRawSockets = 4
	DefaultRawBuffers = 4096
	minRawBuffers     = 64

	icmpProtocolIPv4 = 1
)

// RawOptions configures a RawTransport.
type RawOptions struct {
	// Sockets is the number of raw send sockets per protocol.
	Sockets int
	// Buffers is the number of pooled receive buffers.
	Buffers int
	// BufferSize is the size of each receive buffer.
	BufferSize int
	Logger     *slog.Logger
}

// RawTransport sends hand-built IPv4 datagrams over IP_HDRINCL raw sockets.
// One reader goroutine per socket files every inbound datagram under its
// flow and wakes the probe waiting on it; ICMP errors are matched through
// the datagram they quote.
type RawTransport struct {
	log   *slog.Logger
	pool  *packet.Pool
	demux *demux

	tcp  []*ipv4.RawConn
	udp  []*ipv4.RawConn
	icmp *icmp.PacketConn
	next atomic.Uint64

	dropped atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewRawTransport opens the raw sockets and starts the readers. It returns
// an error wrapping ErrPermission when the process lacks raw socket access.
func NewRawTransport(opts RawOptions) (*RawTransport, error) {
	if opts.Sockets <= 0 {
		opts.Sockets = DefaultRawSockets
	}
	if opts.Buffers <= 0 {
		opts.Buffers = DefaultRawBuffers
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = packet.DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	t := &RawTransport{
		log:   opts.Logger.With("component", "raw_transport"),
		pool:  packet.NewPool(opts.Buffers, opts.BufferSize),
		demux: newDemux(),
	}

	for i := 0; i < opts.Sockets; i++ {
		c, err := openRaw("ip4:tcp")
		if err != nil {
			t.closeConns()
			return nil, err
		}
		t.tcp = append(t.tcp, c)

		c, err = openRaw("ip4:udp")
		if err != nil {
			t.closeConns()
			return nil, err
		}
		t.udp = append(t.udp, c)
	}

	ic, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		t.closeConns()
		return nil, permissionErr("listen icmp", err)
	}
	t.icmp = ic

	for _, c := range t.tcp {
		t.wg.Add(1)
		go t.readRaw(c)
	}
	for _, c := range t.udp {
		t.wg.Add(1)
		go t.readRaw(c)
	}
	t.wg.Add(1)
	go t.readICMP()

	t.log.Debug("Raw transport started", "sockets", opts.Sockets, "buffers", opts.Buffers)
	return t, nil
}

// BuffersFor sizes the receive arena for a scan running threads probes at
// once. Every reader holds one buffer while blocked in a read and every
// in-flight probe holds at most one delivered reply.
func BuffersFor(threads int) int {
	readers := 2*DefaultRawSockets + 1
	return min(max(threads+readers, minRawBuffers), DefaultRawBuffers)
}

func openRaw(network string) (*ipv4.RawConn, error) {
	conn, err := net.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, permissionErr("listen "+network, err)
	}
	rc, err := ipv4.NewRawConn(conn)
	if err != nil {
		_ = conn.Close()
		return nil, permissionErr("raw conn "+network, err)
	}
	return rc, nil
}

func permissionErr(op string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%s: %w: %w", op, ErrPermission, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Send writes a complete IPv4 datagram. Unless p is oneway, the flow is
// registered before the write so a fast reply cannot be missed.
func (t *RawTransport) Send(ctx context.Context, p *Probe, datagram []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := ipv4.ParseHeader(datagram)
	if err != nil {
		return fmt.Errorf("parse outbound header: %w", err)
	}

	conn := t.conn(p.Protocol)
	if conn == nil {
		return fmt.Errorf("no raw socket for %s", p.Protocol)
	}

	var key flowKey
	if !p.Oneway {
		key = p.flow()
		if _, err := t.demux.register(key, time.Now()); err != nil {
			return err
		}
	}

	if err := conn.WriteTo(h, datagram[h.Len:], nil); err != nil {
		if !p.Oneway {
			t.demux.remove(key)
		}
		return fmt.Errorf("write to %s: %w", p.Target, err)
	}
	return nil
}

func (t *RawTransport) conn(proto packet.Proto) *ipv4.RawConn {
	var conns []*ipv4.RawConn
	switch proto {
	case packet.ProtoTCP:
		conns = t.tcp
	case packet.ProtoUDP:
		conns = t.udp
	}
	if len(conns) == 0 {
		return nil
	}
	return conns[t.next.Add(1)%uint64(len(conns))]
}

// Recv waits for the reply to a probe sent with Send. The caller releases
// the returned reply.
func (t *RawTransport) Recv(ctx context.Context, p *Probe, timeout time.Duration) (*Reply, error) {
	key := p.flow()
	w, ok := t.demux.lookup(key)
	if !ok {
		return nil, ErrNotSent
	}
	defer t.demux.remove(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.ch:
		return r, nil
	case <-timer.C:
		return nil, nil
	case <-t.demux.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *RawTransport) readRaw(c *ipv4.RawConn) {
	defer t.wg.Done()

	for {
		buf := t.pool.Get()
		h, p, _, err := c.ReadFrom(buf.Space())
		if err != nil {
			buf.Release()
			if t.closed.Load() {
				return
			}
			t.log.Debug("Raw read failed", "error", err)
			continue
		}
		buf.SetLen(h.Len + len(p))

		f, quoted, err := packet.FlowOf(buf.Bytes())
		if err != nil || quoted {
			buf.Release()
			continue
		}
		if !t.demux.deliver(inbound(f), &Reply{Buffer: buf}) {
			t.dropped.Add(1)
			buf.Release()
		}
	}
}

func (t *RawTransport) readICMP() {
	defer t.wg.Done()

	for {
		buf := t.pool.Get()
		n, peer, err := t.icmp.ReadFrom(buf.Space())
		if err != nil {
			buf.Release()
			if t.closed.Load() {
				return
			}
			t.log.Debug("ICMP read failed", "error", err)
			continue
		}

		resp, ok := icmpError(peer, buf.Space()[:n])
		buf.Release()
		if !ok {
			continue
		}
		q := resp.Quoted
		key := outbound(packet.Flow{Src: q.Src, Dst: q.Dst, Proto: q.Proto, SrcPort: q.SrcPort, DstPort: q.DstPort})
		if !t.demux.deliver(key, &Reply{ICMP: resp}) {
			t.dropped.Add(1)
		}
	}
}

// icmpError parses a destination-unreachable message that quotes one of
// our datagrams.
func icmpError(peer net.Addr, b []byte) (*packet.ICMPResponse, bool) {
	msg, err := icmp.ParseMessage(icmpProtocolIPv4, b)
	if err != nil {
		return nil, false
	}
	body, ok := msg.Body.(*icmp.DstUnreach)
	if !ok {
		return nil, false
	}

	var src netip.Addr
	if ip, ok := peer.(*net.IPAddr); ok {
		src, _ = netip.AddrFromSlice(ip.IP)
	}
	typ := uint8(msg.Type.(ipv4.ICMPType))
	resp := packet.ICMPFromMessage(src, netip.Addr{}, typ, uint8(msg.Code), body.Data)
	if resp.Quoted == nil {
		return nil, false
	}
	resp.Dst = resp.Quoted.Src
	return resp, true
}

// Dropped reports inbound datagrams that matched no waiting probe.
func (t *RawTransport) Dropped() uint64 { return t.dropped.Load() }

// Pending reports probes awaiting a reply.
func (t *RawTransport) Pending() int { return t.demux.pending() }

// Spilled reports receive buffers allocated outside the pool.
func (t *RawTransport) Spilled() int64 { return t.pool.Spilled() }

// Close stops the readers and closes every socket.
func (t *RawTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.demux.close()
	err := t.closeConns()
	t.wg.Wait()
	return err
}

func (t *RawTransport) closeConns() error {
	var errs []error
	for _, c := range t.tcp {
		errs = append(errs, c.Close())
	}
	for _, c := range t.udp {
		errs = append(errs, c.Close())
	}
	if t.icmp != nil {
		errs = append(errs, t.icmp.Close())
	}
	return errors.Join(errs...)
}
