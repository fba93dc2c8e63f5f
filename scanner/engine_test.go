package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strobe/packet"
	"strobe/resilience"
	"strobe/transport"
)

var (
	fakeLocal  = netip.MustParseAddr("10.0.0.1")
	fakeTarget = netip.MustParseAddr("10.0.0.2")
)

// fakeHost answers crafted probes the way a host with the given open and
// closed ports would; every other port stays silent.
type fakeHost struct {
	open    map[uint16]bool
	closed  map[uint16]bool
	sendErr error
	// failFirst fails that many probe sends with ENOBUFS before any
	// succeeds.
	failFirst int

	mu       sync.Mutex
	pool     *packet.Pool
	pending  map[*transport.Probe][]byte
	icmp     map[*transport.Probe]*packet.ICMPResponse
	written  [][]byte
	sentAt   []time.Time
	failedAt []time.Time
	oneway   int
	udpReply []byte
}

func newFakeHost(open, closed []uint16) *fakeHost {
	h := &fakeHost{
		open:    map[uint16]bool{},
		closed:  map[uint16]bool{},
		pool:    packet.NewPool(64, 2048),
		pending: map[*transport.Probe][]byte{},
		icmp:    map[*transport.Probe]*packet.ICMPResponse{},
	}
	for _, p := range open {
		h.open[p] = true
	}
	for _, p := range closed {
		h.closed[p] = true
	}
	return h
}

func (h *fakeHost) Send(_ context.Context, p *transport.Probe, datagram []byte) error {
	if h.sendErr != nil {
		return h.sendErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failFirst > 0 && !p.Oneway {
		h.failFirst--
		h.failedAt = append(h.failedAt, time.Now())
		return syscall.ENOBUFS
	}
	h.written = append(h.written, append([]byte(nil), datagram...))
	h.sentAt = append(h.sentAt, time.Now())
	if p.Oneway {
		h.oneway++
		return nil
	}
	if _, ok := h.pending[p]; ok {
		return transport.ErrDuplicateFlow
	}

	switch p.Protocol {
	case packet.ProtoTCP:
		h.pending[p] = h.answerTCP(p, datagram)
	case packet.ProtoUDP:
		h.pending[p] = h.answerUDP(p)
	}
	return nil
}

// answerTCP follows RFC 793: closed ports reset anything, open ports
// accept SYN and reset stray ACKs, and ignore FIN, NULL and Xmas probes.
// Fragments cannot be parsed and are treated as SYNs.
func (h *fakeHost) answerTCP(p *transport.Probe, datagram []byte) []byte {
	reqFlags, seq := packet.FlagSYN, uint32(0)
	if req, err := packet.ParseTCP(datagram); err == nil {
		reqFlags, seq = req.Flags, req.Seq
	}

	var flags packet.TCPFlags
	switch {
	case h.closed[p.Port]:
		flags = packet.FlagRST | packet.FlagACK
	case h.open[p.Port] && reqFlags.Has(packet.FlagSYN):
		flags = packet.FlagSYN | packet.FlagACK
	case h.open[p.Port] && reqFlags.Has(packet.FlagACK):
		flags = packet.FlagRST
	default:
		return nil
	}
	b, err := packet.BuildTCP(packet.TCPSpec{
		SrcIP: p.Target, DstIP: p.Source, SrcPort: p.Port, DstPort: p.SrcPort,
		Flags: flags, Seq: 7000, Ack: seq + 1,
	})
	if err != nil {
		panic(err)
	}
	return b
}

func (h *fakeHost) answerUDP(p *transport.Probe) []byte {
	switch {
	case h.open[p.Port]:
		b, err := packet.BuildUDP(packet.UDPSpec{
			SrcIP: p.Target, DstIP: p.Source, SrcPort: p.Port, DstPort: p.SrcPort, Payload: h.udpReply,
		})
		if err != nil {
			panic(err)
		}
		return b
	case h.closed[p.Port]:
		quoted, err := packet.BuildUDP(packet.UDPSpec{
			SrcIP: p.Source, DstIP: p.Target, SrcPort: p.SrcPort, DstPort: p.Port,
		})
		if err != nil {
			panic(err)
		}
		h.icmp[p] = packet.ICMPFromMessage(p.Target, p.Source, 3, 3, quoted[:packet.IPv4HeaderLen+8])
	}
	return nil
}

func (h *fakeHost) Recv(_ context.Context, p *transport.Probe, _ time.Duration) (*transport.Reply, error) {
	h.mu.Lock()
	b, ok := h.pending[p]
	icmp := h.icmp[p]
	delete(h.pending, p)
	delete(h.icmp, p)
	h.mu.Unlock()

	if !ok {
		return nil, transport.ErrNotSent
	}
	if icmp != nil {
		return &transport.Reply{ICMP: icmp, RTT: time.Millisecond}, nil
	}
	if b == nil {
		return nil, nil
	}
	buf := h.pool.Get()
	buf.SetLen(copy(buf.Space(), b))
	return &transport.Reply{Buffer: buf, RTT: 2 * time.Millisecond}, nil
}

func (h *fakeHost) Close() error { return nil }

// tcpWritten parses every written datagram that is a whole TCP segment.
func (h *fakeHost) tcpWritten() []*packet.TCPResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*packet.TCPResponse
	for _, b := range h.written {
		if r, err := packet.ParseTCP(b); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func fixedSource(netip.Addr) (netip.Addr, error) { return fakeLocal, nil }

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func testConfig(tech Technique, target netip.Addr, ports ...uint16) ScanConfig {
	cfg := DefaultConfig()
	cfg.Targets = []netip.Addr{target}
	cfg.Ports = ports
	cfg.Technique = tech
	cfg.Threads = 16
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 0
	cfg.Fallback = false
	return cfg
}

func assertPartition(t *testing.T, res *ScanResult) {
	t.Helper()
	assert.Equal(t, len(res.PortResults), len(res.OpenPorts)+len(res.ClosedPorts)+len(res.FilteredPorts))
	for _, pr := range res.PortResults {
		if pr.State != Open {
			assert.Empty(t, pr.Service, "port %d", pr.Port)
		}
	}
}

func TestEngineSynScan(t *testing.T) {
	host := newFakeHost([]uint16{22, 80}, []uint16{443})
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource))

	res, err := e.Scan(context.Background(), testConfig(Syn, fakeTarget, 8080, 443, 80, 22))
	require.NoError(t, err)

	assert.Equal(t, []uint16{22, 80}, res.OpenPorts)
	assert.Equal(t, []uint16{443}, res.ClosedPorts)
	assert.Equal(t, []uint16{8080}, res.FilteredPorts)
	assertPartition(t, res)

	require.Len(t, res.PortResults, 4)
	assert.Equal(t, uint16(22), res.PortResults[0].Port)
	assert.Equal(t, "ssh", res.PortResults[0].Service)
	assert.Equal(t, fakeTarget, res.PortResults[0].Address)
	assert.Equal(t, TCP, res.PortResults[0].Protocol)
	assert.Equal(t, 2*time.Millisecond, res.PortResults[0].ResponseTime)
	assert.Equal(t, "http", res.PortResults[1].Service)

	// Four SYNs plus one RST per open port.
	var syns, rsts int
	for _, seg := range host.tcpWritten() {
		switch {
		case seg.Flags == packet.FlagSYN:
			syns++
		case seg.Flags == packet.FlagRST:
			rsts++
			assert.True(t, seg.SrcPort >= ephemeralBase)
		}
	}
	assert.Equal(t, 4, syns)
	assert.Equal(t, 2, rsts)

	st := res.Stats
	assert.Equal(t, uint64(6), st.PacketsSent)
	assert.Equal(t, uint64(3), st.PacketsReceived)
	assert.Equal(t, uint64(1), st.Timeouts)
	assert.Zero(t, st.Errors)
	assert.Zero(t, st.Retries)
	assert.InDelta(t, 25.0, st.PacketLoss, 0.001)
	assert.Equal(t, 2*time.Millisecond, st.AvgResponseTime)
	assert.Equal(t, 2*time.Millisecond, st.MinResponseTime)
	assert.Equal(t, 2*time.Millisecond, st.MaxResponseTime)
	assert.Greater(t, st.ActualRate, 0.0)
}

func TestEngineStealthTechniques(t *testing.T) {
	tests := []struct {
		tech         Technique
		wantOpen     []uint16
		wantClosed   []uint16
		wantFiltered []uint16
		wantState    map[uint16]PortState
	}{
		{
			tech:         Fin,
			wantClosed:   []uint16{443},
			wantFiltered: []uint16{22, 8080},
			wantState:    map[uint16]PortState{22: OpenFiltered, 8080: OpenFiltered, 443: Closed},
		},
		{
			tech:         Ack,
			wantFiltered: []uint16{22, 443, 8080},
			wantState:    map[uint16]PortState{22: Unfiltered, 443: Unfiltered, 8080: Filtered},
		},
	}

	for _, tt := range tests {
		t.Run(tt.tech.String(), func(t *testing.T) {
			host := newFakeHost([]uint16{22}, []uint16{443})
			e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource))

			res, err := e.Scan(context.Background(), testConfig(tt.tech, fakeTarget, 22, 443, 8080))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOpen, res.OpenPorts)
			assert.Equal(t, tt.wantClosed, res.ClosedPorts)
			assert.Equal(t, tt.wantFiltered, res.FilteredPorts)
			assertPartition(t, res)

			for _, pr := range res.PortResults {
				if want, ok := tt.wantState[pr.Port]; ok {
					assert.Equal(t, want, pr.State, "port %d", pr.Port)
				}
				assert.Equal(t, tt.tech, pr.Technique)
			}
		})
	}
}

func TestEngineStealthOptions(t *testing.T) {
	host := newFakeHost([]uint16{22}, nil)
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource))

	cfg := testConfig(Syn, fakeTarget, 22)
	cfg.Stealth.Decoys = []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.2")}
	cfg.Stealth.FragmentPackets = true
	cfg.Stealth.RandomizeSourcePort = true

	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []uint16{22}, res.OpenPorts)

	host.mu.Lock()
	defer host.mu.Unlock()

	// Two decoys, three 8-byte fragments of the 24-byte SYN, one RST.
	require.Len(t, host.written, 6)
	for i, b := range host.written[:2] {
		r, err := packet.ParseTCP(b)
		require.NoError(t, err)
		assert.Equal(t, cfg.Stealth.Decoys[i], r.Src)
	}
	more, off, err := packet.FragmentInfo(host.written[2])
	require.NoError(t, err)
	assert.True(t, more)
	assert.Zero(t, off)
	more, _, err = packet.FragmentInfo(host.written[4])
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 5, host.oneway, "decoys, trailing fragments and the RST are oneway")
}

func TestEngineUDPRaw(t *testing.T) {
	host := newFakeHost([]uint16{53}, []uint16{161})
	host.udpReply = []byte{0x12, 0x34, 0x81, 0x80}
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource))

	res, err := e.Scan(context.Background(), testConfig(Udp, fakeTarget, 53, 161, 9999))
	require.NoError(t, err)
	assert.Equal(t, []uint16{53}, res.OpenPorts)
	assert.Equal(t, []uint16{161}, res.ClosedPorts)
	assert.Equal(t, []uint16{9999}, res.FilteredPorts)
	assertPartition(t, res)

	byPort := map[uint16]PortResult{}
	for _, pr := range res.PortResults {
		byPort[pr.Port] = pr
		assert.Equal(t, UDP, pr.Protocol)
	}
	assert.Equal(t, "domain", byPort[53].Service)
	assert.Equal(t, OpenFiltered, byPort[9999].State)
}

func TestEngineRetriesThenFilters(t *testing.T) {
	host := newFakeHost(nil, nil)
	host.sendErr = syscall.ENOBUFS
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource), WithRetryPolicy(fastRetry()))

	cfg := testConfig(Syn, fakeTarget, 22, 23)
	cfg.MaxRetries = 2
	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, []uint16{22, 23}, res.FilteredPorts)
	assertPartition(t, res)
	assert.Equal(t, uint64(4), res.Stats.Retries)
	assert.Equal(t, uint64(2), res.Stats.Errors)
	assert.Zero(t, res.Stats.PacketsSent)
}

func TestEngineNonRecoverableErrorDoesNotRetry(t *testing.T) {
	host := newFakeHost(nil, nil)
	host.sendErr = errors.New("something odd")
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource), WithRetryPolicy(fastRetry()))

	cfg := testConfig(Syn, fakeTarget, 22)
	cfg.MaxRetries = 3
	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Retries)
	assert.Equal(t, uint64(1), res.Stats.Errors)
	assert.Equal(t, []uint16{22}, res.FilteredPorts)
}

func listenLoopback(t *testing.T) (open, closed uint16) {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	c, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	closed = uint16(c.Addr().(*net.TCPAddr).Port)
	require.NoError(t, c.Close())
	return uint16(l.Addr().(*net.TCPAddr).Port), closed
}

func TestEngineConnectLoopback(t *testing.T) {
	open, closed := listenLoopback(t)
	e := NewEngine()

	cfg := testConfig(Connect, netip.MustParseAddr("127.0.0.1"), open, closed)
	cfg.Timeout = time.Second
	cfg.ConfirmOpenAttempts = 2
	cfg.ConfirmDelay = time.Millisecond

	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []uint16{open}, res.OpenPorts)
	assert.Equal(t, []uint16{closed}, res.ClosedPorts)
	assertPartition(t, res)
	assert.Zero(t, res.Stats.Retries)
	assert.Zero(t, res.Stats.Errors)
	// The open port is dialled twice for confirmation.
	assert.Equal(t, uint64(3), res.Stats.PacketsSent)
}

func TestEngineFallsBackToConnect(t *testing.T) {
	open, _ := listenLoopback(t)
	host := newFakeHost(nil, nil)
	host.sendErr = transport.ErrPermission
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource), WithRetryPolicy(fastRetry()))

	cfg := testConfig(Syn, netip.MustParseAddr("127.0.0.1"), open)
	cfg.Fallback = true
	cfg.Timeout = time.Second

	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, res.PortResults, 1)
	assert.Equal(t, Open, res.PortResults[0].State)
	assert.Equal(t, Connect, res.PortResults[0].Technique)
	assert.Equal(t, uint64(1), res.Stats.Fallbacks)
	assert.Zero(t, res.Stats.Errors)
}

func TestEngineRawTechniqueWithoutPrivilege(t *testing.T) {
	e := NewEngine()
	e.canRaw = func() bool { return false }

	_, err := e.Scan(context.Background(), testConfig(Syn, fakeTarget, 22))
	require.Error(t, err)
	assert.Equal(t, KindPermission, KindOf(err))
	assert.True(t, errors.Is(err, transport.ErrPermission))

	// With fallback the scan degrades to connect probes.
	open, _ := listenLoopback(t)
	cfg := testConfig(Syn, netip.MustParseAddr("127.0.0.1"), open)
	cfg.Fallback = true
	cfg.Timeout = time.Second
	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []uint16{open}, res.OpenPorts)
	assert.Equal(t, Connect, res.PortResults[0].Technique)
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	e := NewEngine(WithRawTransport(newFakeHost(nil, nil)))

	_, err := e.Scan(context.Background(), testConfig(Syn, fakeTarget))
	assert.Equal(t, KindPortRange, KindOf(err))

	cfg := testConfig(Syn, fakeTarget, 22)
	cfg.Targets = nil
	_, err = e.Scan(context.Background(), cfg)
	assert.Equal(t, KindInvalidTarget, KindOf(err))
	assert.True(t, IsFatal(err))
}

func TestEngineMultipleTargetsAndBatches(t *testing.T) {
	host := newFakeHost([]uint16{1, 5}, nil)
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource))

	second := netip.MustParseAddr("10.0.0.3")
	cfg := testConfig(Syn, fakeTarget, 1, 2, 3, 4, 5)
	cfg.Targets = append(cfg.Targets, second)
	cfg.BatchSize = 2
	cfg.Threads = 3

	var (
		mu       sync.Mutex
		progress []Progress
	)
	cfg.Progress = func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}

	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, res.PortResults, 10)
	assertPartition(t, res)
	assert.Equal(t, []uint16{1, 1, 5, 5}, res.OpenPorts)
	assert.Equal(t, fakeTarget, res.PortResults[0].Address)
	assert.Equal(t, second, res.PortResults[1].Address)
	assert.Equal(t, "10.0.0.2 (+1 more)", res.Target)

	require.Len(t, progress, 10)
	last := progress[len(progress)-1]
	assert.Equal(t, 10, last.Total)
	assert.Equal(t, 10, last.Completed)
	assert.Equal(t, 4, last.Open)
}

func TestEngineCancelledScanReturnsPartialResult(t *testing.T) {
	host := newFakeHost(nil, nil)
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Scan(ctx, testConfig(Syn, fakeTarget, 22, 23))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assertPartition(t, res)
}

func TestEstimateBatches(t *testing.T) {
	assert.Equal(t, 1, estimateBatches(1, 10, 500))
	assert.Equal(t, 6, estimateBatches(3, 1000, 500))
	assert.Equal(t, 3, estimateBatches(1, 1001, 500))
	assert.Equal(t, 1, estimateBatches(0, 0, 0))
}

func TestEngineRateLimitPacesEveryDatagram(t *testing.T) {
	host := newFakeHost(nil, []uint16{7})
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource))

	const rate = 40
	ports := make([]uint16, 12)
	for i := range ports {
		ports[i] = uint16(i + 1)
	}
	cfg := testConfig(Syn, fakeTarget, ports...)
	cfg.RateLimit = rate
	cfg.Stealth.Decoys = []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.2")}
	cfg.Stealth.FragmentPackets = true

	start := time.Now()
	res, err := e.Scan(context.Background(), cfg)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assertPartition(t, res)

	host.mu.Lock()
	written := len(host.written)
	host.mu.Unlock()

	// Two decoys and three fragments per port: 60 datagrams, 20 past the
	// initial burst of 40.
	assert.Equal(t, 5*len(ports), written)
	assert.Equal(t, uint64(written), res.Stats.PacketsSent)
	assert.LessOrEqual(t, float64(written), rate*elapsed.Seconds()+rate)
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
}

func TestEngineBreakerPausesProbing(t *testing.T) {
	host := newFakeHost(nil, []uint16{1, 2, 3, 4, 5})
	host.failFirst = 3

	var logs bytes.Buffer
	recovery := 150 * time.Millisecond
	e := NewEngine(WithRawTransport(host), WithSourceResolver(fixedSource),
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
		WithBreakerConfig(resilience.BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: recovery}))

	cfg := testConfig(Syn, fakeTarget, 1, 2, 3, 4, 5)
	cfg.Threads = 1
	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	assertPartition(t, res)

	assert.Len(t, res.ClosedPorts, 2)
	assert.Len(t, res.FilteredPorts, 3)
	assert.Equal(t, uint64(3), res.Stats.Errors)
	assert.GreaterOrEqual(t, res.Duration, recovery)

	host.mu.Lock()
	require.Len(t, host.failedAt, 3)
	require.NotEmpty(t, host.sentAt)
	gap := host.sentAt[0].Sub(host.failedAt[2])
	host.mu.Unlock()
	assert.GreaterOrEqual(t, gap, recovery, "no probe leaves while the breaker is open")

	var states []string
	dec := json.NewDecoder(&logs)
	for dec.More() {
		var line struct {
			Msg string `json:"msg"`
			To  string `json:"to"`
		}
		require.NoError(t, dec.Decode(&line))
		if line.Msg == "circuit breaker state change" {
			states = append(states, line.To)
		}
	}
	assert.Equal(t, []string{"open", "half-open", "closed"}, states)
}

// flakyDialer connects the first dial to each port and refuses the rest,
// like a middlebox that accepts one handshake and then resets.
type flakyDialer struct {
	mu      sync.Mutex
	dials   map[uint16]int
	pending map[*transport.Probe]transport.Outcome
}

func newFlakyDialer() *flakyDialer {
	return &flakyDialer{dials: map[uint16]int{}, pending: map[*transport.Probe]transport.Outcome{}}
}

func (d *flakyDialer) Send(_ context.Context, p *transport.Probe, _ []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[p.Port]++
	if d.dials[p.Port] == 1 {
		d.pending[p] = transport.OutcomeConnected
	} else {
		d.pending[p] = transport.OutcomeRefused
	}
	return nil
}

func (d *flakyDialer) Recv(_ context.Context, p *transport.Probe, _ time.Duration) (*transport.Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, ok := d.pending[p]
	if !ok {
		return nil, transport.ErrNotSent
	}
	delete(d.pending, p)
	return &transport.Reply{Outcome: out, RTT: time.Millisecond}, nil
}

func (d *flakyDialer) Close() error { return nil }

func TestEngineConnectConfirmationRejectsFlakyOpen(t *testing.T) {
	dialer := newFlakyDialer()
	e := NewEngine(WithOSTransport(dialer))

	cfg := testConfig(Connect, fakeTarget, 8080)
	cfg.ConfirmOpenAttempts = 3
	cfg.ConfirmDelay = time.Millisecond

	res, err := e.Scan(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, res.PortResults, 1)
	assert.Equal(t, Closed, res.PortResults[0].State, "the refused confirmation replaces open")
	assert.Empty(t, res.OpenPorts)
	assert.Equal(t, []uint16{8080}, res.ClosedPorts)
	assert.Equal(t, 2, dialer.dials[8080], "confirmation stops at the first refusal")
	assert.Equal(t, uint64(2), res.Stats.PacketsSent)

	// Without confirmation the single successful handshake stands.
	dialer = newFlakyDialer()
	cfg.ConfirmOpenAttempts = 0
	res, err = NewEngine(WithOSTransport(dialer)).Scan(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []uint16{8080}, res.OpenPorts)
}
