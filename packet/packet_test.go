package packet

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSrc = netip.MustParseAddr("10.0.0.1")
	testDst = netip.MustParseAddr("10.0.0.2")
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint16
	}{
		{name: "rfc1071 example", in: []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}, want: 0x220d},
		{name: "odd length pads right", in: []byte{0x01}, want: 0xfeff},
		{name: "empty", in: nil, want: 0xffff},
		{name: "carry folds", in: []byte{0xff, 0xff, 0x00, 0x01}, want: 0xfffe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.in))
		})
	}
}

func TestChecksumRoundTripAndBitFlip(t *testing.T) {
	b, err := BuildTCP(TCPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 40000, DstPort: 443, Flags: FlagSYN, Seq: 7})
	require.NoError(t, err)

	hdr := append([]byte(nil), b[:IPv4HeaderLen]...)
	require.True(t, Valid(hdr))

	for bit := 0; bit < len(hdr)*8; bit++ {
		flipped := append([]byte(nil), hdr...)
		flipped[bit/8] ^= 1 << (bit % 8)
		assert.False(t, Valid(flipped), "bit %d", bit)
	}
}

func TestBuildParseTCP(t *testing.T) {
	b, err := BuildTCP(TCPSpec{
		SrcIP:   testSrc,
		DstIP:   testDst,
		SrcPort: 40000,
		DstPort: 22,
		Flags:   FlagSYN | FlagACK,
		Seq:     1000,
		Ack:     2000,
		Window:  1024,
		Options: []TCPOption{MSSOption(1460)},
		TTL:     50,
	})
	require.NoError(t, err)
	assert.Len(t, b, IPv4HeaderLen+TCPHeaderLen+4)

	resp, err := ParseTCP(b)
	require.NoError(t, err)
	assert.Equal(t, testSrc, resp.Src)
	assert.Equal(t, testDst, resp.Dst)
	assert.Equal(t, uint16(40000), resp.SrcPort)
	assert.Equal(t, uint16(22), resp.DstPort)
	assert.Equal(t, uint32(1000), resp.Seq)
	assert.Equal(t, uint32(2000), resp.Ack)
	assert.Equal(t, uint16(1024), resp.Window)
	assert.Equal(t, uint8(50), resp.TTL)
	assert.True(t, resp.IsSynAck())
	assert.True(t, resp.IsACK())
	assert.False(t, resp.IsRST())
	assert.True(t, resp.ChecksumValid)
}

func TestBuildTCPBadChecksum(t *testing.T) {
	spec := TCPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 1234, DstPort: 80, Flags: FlagSYN}

	good, err := BuildTCP(spec)
	require.NoError(t, err)
	spec.BadChecksum = true
	bad, err := BuildTCP(spec)
	require.NoError(t, err)

	assert.NotEqual(t, good[IPv4HeaderLen+16:IPv4HeaderLen+18], bad[IPv4HeaderLen+16:IPv4HeaderLen+18])
	assert.True(t, Valid(bad[:IPv4HeaderLen]), "ip header stays valid")

	resp, err := ParseTCP(bad)
	require.NoError(t, err)
	assert.False(t, resp.ChecksumValid)
}

func TestBuildTCPPaddingAndMTU(t *testing.T) {
	b, err := BuildTCP(TCPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 1, DstPort: 2, Flags: FlagSYN, Padding: 16})
	require.NoError(t, err)
	require.Len(t, b, IPv4HeaderLen+TCPHeaderLen+16)
	assert.Equal(t, make([]byte, 16), b[IPv4HeaderLen+TCPHeaderLen:])

	b, err = BuildTCP(TCPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 1, DstPort: 2, Flags: FlagSYN, Padding: 16, MTU: 48})
	require.NoError(t, err)
	require.Len(t, b, 48)
	assert.Equal(t, uint16(48), binary.BigEndian.Uint16(b[2:]))
	assert.True(t, Valid(b[:IPv4HeaderLen]))

	_, err = BuildTCP(TCPSpec{SrcIP: testSrc, DstIP: testDst, Padding: 16, MTU: 10})
	assert.ErrorIs(t, err, ErrMTUTooSmall)
}

func TestBuildRejectsIPv6(t *testing.T) {
	_, err := BuildTCP(TCPSpec{SrcIP: netip.MustParseAddr("::1"), DstIP: testDst})
	assert.ErrorIs(t, err, ErrNotIPv4)
	_, err = BuildUDP(UDPSpec{SrcIP: testSrc, DstIP: netip.MustParseAddr("2001:db8::1")})
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestBuildParseUDP(t *testing.T) {
	b, err := BuildUDP(UDPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 5353, DstPort: 53, Payload: []byte("hello")})
	require.NoError(t, err)

	resp, err := ParseUDP(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(5353), resp.SrcPort)
	assert.Equal(t, uint16(53), resp.DstPort)
	assert.Equal(t, []byte("hello"), resp.Payload)
	assert.True(t, SegmentValid(testSrc, testDst, ProtoUDP, b[IPv4HeaderLen:]))
}

func TestParseErrors(t *testing.T) {
	tcp, err := BuildTCP(TCPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 1, DstPort: 2, Flags: FlagRST})
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := ParseTCP(nil)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("truncated ip header", func(t *testing.T) {
		_, err := ParseTCP(tcp[:10])
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("truncated tcp header", func(t *testing.T) {
		_, err := ParseTCP(tcp[:IPv4HeaderLen+6])
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("wrong protocol", func(t *testing.T) {
		_, err := ParseUDP(tcp)
		assert.ErrorIs(t, err, ErrWrongProtocol)
		_, err = ParseICMP(tcp)
		assert.ErrorIs(t, err, ErrWrongProtocol)
	})
	t.Run("garbage never panics", func(t *testing.T) {
		junk := []byte{0x4f, 0xff, 0x00, 0x01, 0xde, 0xad, 0xbe, 0xef, 0x40, 0x06, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 9}
		for i := 0; i <= len(junk); i++ {
			assert.NotPanics(t, func() {
				_, _ = ParseTCP(junk[:i])
				_, _ = ParseUDP(junk[:i])
				_, _ = ParseICMP(junk[:i])
			})
		}
	})
}

func buildICMPError(t *testing.T, code uint8, quoted []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.IP(testDst.AsSlice()),
		DstIP:    net.IP(testSrc.AsSlice()),
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(3, code)}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, serializeOpts, ip, icmp, gopacket.Payload(quoted)))
	return buf.Bytes()
}

func TestParseICMPQuotedDatagram(t *testing.T) {
	probe, err := BuildUDP(UDPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 40001, DstPort: 161, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)

	resp, err := ParseICMP(buildICMPError(t, 3, probe[:IPv4HeaderLen+8]))
	require.NoError(t, err)
	assert.True(t, resp.IsUnreachable())
	assert.True(t, resp.IsPortUnreachable())
	assert.False(t, resp.IsAdminProhibited())
	require.NotNil(t, resp.Quoted)
	assert.Equal(t, testSrc, resp.Quoted.Src)
	assert.Equal(t, testDst, resp.Quoted.Dst)
	assert.Equal(t, ProtoUDP, resp.Quoted.Proto)
	assert.Equal(t, uint16(40001), resp.Quoted.SrcPort)
	assert.Equal(t, uint16(161), resp.Quoted.DstPort)

	resp, err = ParseICMP(buildICMPError(t, 13, probe[:IPv4HeaderLen+8]))
	require.NoError(t, err)
	assert.False(t, resp.IsPortUnreachable())
	assert.True(t, resp.IsAdminProhibited())

	resp, err = ParseICMP(buildICMPError(t, 3, probe[:12]))
	require.NoError(t, err)
	assert.Nil(t, resp.Quoted)
}

func TestFragment(t *testing.T) {
	b, err := BuildTCP(TCPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 1, DstPort: 2, Flags: FlagSYN, Padding: 100})
	require.NoError(t, err)
	payload := b[IPv4HeaderLen:]
	require.Len(t, payload, 120)

	frags, err := Fragment(b, 50)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	var reassembled []byte
	wantOffsets := []int{0, 48, 96}
	for i, f := range frags {
		more, off, err := FragmentInfo(f)
		require.NoError(t, err)
		assert.Equal(t, wantOffsets[i], off)
		assert.Equal(t, i < len(frags)-1, more)
		assert.True(t, Valid(f[:IPv4HeaderLen]))
		assert.Equal(t, len(f), int(binary.BigEndian.Uint16(f[2:])))
		assert.Zero(t, (len(f)-IPv4HeaderLen)%8*boolInt(more))
		reassembled = append(reassembled, f[IPv4HeaderLen:]...)
	}
	assert.Equal(t, payload, reassembled)

	single, err := Fragment(b, 256)
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, b, single[0])

	_, err = Fragment(b, 4)
	assert.Error(t, err)
	_, err = Fragment(b[:8], 8)
	assert.ErrorIs(t, err, ErrMalformed)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestPool(t *testing.T) {
	p := NewPool(2, 64)
	a, b := p.Get(), p.Get()
	assert.NotEqual(t, a.Slot(), b.Slot())
	assert.Equal(t, 0, p.Available())

	spill := p.Get()
	assert.Equal(t, -1, spill.Slot())
	assert.Len(t, spill.Space(), 64)
	assert.Equal(t, int64(1), p.Spilled())

	copy(a.Space(), "abc")
	a.SetLen(3)
	assert.Equal(t, []byte("abc"), a.Bytes())
	a.SetLen(1000)
	assert.Equal(t, 64, a.Len())

	a.Release()
	a.Release()
	b.Release()
	spill.Release()
	assert.Equal(t, 2, p.Available())
}

func TestTCPFlagsString(t *testing.T) {
	assert.Equal(t, "SYN|ACK", (FlagSYN | FlagACK).String())
	assert.Equal(t, "FIN|PSH|URG", (FlagFIN | FlagPSH | FlagURG).String())
	assert.Equal(t, "none", TCPFlags(0).String())
}

func TestFlowOf(t *testing.T) {
	tcp, err := BuildTCP(TCPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 40000, DstPort: 22, Flags: FlagSYN})
	require.NoError(t, err)

	f, quoted, err := FlowOf(tcp)
	require.NoError(t, err)
	assert.False(t, quoted)
	assert.Equal(t, Flow{Src: testSrc, Dst: testDst, Proto: ProtoTCP, SrcPort: 40000, DstPort: 22}, f)

	udp, err := BuildUDP(UDPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 40001, DstPort: 53})
	require.NoError(t, err)
	f, quoted, err = FlowOf(buildICMPError(t, 3, udp[:IPv4HeaderLen+8]))
	require.NoError(t, err)
	assert.True(t, quoted)
	assert.Equal(t, Flow{Src: testSrc, Dst: testDst, Proto: ProtoUDP, SrcPort: 40001, DstPort: 53}, f)

	_, _, err = FlowOf(tcp[:IPv4HeaderLen+2])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestICMPFromMessage(t *testing.T) {
	udp, err := BuildUDP(UDPSpec{SrcIP: testSrc, DstIP: testDst, SrcPort: 40001, DstPort: 69})
	require.NoError(t, err)

	resp := ICMPFromMessage(testDst, testSrc, 3, 3, udp[:IPv4HeaderLen+8])
	assert.True(t, resp.IsPortUnreachable())
	require.NotNil(t, resp.Quoted)
	assert.Equal(t, uint16(69), resp.Quoted.DstPort)
}

func TestParseUDPTruncatedToBuffer(t *testing.T) {
	b, err := BuildUDP(UDPSpec{
		SrcIP: netip.MustParseAddr("10.0.0.2"), DstIP: netip.MustParseAddr("10.0.0.1"),
		SrcPort: 53, DstPort: 40000, Payload: make([]byte, 3000),
	})
	require.NoError(t, err)

	p := NewPool(1, 0)
	buf := p.Get()
	buf.SetLen(copy(buf.Space(), b))
	assert.Equal(t, DefaultBufferSize, buf.Len())

	r, err := ParseUDP(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint16(53), r.SrcPort)
	assert.Len(t, r.Payload, DefaultBufferSize-IPv4HeaderLen-8)
}
