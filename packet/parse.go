package packet

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TCPResponse is the part of an inbound TCP segment a classifier needs.
type TCPResponse struct {
	Src           netip.Addr
	Dst           netip.Addr
	SrcPort       uint16
	DstPort       uint16
	Flags         TCPFlags
	Seq           uint32
	Ack           uint32
	Window        uint16
	TTL           uint8
	ChecksumValid bool
}

func (r *TCPResponse) IsSynAck() bool { return r.Flags.Has(FlagSYN | FlagACK) }
func (r *TCPResponse) IsRST() bool    { return r.Flags.Has(FlagRST) }
func (r *TCPResponse) IsACK() bool    { return r.Flags.Has(FlagACK) }

// UDPResponse is an inbound UDP datagram.
type UDPResponse struct {
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Quoted is the header of the original datagram carried inside an ICMP
// error. Only the first eight transport bytes are guaranteed to be present.
type Quoted struct {
	Src     netip.Addr
	Dst     netip.Addr
	Proto   Proto
	SrcPort uint16
	DstPort uint16
}

// ICMPResponse is an inbound ICMPv4 message.
type ICMPResponse struct {
	Src    netip.Addr
	Dst    netip.Addr
	Type   uint8
	Code   uint8
	Quoted *Quoted
}

const (
	icmpDestUnreachable = 3

	codePortUnreachable = 3
	codeNetProhibited   = 9
	codeHostProhibited  = 10
	codeCommProhibited  = 13
)

// IsUnreachable reports any destination-unreachable message.
func (r *ICMPResponse) IsUnreachable() bool {
	return r.Type == icmpDestUnreachable
}

func (r *ICMPResponse) IsPortUnreachable() bool {
	return r.Type == icmpDestUnreachable && r.Code == codePortUnreachable
}

// IsAdminProhibited reports the unreachable codes firewalls emit.
func (r *ICMPResponse) IsAdminProhibited() bool {
	if r.Type != icmpDestUnreachable {
		return false
	}
	switch r.Code {
	case codeNetProhibited, codeHostProhibited, codeCommProhibited:
		return true
	default:
		return false
	}
}

// decoded holds the layers of one datagram. A fresh value is used per call so
// the parse functions stay safe for concurrent use.
type decoded struct {
	ip      layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	icmp    layers.ICMPv4
	payload gopacket.Payload
	types   []gopacket.LayerType
}

func decode(b []byte) (d *decoded, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("%w: decoder panic: %v", ErrMalformed, r)
		}
	}()

	if len(b) < IPv4HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if b[0]>>4 != 4 {
		return nil, fmt.Errorf("%w: version %d", ErrNotIPv4, b[0]>>4)
	}

	d = &decoded{}
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, &d.ip, &d.tcp, &d.udp, &d.icmp, &d.payload)
	parser.IgnoreUnsupported = true
	if err := parser.DecodeLayers(b, &d.types); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, nil
}

func (d *decoded) has(t gopacket.LayerType) bool {
	for _, lt := range d.types {
		if lt == t {
			return true
		}
	}
	return false
}

func (d *decoded) wrongProto(want layers.IPProtocol) error {
	if d.ip.Protocol != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongProtocol, d.ip.Protocol, want)
	}
	return fmt.Errorf("%w: %s layer missing", ErrMalformed, want)
}

// ParseTCP decodes an IPv4 datagram carrying TCP.
func ParseTCP(b []byte) (*TCPResponse, error) {
	d, err := decode(b)
	if err != nil {
		return nil, err
	}
	if !d.has(layers.LayerTypeTCP) {
		return nil, d.wrongProto(layers.IPProtocolTCP)
	}

	src, dst := addr(d.ip.SrcIP), addr(d.ip.DstIP)
	resp := &TCPResponse{
		Src:     src,
		Dst:     dst,
		SrcPort: uint16(d.tcp.SrcPort),
		DstPort: uint16(d.tcp.DstPort),
		Seq:     d.tcp.Seq,
		Ack:     d.tcp.Ack,
		Window:  d.tcp.Window,
		TTL:     d.ip.TTL,
		Flags:   flagsOf(&d.tcp),
	}

	segment := d.ip.Payload
	if len(segment) >= TCPHeaderLen {
		resp.ChecksumValid = SegmentValid(src, dst, ProtoTCP, segment)
	}
	return resp, nil
}

// ParseUDP decodes an IPv4 datagram carrying UDP.
func ParseUDP(b []byte) (*UDPResponse, error) {
	d, err := decode(b)
	if err != nil {
		return nil, err
	}
	if !d.has(layers.LayerTypeUDP) {
		return nil, d.wrongProto(layers.IPProtocolUDP)
	}
	return &UDPResponse{
		Src:     addr(d.ip.SrcIP),
		Dst:     addr(d.ip.DstIP),
		SrcPort: uint16(d.udp.SrcPort),
		DstPort: uint16(d.udp.DstPort),
		Payload: append([]byte(nil), d.udp.Payload...),
	}, nil
}

// ParseICMP decodes an IPv4 datagram carrying ICMPv4. For error messages
// the quoted datagram is parsed when enough of it is present.
func ParseICMP(b []byte) (*ICMPResponse, error) {
	d, err := decode(b)
	if err != nil {
		return nil, err
	}
	if !d.has(layers.LayerTypeICMPv4) {
		return nil, d.wrongProto(layers.IPProtocolICMPv4)
	}
	resp := &ICMPResponse{
		Src:  addr(d.ip.SrcIP),
		Dst:  addr(d.ip.DstIP),
		Type: d.icmp.TypeCode.Type(),
		Code: d.icmp.TypeCode.Code(),
	}
	if q, ok := parseQuoted(d.icmp.Payload); ok {
		resp.Quoted = q
	}
	return resp, nil
}

// parseQuoted reads the IPv4 header and leading ports of the datagram an
// ICMP error refers to.
func parseQuoted(b []byte) (*Quoted, bool) {
	if len(b) < IPv4HeaderLen || b[0]>>4 != 4 {
		return nil, false
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < IPv4HeaderLen || len(b) < ihl+4 {
		return nil, false
	}
	return &Quoted{
		Src:     netip.AddrFrom4([4]byte(b[12:16])),
		Dst:     netip.AddrFrom4([4]byte(b[16:20])),
		Proto:   Proto(b[9]),
		SrcPort: binary.BigEndian.Uint16(b[ihl:]),
		DstPort: binary.BigEndian.Uint16(b[ihl+2:]),
	}, true
}

// Protocol returns the IP protocol number of an IPv4 datagram without
// decoding it further.
func Protocol(b []byte) (Proto, error) {
	if len(b) < IPv4HeaderLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if b[0]>>4 != 4 {
		return 0, fmt.Errorf("%w: version %d", ErrNotIPv4, b[0]>>4)
	}
	return Proto(b[9]), nil
}

func flagsOf(t *layers.TCP) TCPFlags {
	var f TCPFlags
	set := func(on bool, bit TCPFlags) {
		if on {
			f |= bit
		}
	}
	set(t.FIN, FlagFIN)
	set(t.SYN, FlagSYN)
	set(t.RST, FlagRST)
	set(t.PSH, FlagPSH)
	set(t.ACK, FlagACK)
	set(t.URG, FlagURG)
	set(t.ECE, FlagECE)
	set(t.CWR, FlagCWR)
	return f
}

func addr(ip net.IP) netip.Addr {
	a, _ := netip.AddrFromSlice(ip)
	return a.Unmap()
}

// Flow is the address and port four-tuple of a datagram.
type Flow struct {
	Src     netip.Addr
	Dst     netip.Addr
	Proto   Proto
	SrcPort uint16
	DstPort uint16
}

// FlowOf reads the flow of a TCP or UDP datagram, or of the datagram an ICMP
// error quotes, without a full decode. For ICMP errors the returned flow is
// the quoted (outbound) one and quoted is true.
func FlowOf(b []byte) (f Flow, quoted bool, err error) {
	if len(b) < IPv4HeaderLen {
		return Flow{}, false, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if b[0]>>4 != 4 {
		return Flow{}, false, fmt.Errorf("%w: version %d", ErrNotIPv4, b[0]>>4)
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < IPv4HeaderLen || len(b) < ihl+4 {
		return Flow{}, false, fmt.Errorf("%w: header length %d of %d bytes", ErrMalformed, ihl, len(b))
	}

	proto := Proto(b[9])
	switch proto {
	case ProtoTCP, ProtoUDP:
		return Flow{
			Src:     netip.AddrFrom4([4]byte(b[12:16])),
			Dst:     netip.AddrFrom4([4]byte(b[16:20])),
			Proto:   proto,
			SrcPort: binary.BigEndian.Uint16(b[ihl:]),
			DstPort: binary.BigEndian.Uint16(b[ihl+2:]),
		}, false, nil
	case ProtoICMP:
		if len(b) < ihl+8 {
			return Flow{}, false, fmt.Errorf("%w: short icmp header", ErrMalformed)
		}
		q, ok := parseQuoted(b[ihl+8:])
		if !ok {
			return Flow{}, false, fmt.Errorf("%w: no quoted datagram", ErrMalformed)
		}
		return Flow{Src: q.Src, Dst: q.Dst, Proto: q.Proto, SrcPort: q.SrcPort, DstPort: q.DstPort}, true, nil
	}
	return Flow{}, false, fmt.Errorf("%w: %s", ErrWrongProtocol, proto)
}

// ICMPFromMessage builds an ICMPResponse from an ICMP message received
// without its IPv4 header. body is the message body after the 8-byte ICMP
// header, which for errors is the quoted datagram.
func ICMPFromMessage(src, dst netip.Addr, typ, code uint8, body []byte) *ICMPResponse {
	resp := &ICMPResponse{Src: src.Unmap(), Dst: dst.Unmap(), Type: typ, Code: code}
	if q, ok := parseQuoted(body); ok {
		resp.Quoted = q
	}
	return resp
}
