package packet

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TCPOption is a single TCP header option. Kind 0 (end of list) and 1 (NOP)
// carry no data.
type TCPOption struct {
	Kind uint8
	Data []byte
}

// MSSOption returns a maximum segment size option.
func MSSOption(mss uint16) TCPOption {
	return TCPOption{Kind: uint8(layers.TCPOptionKindMSS), Data: binary.BigEndian.AppendUint16(nil, mss)}
}

// TCPSpec describes a TCP segment wrapped in an IPv4 datagram.
type TCPSpec struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Flags   TCPFlags
	Seq     uint32
	Ack     uint32
	Window  uint16
	Options []TCPOption

	IPID uint16
	TTL  uint8
	// Padding appends that many zero bytes after the TCP header.
	Padding int
	// MTU truncates the finished datagram when positive.
	MTU int
	// BadChecksum writes a transport checksum that will not verify.
	BadChecksum bool
}

// UDPSpec describes a UDP datagram wrapped in IPv4.
type UDPSpec struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Payload []byte

	IPID        uint16
	TTL         uint8
	MTU         int
	BadChecksum bool
}

var serializeOpts = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// BuildTCP serializes spec into a complete IPv4 datagram.
func BuildTCP(spec TCPSpec) ([]byte, error) {
	ip, err := ipv4Layer(spec.SrcIP, spec.DstIP, layers.IPProtocolTCP, spec.IPID, spec.TTL)
	if err != nil {
		return nil, err
	}
	if spec.Padding < 0 {
		return nil, fmt.Errorf("negative padding %d", spec.Padding)
	}

	window := spec.Window
	if window == 0 {
		window = defaultWindow
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(spec.SrcPort),
		DstPort: layers.TCPPort(spec.DstPort),
		Seq:     spec.Seq,
		Ack:     spec.Ack,
		Window:  window,
		FIN:     spec.Flags.Has(FlagFIN),
		SYN:     spec.Flags.Has(FlagSYN),
		RST:     spec.Flags.Has(FlagRST),
		PSH:     spec.Flags.Has(FlagPSH),
		ACK:     spec.Flags.Has(FlagACK),
		URG:     spec.Flags.Has(FlagURG),
		ECE:     spec.Flags.Has(FlagECE),
		CWR:     spec.Flags.Has(FlagCWR),
	}
	for _, o := range spec.Options {
		opt := layers.TCPOption{OptionType: layers.TCPOptionKind(o.Kind)}
		if o.Kind > 1 {
			if len(o.Data) > 253 {
				return nil, fmt.Errorf("tcp option %d: %d bytes of data", o.Kind, len(o.Data))
			}
			opt.OptionData = o.Data
			// #nosec G115 - bounded above
			opt.OptionLength = uint8(2 + len(o.Data))
		}
		tcp.Options = append(tcp.Options, opt)
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, tcp, gopacket.Payload(make([]byte, spec.Padding))); err != nil {
		return nil, fmt.Errorf("serialize tcp: %w", err)
	}
	b := buf.Bytes()

	if spec.BadChecksum {
		off := IPv4HeaderLen + 16
		binary.BigEndian.PutUint16(b[off:], corrupt(binary.BigEndian.Uint16(b[off:])))
	}
	return truncate(b, spec.MTU)
}

// BuildUDP serializes spec into a complete IPv4 datagram.
func BuildUDP(spec UDPSpec) ([]byte, error) {
	ip, err := ipv4Layer(spec.SrcIP, spec.DstIP, layers.IPProtocolUDP, spec.IPID, spec.TTL)
	if err != nil {
		return nil, err
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(spec.SrcPort),
		DstPort: layers.UDPPort(spec.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, udp, gopacket.Payload(spec.Payload)); err != nil {
		return nil, fmt.Errorf("serialize udp: %w", err)
	}
	b := buf.Bytes()

	if spec.BadChecksum {
		off := IPv4HeaderLen + 6
		binary.BigEndian.PutUint16(b[off:], corrupt(binary.BigEndian.Uint16(b[off:])))
	}
	return truncate(b, spec.MTU)
}

func ipv4Layer(src, dst netip.Addr, proto layers.IPProtocol, id uint16, ttl uint8) (*layers.IPv4, error) {
	src, dst = src.Unmap(), dst.Unmap()
	if !src.Is4() || !dst.Is4() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNotIPv4, src, dst)
	}
	if ttl == 0 {
		ttl = defaultTTL
	}
	return &layers.IPv4{
		Version:  4,
		Id:       id,
		TTL:      ttl,
		Protocol: proto,
		SrcIP:    net.IP(src.AsSlice()),
		DstIP:    net.IP(dst.AsSlice()),
	}, nil
}

// truncate cuts b to mtu bytes and rewrites the IPv4 total length and
// header checksum to describe what is left.
func truncate(b []byte, mtu int) ([]byte, error) {
	if mtu <= 0 || len(b) <= mtu {
		return b, nil
	}
	ihl := int(b[0]&0x0f) * 4
	if mtu < ihl {
		return nil, fmt.Errorf("%w: %d < %d", ErrMTUTooSmall, mtu, ihl)
	}
	b = b[:mtu]
	// #nosec G115 - mtu < len(b) which already fit the 16-bit length field
	binary.BigEndian.PutUint16(b[2:], uint16(mtu))
	fixHeaderChecksum(b[:ihl])
	return b, nil
}

func fixHeaderChecksum(hdr []byte) {
	hdr[10], hdr[11] = 0, 0
	binary.BigEndian.PutUint16(hdr[10:], Checksum(hdr))
}
