// Package packet builds and parses the IPv4, TCP, UDP and ICMPv4 datagrams
// exchanged by raw-socket probes.
package packet

import (
	"errors"
	"fmt"
	"strings"
)

// Proto is an IP protocol number.
type Proto uint8

const (
	ProtoICMP Proto = 1
	ProtoTCP  Proto = 6
	ProtoUDP  Proto = 17
)

func (p Proto) String() string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

const (
	// IPv4HeaderLen is the length of an IPv4 header without options.
	IPv4HeaderLen = 20
	// TCPHeaderLen is the length of a TCP header without options.
	TCPHeaderLen = 20
	// UDPHeaderLen is the length of a UDP header.
	UDPHeaderLen = 8

	defaultTTL    = 64
	defaultWindow = 65535
)

var (
	// ErrMalformed is returned for truncated or structurally invalid datagrams.
	ErrMalformed = errors.New("malformed datagram")
	// ErrWrongProtocol is returned when a datagram parses but carries a
	// different transport than requested.
	ErrWrongProtocol = errors.New("unexpected protocol")
	// ErrNotIPv4 is returned when an address or datagram is not IPv4.
	ErrNotIPv4 = errors.New("not IPv4")
	// ErrMTUTooSmall is returned when an MTU cannot hold the IPv4 header.
	ErrMTUTooSmall = errors.New("mtu smaller than ipv4 header")
)

// TCPFlags is the TCP control-bit octet.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Has reports whether every bit in mask is set.
func (f TCPFlags) Has(mask TCPFlags) bool {
	return f&mask == mask
}

func (f TCPFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []string{"FIN", "SYN", "RST", "PSH", "ACK", "URG", "ECE", "CWR"}
	var parts []string
	for i, name := range names {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
