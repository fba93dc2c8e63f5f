package packet

import "net/netip"

// Sum16 returns the carry-folded sum of b read as big-endian 16-bit words.
// An odd trailing byte is padded with zero on the right, as RFC 1071 requires.
func Sum16(b []byte) uint32 {
	var sum uint64
	i := 0
	n := len(b)

	for n >= 8 {
		sum += uint64(b[i])<<8 | uint64(b[i+1])
		sum += uint64(b[i+2])<<8 | uint64(b[i+3])
		sum += uint64(b[i+4])<<8 | uint64(b[i+5])
		sum += uint64(b[i+6])<<8 | uint64(b[i+7])
		i += 8
		n -= 8
	}
	for n >= 2 {
		sum += uint64(b[i])<<8 | uint64(b[i+1])
		i += 2
		n -= 2
	}
	if n == 1 {
		sum += uint64(b[i]) << 8
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint32(sum)
}

// Fold folds a partial sum to 16 bits and returns its one's complement.
func Fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	// #nosec G115 - sum fits in 16 bits after folding
	return ^uint16(sum)
}

// Checksum computes the Internet checksum over b.
func Checksum(b []byte) uint16 {
	return Fold(Sum16(b))
}

// Valid reports whether b, which already carries its checksum field,
// sums to the one's complement identity.
func Valid(b []byte) bool {
	return Checksum(b) == 0
}

// PseudoHeaderSum returns the partial sum of the IPv4 pseudo-header used by
// TCP and UDP checksums. Non-IPv4 addresses contribute nothing.
func PseudoHeaderSum(src, dst netip.Addr, proto Proto, length int) uint32 {
	var sum uint32
	if src.Is4() {
		s := src.As4()
		sum += uint32(s[0])<<8 | uint32(s[1])
		sum += uint32(s[2])<<8 | uint32(s[3])
	}
	if dst.Is4() {
		d := dst.As4()
		sum += uint32(d[0])<<8 | uint32(d[1])
		sum += uint32(d[2])<<8 | uint32(d[3])
	}
	sum += uint32(proto)
	// #nosec G115 - IPv4 segment lengths fit in 16 bits
	sum += uint32(uint16(length))
	return sum
}

// TransportChecksum computes the TCP or UDP checksum of segment (header with
// a zeroed checksum field plus payload) under the IPv4 pseudo-header.
func TransportChecksum(src, dst netip.Addr, proto Proto, segment []byte) uint16 {
	return Fold(PseudoHeaderSum(src, dst, proto, len(segment)) + Sum16(segment))
}

// corrupt returns a checksum value that no receiver will accept in place of
// good. The mask never maps a value onto its one's complement twin
// (0x0000 and 0xffff), and zero is avoided because UDP reads it as
// "no checksum".
func corrupt(good uint16) uint16 {
	bad := good ^ 0x5a5a
	if bad == 0 {
		bad = 0xa5a5
	}
	return bad
}

// SegmentValid reports whether a TCP or UDP segment, checksum field
// included, verifies under the IPv4 pseudo-header.
func SegmentValid(src, dst netip.Addr, proto Proto, segment []byte) bool {
	return Fold(PseudoHeaderSum(src, dst, proto, len(segment))+Sum16(segment)) == 0
}
