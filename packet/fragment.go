package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	ipFlagMF       = 0x2000
	ipFlagDF       = 0x4000
	ipOffsetMask   = 0x1fff
	minFragPayload = 8
)

// Fragment splits an IPv4 datagram into fragments carrying at most size
// payload bytes each. size is rounded down to a multiple of eight. A
// datagram that already fits is returned as a single copy.
func Fragment(datagram []byte, size int) ([][]byte, error) {
	if len(datagram) < IPv4HeaderLen || datagram[0]>>4 != 4 {
		return nil, fmt.Errorf("%w: not an ipv4 datagram", ErrMalformed)
	}
	ihl := int(datagram[0]&0x0f) * 4
	total := int(binary.BigEndian.Uint16(datagram[2:]))
	if ihl < IPv4HeaderLen || total < ihl || total > len(datagram) {
		return nil, fmt.Errorf("%w: header length %d, total length %d, have %d", ErrMalformed, ihl, total, len(datagram))
	}
	if size < minFragPayload {
		return nil, fmt.Errorf("fragment size %d below %d", size, minFragPayload)
	}
	size &^= 7

	header, payload := datagram[:ihl], datagram[ihl:total]
	if len(payload) <= size {
		return [][]byte{append([]byte(nil), datagram[:total]...)}, nil
	}

	frags := make([][]byte, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))

		frag := make([]byte, ihl+end-off)
		copy(frag, header)
		copy(frag[ihl:], payload[off:end])

		flags := uint16(0)
		if end < len(payload) {
			flags = ipFlagMF
		}
		// #nosec G115 - offsets of a 16-bit datagram fit in 13 bits of 8-byte units
		binary.BigEndian.PutUint16(frag[6:], flags|uint16(off/8)&ipOffsetMask)
		// #nosec G115 - fragment no longer than the original
		binary.BigEndian.PutUint16(frag[2:], uint16(len(frag)))
		fixHeaderChecksum(frag[:ihl])

		frags = append(frags, frag)
	}
	return frags, nil
}

// FragmentInfo returns the more-fragments flag and byte offset of an IPv4
// datagram.
func FragmentInfo(b []byte) (more bool, offset int, err error) {
	if len(b) < IPv4HeaderLen {
		return false, 0, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	v := binary.BigEndian.Uint16(b[6:])
	return v&ipFlagMF != 0, int(v&ipOffsetMask) * 8, nil
}

// DontFragment reports whether the DF bit is set.
func DontFragment(b []byte) bool {
	return len(b) >= IPv4HeaderLen && binary.BigEndian.Uint16(b[6:])&ipFlagDF != 0
}
