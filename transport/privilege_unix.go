//go:build unix

package transport

import (
	"golang.org/x/sys/unix"
)

// CanOpenRaw reports whether the process may open raw IPv4 sockets. It
// probes by opening and closing one rather than trusting the effective uid,
// so CAP_NET_RAW grants are honoured.
func CanOpenRaw() bool {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
	if err != nil {
		return false
	}
	_ = unix.Close(fd)
	return true
}
