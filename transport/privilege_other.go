//go:build !unix

package transport

// CanOpenRaw reports false on platforms without IP_HDRINCL raw sockets.
func CanOpenRaw() bool { return false }
