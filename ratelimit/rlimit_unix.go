//go:build unix

package ratelimit

import "golang.org/x/sys/unix"

// descriptorLimit returns the soft RLIMIT_NOFILE.
func descriptorLimit() (uint64, bool) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, false
	}
	// #nosec G115 - rlim_cur is int64 on some platforms but never negative
	return uint64(rl.Cur), true
}
