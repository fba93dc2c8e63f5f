package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"strobe/packet"
	"strobe/transport"
)

// ErrorKind classifies scan errors by how the engine reacts to them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindPermission
	KindTimeout
	KindRateLimit
	KindInvalidTarget
	KindPortRange
	KindConfig
	KindParse
	KindRawSocket
)

var kindNames = map[ErrorKind]string{
	KindUnknown:       "UNKNOWN",
	KindNetwork:       "NETWORK",
	KindPermission:    "PERMISSION",
	KindTimeout:       "TIMEOUT",
	KindRateLimit:     "RATE_LIMITED",
	KindInvalidTarget: "TARGET_INVALID",
	KindPortRange:     "PORT_RANGE",
	KindConfig:        "CONFIGURATION",
	KindParse:         "PARSE",
	KindRawSocket:     "RAW_SOCKET",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// ScanError is an error raised while validating or running a scan.
type ScanError struct {
	Kind   ErrorKind
	Op     string
	Target string
	Err    error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Target != "" {
		msg += " (target: " + e.Target + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Err
}

// NewScanError creates a scan error of the given kind.
func NewScanError(kind ErrorKind, op, target string, err error) *ScanError {
	return &ScanError{Kind: kind, Op: op, Target: target, Err: err}
}

func configError(format string, args ...any) *ScanError {
	return NewScanError(KindConfig, "validate config", "", fmt.Errorf(format, args...))
}

// KindOf returns the kind of err. Errors that are not a *ScanError are
// classified from their cause.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *ScanError
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, transport.ErrPermission),
		errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.EACCES):
		return KindPermission
	case errors.Is(err, packet.ErrMalformed), errors.Is(err, packet.ErrWrongProtocol):
		return KindParse
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.Is(err, syscall.ENOBUFS), errors.Is(err, syscall.EAGAIN):
		return KindRateLimit
	case errors.Is(err, transport.ErrClosed):
		return KindRawSocket
	case errors.Is(err, transport.ErrDuplicateFlow):
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return KindNetwork
	}
	return KindUnknown
}

// IsRecoverable reports whether err may go away on retry or with another
// technique.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindRateLimit, KindPermission, KindRawSocket:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err must abort the scan before any probe.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindInvalidTarget, KindPortRange, KindConfig:
		return true
	default:
		return false
	}
}
