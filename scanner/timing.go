package scanner

import (
	"fmt"
	"strings"
	"time"
)

// Timing is a preset trading speed for stealth, from T0 (paranoid) to T5
// (insane).
type Timing uint8

const (
	Paranoid Timing = iota
	Sneaky
	Polite
	Normal
	Aggressive
	Insane
)

var timingNames = [...]string{"paranoid", "sneaky", "polite", "normal", "aggressive", "insane"}

func (t Timing) String() string {
	if int(t) < len(timingNames) {
		return timingNames[t]
	}
	return fmt.Sprintf("timing(%d)", uint8(t))
}

// TimingParams are the scan settings a Timing stands for.
type TimingParams struct {
	Timeout    time.Duration
	MinTimeout time.Duration
	MaxTimeout time.Duration
	MaxRetries int
	// ScanDelay is the upper bound of the random pause before each probe.
	ScanDelay time.Duration
	Threads   int
}

var timingParams = [...]TimingParams{
	Paranoid:   {Timeout: 5 * time.Second, MinTimeout: time.Second, MaxTimeout: 10 * time.Second, MaxRetries: 10, ScanDelay: time.Second, Threads: 1},
	Sneaky:     {Timeout: 2 * time.Second, MinTimeout: 500 * time.Millisecond, MaxTimeout: 5 * time.Second, MaxRetries: 5, ScanDelay: 500 * time.Millisecond, Threads: 10},
	Polite:     {Timeout: time.Second, MinTimeout: 200 * time.Millisecond, MaxTimeout: 3 * time.Second, MaxRetries: 3, ScanDelay: 100 * time.Millisecond, Threads: 50},
	Normal:     {Timeout: time.Second, MinTimeout: 100 * time.Millisecond, MaxTimeout: 2 * time.Second, MaxRetries: 3, ScanDelay: 10 * time.Millisecond, Threads: 100},
	Aggressive: {Timeout: 500 * time.Millisecond, MinTimeout: 50 * time.Millisecond, MaxTimeout: time.Second, MaxRetries: 2, ScanDelay: time.Millisecond, Threads: 500},
	Insane:     {Timeout: 250 * time.Millisecond, MinTimeout: 25 * time.Millisecond, MaxTimeout: 500 * time.Millisecond, MaxRetries: 1, ScanDelay: 100 * time.Microsecond, Threads: 1000},
}

// Params returns the settings of t. An unknown Timing yields Normal.
func (t Timing) Params() TimingParams {
	if int(t) < len(timingParams) {
		return timingParams[t]
	}
	return timingParams[Normal]
}

// Apply overwrites the timing related fields of c with those of t.
func (t Timing) Apply(c *ScanConfig) {
	p := t.Params()
	c.Timeout = p.Timeout
	c.MinTimeout = p.MinTimeout
	c.MaxTimeout = p.MaxTimeout
	c.MaxRetries = p.MaxRetries
	c.Threads = p.Threads
	c.Stealth.TimingJitter = p.ScanDelay
}

// ParseTiming accepts a profile name, its number or the T-prefixed number:
// "aggressive", "4" and "T4" are the same profile.
func ParseTiming(s string) (Timing, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n := strings.TrimPrefix(v, "t"); len(n) == 1 && n[0] >= '0' && int(n[0]-'0') < len(timingNames) {
		return Timing(n[0] - '0'), nil
	}
	for i, name := range timingNames {
		if v == name {
			return Timing(i), nil
		}
	}
	return 0, fmt.Errorf("unknown timing profile %q", s)
}
