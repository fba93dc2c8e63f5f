package scanner

import (
	"fmt"
	"net/netip"
	"time"
)

const (
	DefaultThreads      = 1000
	DefaultTimeout      = time.Second
	DefaultMaxRetries   = 5
	DefaultFragmentSize = 8
	DefaultConfirmDelay = 50 * time.Millisecond

	maxThreads = 65535
)

// StealthOptions alter how crafted probes look on the wire. They only apply
// to techniques that craft packets.
type StealthOptions struct {
	FragmentPackets     bool          `json:"fragment_packets,omitempty"`
	FragmentSize        int           `json:"fragment_size,omitempty"`
	Decoys              []netip.Addr  `json:"decoys,omitempty"`
	SpoofSource         netip.Addr    `json:"spoof_source,omitzero"`
	Padding             int           `json:"padding,omitempty"`
	MTU                 int           `json:"mtu,omitempty"`
	TimingJitter        time.Duration `json:"timing_jitter,omitempty"`
	RandomizeSourcePort bool          `json:"randomize_source_port,omitempty"`
	BadChecksum         bool          `json:"bad_checksum,omitempty"`
}

// ScanConfig describes one scan. It is built by the caller, validated once by
// the engine and echoed back in the result.
type ScanConfig struct {
	// Targets are the resolved addresses to probe.
	Targets []netip.Addr `json:"targets"`
	// Target is the caller's original target expression, for reporting.
	Target    string        `json:"target,omitempty"`
	Ports     []uint16      `json:"ports"`
	Technique Technique     `json:"technique"`
	Threads   int           `json:"threads"`
	Timeout   time.Duration `json:"timeout"`
	// MinTimeout and MaxTimeout bound the adaptive per-probe timeout. Zero
	// derives them from Timeout.
	MinTimeout time.Duration `json:"min_timeout,omitempty"`
	MaxTimeout time.Duration `json:"max_timeout,omitempty"`
	// RateLimit is packets per second. Zero disables limiting.
	RateLimit uint64         `json:"rate_limit"`
	Stealth   StealthOptions `json:"stealth"`
	// BatchSize fixes the batch size. Zero adapts it during the scan.
	BatchSize           int           `json:"batch_size,omitempty"`
	ConfirmOpenAttempts int           `json:"confirm_open_attempts,omitempty"`
	ConfirmDelay        time.Duration `json:"confirm_delay,omitempty"`
	MaxRetries          int           `json:"max_retries"`
	// Fallback enables the technique fallback chain when the primary
	// technique cannot run or keeps failing.
	Fallback bool `json:"fallback"`

	Progress func(Progress) `json:"-"`
}

// DefaultConfig returns a config with the engine defaults and no targets.
func DefaultConfig() ScanConfig {
	return ScanConfig{
		Technique:  Syn,
		Threads:    DefaultThreads,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		Fallback:   true,
	}
}

// withDefaults fills zero values that have a sensible default.
func (c ScanConfig) withDefaults() ScanConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinTimeout == 0 {
		c.MinTimeout = max(c.Timeout/4, 10*time.Millisecond)
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = c.Timeout * 4
	}
	// An explicit Timeout outside a profile's bounds widens them.
	c.MinTimeout = min(c.MinTimeout, c.Timeout)
	c.MaxTimeout = max(c.MaxTimeout, c.Timeout)
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Stealth.FragmentPackets && c.Stealth.FragmentSize == 0 {
		c.Stealth.FragmentSize = DefaultFragmentSize
	}
	if c.ConfirmOpenAttempts > 1 && c.ConfirmDelay == 0 {
		c.ConfirmDelay = DefaultConfirmDelay
	}
	if c.Target == "" && len(c.Targets) > 0 {
		c.Target = c.Targets[0].String()
		if len(c.Targets) > 1 {
			c.Target = fmt.Sprintf("%s (+%d more)", c.Target, len(c.Targets)-1)
		}
	}
	return c
}

// Validate checks everything that can be checked without touching the
// network. Privilege checks happen in the engine.
func (c ScanConfig) Validate() error {
	if len(c.Targets) == 0 {
		return NewScanError(KindInvalidTarget, "validate config", c.Target, fmt.Errorf("no targets"))
	}
	for _, t := range c.Targets {
		if !t.IsValid() {
			return NewScanError(KindInvalidTarget, "validate config", c.Target, fmt.Errorf("invalid address in targets"))
		}
		if t.IsUnspecified() {
			return NewScanError(KindInvalidTarget, "validate config", t.String(), fmt.Errorf("unspecified address"))
		}
	}
	if len(c.Ports) == 0 {
		return NewScanError(KindPortRange, "validate config", c.Target, fmt.Errorf("no ports"))
	}
	for _, p := range c.Ports {
		if p == 0 {
			return NewScanError(KindPortRange, "validate config", c.Target, fmt.Errorf("port 0 is not scannable"))
		}
	}
	if !c.Technique.Valid() {
		return configError("unknown technique %d", uint8(c.Technique))
	}
	if c.Threads <= 0 || c.Threads > maxThreads {
		return configError("threads must be in 1..%d, got %d", maxThreads, c.Threads)
	}
	if c.Timeout < 0 || c.MinTimeout < 0 || c.MaxTimeout < 0 {
		return configError("negative timeout %s", c.Timeout)
	}
	if c.MaxTimeout != 0 && c.MinTimeout > c.MaxTimeout {
		return configError("min timeout %s exceeds max timeout %s", c.MinTimeout, c.MaxTimeout)
	}
	if c.BatchSize < 0 {
		return configError("negative batch size %d", c.BatchSize)
	}
	if c.ConfirmOpenAttempts < 0 || c.ConfirmDelay < 0 {
		return configError("confirmation attempts and delay must not be negative")
	}

	s := c.Stealth
	if s.FragmentPackets && (s.FragmentSize < 8 || s.FragmentSize%8 != 0) {
		return configError("fragment size must be a positive multiple of 8, got %d", s.FragmentSize)
	}
	if s.Padding < 0 || s.Padding > 1400 {
		return configError("padding must be in 0..1400, got %d", s.Padding)
	}
	if s.MTU != 0 && s.MTU < 28 {
		return configError("mtu must be 0 or at least 28, got %d", s.MTU)
	}
	if s.TimingJitter < 0 {
		return configError("negative timing jitter %s", s.TimingJitter)
	}
	if s.SpoofSource.IsValid() && !s.SpoofSource.Unmap().Is4() {
		return configError("spoofed source must be IPv4")
	}
	for _, d := range s.Decoys {
		if !d.Unmap().Is4() {
			return configError("decoy %s is not IPv4", d)
		}
	}
	return nil
}
