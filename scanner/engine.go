package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"strobe/metrics"
	"strobe/ratelimit"
	"strobe/resilience"
	"strobe/transport"
)

// Engine runs scans. One Engine may run several scans concurrently; each
// scan gets its own limiter, batcher and breaker.
type Engine struct {
	log        *slog.Logger
	metrics    *metrics.Collector
	probes     *ProbeTable
	breakerCfg resilience.BreakerConfig
	retry      *resilience.RetryPolicy

	raw     transport.Transport
	openRaw func(threads int) (transport.Transport, error)
	os      transport.Transport
	canRaw  func() bool
	source  func(netip.Addr) (netip.Addr, error)
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProbes replaces the built-in UDP probe table.
func WithProbes(t *ProbeTable) Option {
	return func(e *Engine) { e.probes = t }
}

func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(e *Engine) { e.breakerCfg = cfg }
}

// WithRetryPolicy overrides the backoff between retries. The retry count
// still comes from ScanConfig.MaxRetries.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(e *Engine) { e.retry = &p }
}

// WithRawTransport makes every scan use t for crafted probes instead of
// opening its own raw sockets. The engine does not close t.
func WithRawTransport(t transport.Transport) Option {
	return func(e *Engine) {
		e.raw = t
		e.canRaw = func() bool { return true }
	}
}

// WithOSTransport replaces the kernel socket transport used for connect and
// unprivileged UDP probes. The engine does not close t.
func WithOSTransport(t transport.Transport) Option {
	return func(e *Engine) { e.os = t }
}

// WithSourceResolver overrides how the local address toward a target is
// found.
func WithSourceResolver(fn func(netip.Addr) (netip.Addr, error)) Option {
	return func(e *Engine) { e.source = fn }
}

func NewEngine(opts ...Option) *Engine {
	var sources transport.SourceResolver
	e := &Engine{
		log:        slog.New(slog.DiscardHandler),
		probes:     DefaultProbeTable(),
		breakerCfg: resilience.DefaultBreakerConfig(),
		canRaw:     transport.CanOpenRaw,
		source:     sources.Source,
	}
	for _, o := range opts {
		o(e)
	}
	if e.openRaw == nil {
		log := e.log
		e.openRaw = func(threads int) (transport.Transport, error) {
			t, err := transport.NewRawTransport(transport.RawOptions{
				Buffers: transport.BuffersFor(threads),
				Logger:  log,
			})
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	e.log = e.log.With("component", "engine")
	return e
}

// Scan validates cfg, probes every target/port pair and returns the
// finalized result. Configuration and privilege problems fail before any
// probe is sent. Once probing has started a result is always returned; if
// ctx ends early it holds the ports finished so far alongside ctx's error.
func (e *Engine) Scan(ctx context.Context, cfg ScanConfig) (*ScanResult, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := e.prepare(cfg)
	if err != nil {
		return nil, err
	}
	defer s.close()

	done := e.metrics.ScanStarted(cfg.Technique.String())
	e.log.Info("Scan started",
		"target", cfg.Target,
		"targets", len(cfg.Targets),
		"ports", len(cfg.Ports),
		"technique", cfg.Technique,
		"sequence", s.seq,
		"batch_size", s.batcher.Size())

	res, err := s.run(ctx)
	done(err)

	e.log.Info("Scan finished",
		"target", cfg.Target,
		"open", len(res.OpenPorts),
		"closed", len(res.ClosedPorts),
		"filtered", len(res.FilteredPorts),
		"duration", res.Duration,
		"error", err)
	return res, err
}

// prepare resolves the technique sequence against the available privileges
// and builds the per-scan state.
func (e *Engine) prepare(cfg ScanConfig) (*scan, error) {
	seq := []Technique{cfg.Technique}
	if cfg.Fallback {
		seq = DefaultFallbackChain.Sequence(cfg.Technique)
	}

	s := &scan{
		e:       e,
		cfg:     cfg,
		os:      e.os,
		bucket:  ratelimit.NewTokenBucket(cfg.RateLimit),
		timeout: ratelimit.NewAdaptiveTimeout(cfg.Timeout, cfg.MinTimeout, cfg.MaxTimeout),
		breaker: resilience.NewCircuitBreaker(e.breakerCfg, e.log),
		retry:   resilience.DefaultRetryPolicy(),
		rttMin:  -1,
	}
	if e.retry != nil {
		s.retry = *e.retry
	}
	s.retry.MaxRetries = cfg.MaxRetries
	s.nextPort.Store(rand.Uint32N(ephemeralSpan))

	if cfg.BatchSize > 0 {
		s.batcher = ratelimit.FixedBatchSize(cfg.BatchSize)
	} else {
		s.batcher = ratelimit.NewAdaptiveBatchSize(
			ratelimit.InitialBatchSize(ratelimit.DefaultMinBatch, ratelimit.DefaultMaxBatch),
			ratelimit.DefaultMinBatch, ratelimit.DefaultMaxBatch)
	}
	s.breaker.OnStateChange(func(_, to resilience.State) {
		e.metrics.BreakerState(int(to))
	})

	var rawErr error
	if needsRaw(seq) {
		s.raw, rawErr = e.rawTransport(cfg.Threads)
		if rawErr == nil {
			s.ownsRaw = e.raw == nil
		} else {
			e.log.Warn("Raw sockets unavailable, crafted techniques disabled", "error", rawErr)
		}
	}
	if s.raw == nil {
		seq = withoutRaw(seq)
		if len(seq) == 0 {
			kind := KindRawSocket
			if rawErr == nil {
				rawErr = transport.ErrPermission
			}
			if errors.Is(rawErr, transport.ErrPermission) {
				kind = KindPermission
			}
			return nil, NewScanError(kind, "preflight", cfg.Target,
				fmt.Errorf("%s needs raw sockets: %w", cfg.Technique, rawErr))
		}
	}
	if s.os == nil && needsOS(seq) {
		s.os = transport.NewOSTransport(e.log)
		s.ownsOS = true
	}
	s.seq = seq
	return s, nil
}

func (e *Engine) rawTransport(threads int) (transport.Transport, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	if !e.canRaw() {
		return nil, transport.ErrPermission
	}
	return e.openRaw(threads)
}

func needsRaw(seq []Technique) bool {
	for _, t := range seq {
		// UDP prefers crafted datagrams but can run without them.
		if t.RequiresRaw() || t == Udp {
			return true
		}
	}
	return false
}

func needsOS(seq []Technique) bool {
	for _, t := range seq {
		if !t.RequiresRaw() {
			return true
		}
	}
	return false
}

func withoutRaw(seq []Technique) []Technique {
	out := make([]Technique, 0, len(seq))
	for _, t := range seq {
		if !t.RequiresRaw() {
			out = append(out, t)
		}
	}
	return out
}

// scan is the state of one running scan.
type scan struct {
	e   *Engine
	cfg ScanConfig
	seq []Technique

	raw, os         transport.Transport
	ownsRaw, ownsOS bool

	bucket  *ratelimit.TokenBucket
	batcher *ratelimit.AdaptiveBatchSize
	timeout *ratelimit.AdaptiveTimeout
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy

	nextPort atomic.Uint32

	sent, received, timeouts, errs, retries, fallbacks atomic.Uint64

	rttMu    sync.Mutex
	rttSum   time.Duration
	rttCount int64
	rttMin   time.Duration
	rttMax   time.Duration
}

func (s *scan) close() {
	if s.ownsRaw && s.raw != nil {
		if err := s.raw.Close(); err != nil {
			s.e.log.Warn("Closing raw transport failed", "error", err)
		}
	}
	if s.ownsOS && s.os != nil {
		_ = s.os.Close()
	}
}

func (s *scan) observeRTT(d time.Duration) {
	s.e.metrics.RTT(d)
	s.rttMu.Lock()
	defer s.rttMu.Unlock()
	s.rttSum += d
	s.rttCount++
	if s.rttMin < 0 || d < s.rttMin {
		s.rttMin = d
	}
	s.rttMax = max(s.rttMax, d)
}

// finalize sorts the result and fills the derived statistics.
func (s *scan) finalize(res *ScanResult, elapsed time.Duration) {
	res.sort()
	res.Duration = elapsed

	st := ScanStats{
		PacketsSent:     s.sent.Load(),
		PacketsReceived: s.received.Load(),
		Timeouts:        s.timeouts.Load(),
		Errors:          s.errs.Load(),
		Retries:         s.retries.Load(),
		Fallbacks:       s.fallbacks.Load(),
	}

	s.rttMu.Lock()
	if s.rttCount > 0 {
		st.AvgResponseTime = s.rttSum / time.Duration(s.rttCount)
		st.MinResponseTime = s.rttMin
		st.MaxResponseTime = s.rttMax
	}
	s.rttMu.Unlock()

	if answered := st.PacketsReceived + st.Timeouts; answered > 0 {
		st.PacketLoss = float64(st.Timeouts) / float64(answered) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 {
		st.ActualRate = float64(st.PacketsSent) / secs
	}
	res.Stats = st
}
