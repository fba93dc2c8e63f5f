package scanner

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"time"

	"strobe/resilience"
	"strobe/transport"
)

const (
	ephemeralBase = 32768
	ephemeralSpan = 61000 - ephemeralBase
	lowestRandom  = 1024
)

// observed is what one probe attempt saw.
type observed struct {
	obs     Observation
	rtt     time.Duration
	payload []byte
}

// execute produces the terminal result for job. It walks the technique
// sequence: each technique gets the full retry budget, and the next one is
// tried only when the previous could not run or exhausted its retries. A
// job that no technique could answer is reported Filtered and counted as an
// error. ok is false only when ctx ended before a verdict.
func (s *scan) execute(ctx context.Context, job ScanJob) (pr PortResult, ok bool) {
	var lastErr error
	tried := job.Technique

	for i, tech := range s.seq {
		if i > 0 {
			s.fallbacks.Add(1)
			s.e.metrics.Fallback(tried.String(), tech.String())
			s.e.log.Debug("Falling back", "target", job.Target, "port", job.Port,
				"from", tried, "to", tech, "error", lastErr)
		}
		tried = tech
		j := ScanJob{Target: job.Target, Port: job.Port, Technique: tech}

		if !s.canRun(j) {
			lastErr = NewScanError(KindRawSocket, "probe", job.Target.String(),
				transport.ErrPermission)
			continue
		}

		o, err := resilience.Do(ctx, s.retry, IsRecoverable,
			func(attempt int) (observed, error) {
				if attempt > 0 {
					s.retries.Add(1)
					s.e.metrics.Retry(tech.String())
				}
				return s.attempt(ctx, j)
			},
			func(err error, wait time.Duration) {
				s.e.log.Debug("Retrying probe", "target", job.Target, "port", job.Port,
					"technique", tech, "wait", wait, "error", err)
			})
		if err == nil {
			return s.result(j, o), true
		}
		if ctx.Err() != nil {
			return PortResult{}, false
		}
		lastErr = err
	}

	s.errs.Add(1)
	s.e.metrics.Error(KindOf(lastErr).String())
	s.e.log.Debug("Probe exhausted", "target", job.Target, "port", job.Port,
		"technique", tried, "error", lastErr)
	return PortResult{
		Address:   job.Target,
		Port:      job.Port,
		Protocol:  tried.Protocol(),
		State:     Filtered,
		Technique: tried,
	}, true
}

// canRun reports whether the scan holds a transport able to run job.
// Crafted techniques only speak IPv4.
func (s *scan) canRun(job ScanJob) bool {
	switch {
	case job.Technique.RequiresRaw():
		return s.raw != nil && job.Target.Unmap().Is4()
	case job.Technique == Udp:
		return s.os != nil || (s.raw != nil && job.Target.Unmap().Is4())
	default:
		return s.os != nil
	}
}

// attempt runs a single probe behind the breaker and feeds the adaptive
// state with its outcome. Pacing happens per datagram in write.
func (s *scan) attempt(ctx context.Context, job ScanJob) (observed, error) {
	if err := s.breaker.Wait(ctx); err != nil {
		return observed{}, err
	}
	if j := s.cfg.Stealth.TimingJitter; j > 0 {
		if err := sleep(ctx, rand.N(j)); err != nil {
			return observed{}, err
		}
	}

	var (
		o   observed
		err error
	)
	switch job.Technique {
	case Connect:
		o, err = s.connect(ctx, job)
	case Udp:
		o, err = s.udp(ctx, job)
	default:
		o, err = s.crafted(ctx, job)
	}

	if err != nil {
		if ctx.Err() == nil {
			s.breaker.RecordFailure()
			s.batcher.Record(false)
		}
		return o, err
	}
	s.breaker.RecordSuccess()
	s.batcher.Record(true)

	responded := o.obs != NoResponse
	s.timeout.Record(responded)
	if responded {
		s.received.Add(1)
		s.observeRTT(o.rtt)
	} else {
		s.timeouts.Add(1)
	}
	return o, nil
}

func (s *scan) result(job ScanJob, o observed) PortResult {
	v := Classify(job.Technique, o.obs)
	pr := PortResult{
		Address:   job.Target,
		Port:      job.Port,
		Protocol:  job.Technique.Protocol(),
		State:     v.State,
		Technique: job.Technique,
	}
	if o.obs != NoResponse {
		pr.ResponseTime = o.rtt
	}
	if v.State == Open {
		if job.Technique == Udp {
			pr.Service = s.e.probes.Identify(job.Port, o.payload)
		}
		if pr.Service == "" {
			pr.Service = ServiceName(pr.Protocol, job.Port)
		}
	}
	return pr
}

// write takes one token from the bucket, then sends one datagram and
// counts it. Decoys, fragments, teardown resets and confirmation dials all
// come through here, so RateLimit bounds everything put on the wire.
func (s *scan) write(ctx context.Context, tr transport.Transport, tech Technique, p *transport.Probe, b []byte) error {
	if err := s.bucket.Wait(ctx); err != nil {
		return err
	}
	if err := tr.Send(ctx, p, b); err != nil {
		return err
	}
	s.sent.Add(1)
	s.e.metrics.ProbeSent(tech.String())
	return nil
}

// abandon drops the waiter of a registered probe whose send did not
// complete.
func abandon(tr transport.Transport, p *transport.Probe) {
	r, _ := tr.Recv(context.Background(), p, 0)
	r.Release()
}

func (s *scan) sourcePort() uint16 {
	if s.cfg.Stealth.RandomizeSourcePort {
		return uint16(lowestRandom + rand.N(65536-lowestRandom))
	}
	return uint16(ephemeralBase + s.nextPort.Add(1)%ephemeralSpan)
}

// sourceAddr is the address crafted probes to dst carry. Replies to a
// spoofed source never reach us, so such probes only ever time out.
func (s *scan) sourceAddr(dst netip.Addr) (netip.Addr, error) {
	if src := s.cfg.Stealth.SpoofSource; src.IsValid() {
		return src.Unmap(), nil
	}
	return s.e.source(dst)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
