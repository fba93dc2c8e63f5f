// Package ratelimit paces probe transmission and sizes scan batches from
// observed success.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// MaxDelay caps DelayUntilNext.
const MaxDelay = time.Second

// TokenBucket admits at most pps sends per second with a burst of pps.
// A zero rate admits everything.
type TokenBucket struct {
	lim *rate.Limiter
	pps float64
	now func() time.Time
}

// NewTokenBucket returns a full bucket refilled at pps tokens per second.
func NewTokenBucket(pps uint64) *TokenBucket {
	b := &TokenBucket{now: time.Now}
	if pps == 0 {
		return b
	}
	burst := int(min(pps, math.MaxInt32))
	b.pps = float64(pps)
	b.lim = rate.NewLimiter(rate.Limit(b.pps), burst)
	return b
}

// Unlimited reports whether the bucket admits everything.
func (b *TokenBucket) Unlimited() bool { return b.lim == nil }

// Rate returns the refill rate in tokens per second, 0 when unlimited.
func (b *TokenBucket) Rate() float64 { return b.pps }

// CanSend refills the bucket for the time elapsed since the last call and
// takes one token if one is available.
func (b *TokenBucket) CanSend() bool {
	if b.lim == nil {
		return true
	}
	return b.lim.AllowN(b.now(), 1)
}

// Tokens returns the tokens currently available.
func (b *TokenBucket) Tokens() float64 {
	if b.lim == nil {
		return math.Inf(1)
	}
	return b.lim.TokensAt(b.now())
}

// DelayUntilNext returns how long until one token is available, clamped to
// [0, MaxDelay].
func (b *TokenBucket) DelayUntilNext() time.Duration {
	if b.lim == nil {
		return 0
	}
	tokens := b.lim.TokensAt(b.now())
	if tokens >= 1 {
		return 0
	}
	d := time.Duration((1 - tokens) / b.pps * float64(time.Second))
	return max(0, min(d, MaxDelay))
}

// Wait blocks until a token is taken or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for !b.CanSend() {
		d := max(b.DelayUntilNext(), time.Microsecond)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
