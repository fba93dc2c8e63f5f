package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultMinBatch = 500
	DefaultMaxBatch = 15000

	// DefaultEvalInterval and DefaultEvalBatches control how often the
	// success window is evaluated; whichever comes first wins.
	DefaultEvalInterval = 10 * time.Second
	DefaultEvalBatches  = 10

	growAbove   = 0.95
	shrinkBelow = 0.8
	growFactor  = 1.25
	shrinkScale = 0.5
)

// window counts outcomes since the last evaluation.
type window struct {
	successes atomic.Int64
	total     atomic.Int64
}

func (w *window) record(success bool) {
	w.total.Add(1)
	if success {
		w.successes.Add(1)
	}
}

// drain returns the success ratio and resets the window. ok is false when
// nothing was recorded.
func (w *window) drain() (ratio float64, ok bool) {
	total := w.total.Swap(0)
	successes := w.successes.Swap(0)
	if total <= 0 {
		return 0, false
	}
	return float64(successes) / float64(total), true
}

// AdaptiveBatchSize holds the number of jobs per batch. The size is a single
// atomic so readers never block; only evaluation takes a lock.
type AdaptiveBatchSize struct {
	size     atomic.Int64
	min, max int64
	fixed    bool

	win      window
	batches  atomic.Int64
	mu       sync.Mutex
	lastEval time.Time

	Interval time.Duration
	Batches  int64
	now      func() time.Time
}

// NewAdaptiveBatchSize starts at initial clamped to [minSize, maxSize].
func NewAdaptiveBatchSize(initial, minSize, maxSize int) *AdaptiveBatchSize {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	a := &AdaptiveBatchSize{
		min:      int64(minSize),
		max:      int64(maxSize),
		Interval: DefaultEvalInterval,
		Batches:  DefaultEvalBatches,
		now:      time.Now,
	}
	a.size.Store(a.clamp(int64(initial)))
	a.lastEval = a.now()
	return a
}

// FixedBatchSize never adapts.
func FixedBatchSize(n int) *AdaptiveBatchSize {
	n = max(n, 1)
	a := NewAdaptiveBatchSize(n, n, n)
	a.fixed = true
	return a
}

// Size returns the current batch size.
func (a *AdaptiveBatchSize) Size() int {
	return int(a.size.Load())
}

// Bounds returns the inclusive size limits.
func (a *AdaptiveBatchSize) Bounds() (int, int) {
	return int(a.min), int(a.max)
}

// Record adds one probe outcome to the success window.
func (a *AdaptiveBatchSize) Record(success bool) {
	a.win.record(success)
}

// BatchDone marks a batch finished and evaluates the window when the batch
// count or the interval is reached. It reports whether it evaluated.
func (a *AdaptiveBatchSize) BatchDone() bool {
	n := a.batches.Add(1)
	a.mu.Lock()
	due := a.now().Sub(a.lastEval) >= a.Interval
	a.mu.Unlock()
	if n < a.Batches && !due {
		return false
	}
	a.Evaluate()
	return true
}

// Evaluate applies the success ratio recorded since the last evaluation:
// above 0.95 the size grows by a quarter, below 0.8 it halves.
func (a *AdaptiveBatchSize) Evaluate() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batches.Store(0)
	a.lastEval = a.now()
	ratio, ok := a.win.drain()
	if !ok || a.fixed {
		return a.Size()
	}

	cur := a.size.Load()
	next := cur
	switch {
	case ratio > growAbove:
		next = int64(float64(cur) * growFactor)
	case ratio < shrinkBelow:
		next = int64(float64(cur) * shrinkScale)
	}
	next = a.clamp(next)
	a.size.Store(next)
	return int(next)
}

func (a *AdaptiveBatchSize) clamp(n int64) int64 {
	return max(a.min, min(n, a.max))
}

// AdaptiveTimeout nudges the per-probe timeout from the response ratio:
// a responsive network shortens it, a lossy one lengthens it, always within
// [floor, ceiling].
type AdaptiveTimeout struct {
	cur         atomic.Int64
	floor, ceil time.Duration
	win         window
}

// NewAdaptiveTimeout starts at initial clamped to [floor, ceiling].
func NewAdaptiveTimeout(initial, floor, ceiling time.Duration) *AdaptiveTimeout {
	if ceiling < floor {
		ceiling = floor
	}
	t := &AdaptiveTimeout{floor: floor, ceil: ceiling}
	t.cur.Store(int64(max(floor, min(initial, ceiling))))
	return t
}

// Current returns the timeout to use for the next probe.
func (t *AdaptiveTimeout) Current() time.Duration {
	return time.Duration(t.cur.Load())
}

// Record adds whether a probe got any answer before its timeout.
func (t *AdaptiveTimeout) Record(responded bool) {
	t.win.record(responded)
}

// Evaluate applies the ratio recorded since the last evaluation.
func (t *AdaptiveTimeout) Evaluate() time.Duration {
	ratio, ok := t.win.drain()
	if !ok {
		return t.Current()
	}
	cur := t.Current()
	next := cur
	switch {
	case ratio > growAbove:
		next = cur * 9 / 10
	case ratio < shrinkBelow:
		next = cur * 3 / 2
	}
	next = max(t.floor, min(next, t.ceil))
	t.cur.Store(int64(next))
	return next
}
