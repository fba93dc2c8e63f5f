package transport

import (
	"sync"
	"time"
)

type waiter struct {
	ch   chan *Reply
	sent time.Time
}

// demux routes inbound replies to the probe waiting on their flow. A waiter
// takes the first reply only; later ones for the same flow are dropped.
type demux struct {
	mu      sync.Mutex
	waiters map[flowKey]*waiter
	closed  bool
	done    chan struct{}
}

func newDemux() *demux {
	return &demux{waiters: make(map[flowKey]*waiter), done: make(chan struct{})}
}

func (d *demux) register(k flowKey, now time.Time) (*waiter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if _, ok := d.waiters[k]; ok {
		return nil, ErrDuplicateFlow
	}
	w := &waiter{ch: make(chan *Reply, 1), sent: now}
	d.waiters[k] = w
	return w, nil
}

func (d *demux) lookup(k flowKey) (*waiter, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.waiters[k]
	return w, ok
}

func (d *demux) remove(k flowKey) {
	d.mu.Lock()
	w, ok := d.waiters[k]
	delete(d.waiters, k)
	d.mu.Unlock()

	if !ok {
		return
	}
	// A reply that raced the removal still holds a buffer.
	select {
	case r := <-w.ch:
		r.Release()
	default:
	}
}

// deliver hands r to the waiter for k. It reports false when nobody is
// waiting or the waiter already has a reply; the caller then owns r.
func (d *demux) deliver(k flowKey, r *Reply) bool {
	d.mu.Lock()
	w, ok := d.waiters[k]
	d.mu.Unlock()
	if !ok {
		return false
	}

	r.RTT = time.Since(w.sent)
	select {
	case w.ch <- r:
		return true
	default:
		return false
	}
}

func (d *demux) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

func (d *demux) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	ws := d.waiters
	d.waiters = make(map[flowKey]*waiter)
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	for _, w := range ws {
		select {
		case r := <-w.ch:
			r.Release()
		default:
		}
	}
}
