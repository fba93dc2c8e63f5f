package packet

import "sync/atomic"

// DefaultBufferSize is one Ethernet MTU. Longer replies are truncated on
// read; the headers and the leading payload bytes are all a classifier or
// a UDP service match looks at.
const DefaultBufferSize = 1500

// Pool is a fixed arena of receive buffers addressed by slot id. Buffers are
// handed out with Get and must be returned with Release once the receive
// that produced them is done.
type Pool struct {
	size  int
	slots [][]byte
	free  chan int
	spill atomic.Int64
}

// NewPool allocates n buffers of size bytes.
func NewPool(n, size int) *Pool {
	if n < 1 {
		n = 1
	}
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &Pool{
		size:  size,
		slots: make([][]byte, n),
		free:  make(chan int, n),
	}
	for i := range p.slots {
		p.slots[i] = make([]byte, size)
		p.free <- i
	}
	return p
}

// Buffer is an owned view of one pool slot.
type Buffer struct {
	pool     *Pool
	slot     int
	data     []byte
	n        int
	released atomic.Bool
}

// Get checks out a free slot. When the arena is exhausted it returns a
// standalone buffer with slot -1 rather than blocking the caller.
func (p *Pool) Get() *Buffer {
	select {
	case slot := <-p.free:
		return &Buffer{pool: p, slot: slot, data: p.slots[slot]}
	default:
		p.spill.Add(1)
		return &Buffer{slot: -1, data: make([]byte, p.size)}
	}
}

// Available returns the number of free slots.
func (p *Pool) Available() int { return len(p.free) }

// Spilled counts the Get calls served outside the arena.
func (p *Pool) Spilled() int64 { return p.spill.Load() }

// Slot returns the arena slot id, or -1 for a spilled buffer.
func (b *Buffer) Slot() int { return b.slot }

// Space returns the whole backing array for a read to fill.
func (b *Buffer) Space() []byte { return b.data }

// SetLen records how many bytes of Space hold data.
func (b *Buffer) SetLen(n int) {
	b.n = max(0, min(n, len(b.data)))
}

// Bytes returns the filled portion. It must not be used after Release.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

func (b *Buffer) Len() int { return b.n }

// Release returns the slot to its pool. Calling it more than once is a no-op.
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	if b.pool != nil {
		b.pool.free <- b.slot
	}
}
