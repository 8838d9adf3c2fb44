package pcm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrRingClosed is returned by cursor reads once the ring is closed and fully drained.
var ErrRingClosed = errors.New("ring buffer closed")

// Ring implements a fixed-capacity buffer of PCM blocks with independent read
// cursors. The producer never blocks: when the ring is full, the oldest block
// is evicted and an overflow counter increments, so data loss is observable
// but never stalls ingest. Each consumer (spectral analyzer, recorder) owns
// its cursor and drains at its own pace without affecting the others.
type Ring struct {
	capacity int

	mu       sync.Mutex
	blocks   []Block // ring storage, indexed by absolute index % capacity
	tail     uint64  // absolute index of the oldest retained block
	head     uint64  // absolute index one past the newest block
	closed   bool
	cursors  []*Cursor
	overflow atomic.Uint64
}

// NewRing creates a ring buffer holding up to capacity blocks.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid ring capacity: %d", capacity)
	}
	return &Ring{
		capacity: capacity,
		blocks:   make([]Block, capacity),
	}, nil
}

// Push appends a block to the ring. If the ring is full the oldest block is
// evicted and the overflow counter increments. Push never blocks. Pushing to
// a closed ring is a no-op.
func (r *Ring) Push(b Block) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if r.head-r.tail == uint64(r.capacity) {
		r.tail++
		r.overflow.Add(1)
	}
	r.blocks[r.head%uint64(r.capacity)] = b
	r.head++

	cursors := r.cursors
	r.mu.Unlock()

	for _, c := range cursors {
		c.signal()
	}
}

// Overflow returns the number of blocks evicted before every cursor read them.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// Len returns the number of blocks currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.head - r.tail)
}

// Close marks the ring as closed. Cursors drain the remaining blocks and then
// receive ErrRingClosed. Close is safe to call multiple times.
func (r *Ring) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cursors := r.cursors
	r.mu.Unlock()

	for _, c := range cursors {
		c.signal()
	}
}

// NewCursor registers a new independent read cursor positioned at the oldest
// retained block. The name identifies the consumer in drop diagnostics.
func (r *Ring) NewCursor(name string) *Cursor {
	return r.newCursor(name, false)
}

// NewLiveCursor registers a cursor positioned past the newest block, so it
// only observes blocks pushed after registration.
func (r *Ring) NewLiveCursor(name string) *Cursor {
	return r.newCursor(name, true)
}

func (r *Ring) newCursor(name string, live bool) *Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.tail
	if live {
		next = r.head
	}
	c := &Cursor{
		ring: r,
		name: name,
		next: next,
		wake: make(chan struct{}, 1),
	}
	r.cursors = append(r.cursors, c)
	return c
}

// Cursor is a single consumer's read position into a Ring. Cursors are not
// safe for concurrent use by multiple goroutines; each consumer owns one.
type Cursor struct {
	ring *Ring
	name string
	next uint64 // absolute index of the next block to read
	wake chan struct{}

	dropped atomic.Uint64

	// window assembly state for NextWindow
	carry      []int16
	carryStart int64 // unix nanos of the first carried sample's block, 0 if none
}

// Name returns the consumer name the cursor was registered with.
func (c *Cursor) Name() string { return c.name }

// Dropped returns the total number of blocks this cursor missed because they
// were evicted before it could read them.
func (c *Cursor) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Cursor) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Next returns the next block in arrival order, waiting until one is
// available. It returns ErrRingClosed once the ring is closed and drained,
// or the context error if ctx is cancelled first. If blocks were evicted
// before the cursor reached them, the cursor skips ahead and records the
// gap in its dropped counter; the caller observes the gap through block
// sequence numbers.
func (c *Cursor) Next(ctx context.Context) (Block, error) {
	for {
		c.ring.mu.Lock()
		if c.next < c.ring.tail {
			c.dropped.Add(c.ring.tail - c.next)
			c.next = c.ring.tail
		}
		if c.next < c.ring.head {
			b := c.ring.blocks[c.next%uint64(c.ring.capacity)]
			c.next++
			c.ring.mu.Unlock()
			return b, nil
		}
		closed := c.ring.closed
		c.ring.mu.Unlock()

		if closed {
			return Block{}, ErrRingClosed
		}
		select {
		case <-c.wake:
		case <-ctx.Done():
			return Block{}, ctx.Err()
		}
	}
}

// NextWindow assembles and returns the next analysis window of exactly size
// samples, sliding over the buffered stream with the given overlap (overlap
// samples are retained and re-served at the head of the following window).
// A dropped-block gap resets the assembly so a window never spans
// discontinuous audio. The returned Window shares no state with the cursor.
func (c *Cursor) NextWindow(ctx context.Context, size, overlap int) (Window, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return Window{}, fmt.Errorf("invalid window parameters: size=%d, overlap=%d", size, overlap)
	}

	for len(c.carry) < size {
		before := c.dropped.Load()
		b, err := c.Next(ctx)
		if err != nil {
			return Window{}, err
		}
		if c.dropped.Load() != before {
			// Gap in the stream, restart assembly from this block.
			c.carry = c.carry[:0]
			c.carryStart = 0
		}
		if len(c.carry) == 0 {
			c.carryStart = b.Timestamp.UnixNano()
		}
		c.carry = append(c.carry, b.Samples...)
	}

	w := Window{
		Start:   unixNanoTime(c.carryStart),
		Samples: make([]int16, size),
	}
	copy(w.Samples, c.carry[:size])

	stride := size - overlap
	n := copy(c.carry, c.carry[stride:])
	c.carry = c.carry[:n]
	if len(c.carry) == 0 {
		c.carryStart = 0
	}
	return w, nil
}
