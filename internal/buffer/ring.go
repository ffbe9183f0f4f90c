// Package buffer implements the fixed-capacity sample ring between the
// capture callback and the analysis goroutine.
//
// Thread Safety:
// - Exactly one writer (the capture callback) calls Push.
// - Exactly one reader (the analysis goroutine) calls ReadLatest.
// - All shared state is atomic; Push never takes a lock and never allocates.
package buffer

import (
	"errors"
	"runtime"
	"sync/atomic"

	"pulseviz/pkg/bitint"
)

// ErrInsufficientData is returned by ReadLatest until enough samples have
// ever been written. Expected during startup; callers skip the cycle.
var ErrInsufficientData = errors.New("ring: insufficient data")

// OverflowPolicy controls Push behavior when the writer outruns the reader.
type OverflowPolicy int

const (
	// DropOldest overwrites the oldest unread samples and counts them.
	// Push never blocks; this is the only policy safe for a live callback.
	DropOldest OverflowPolicy = iota
	// Block makes Push wait cooperatively for the reader to catch up.
	// For replay and test sources only.
	Block
)

// Ring is a single-producer/single-consumer circular store of mono float64
// samples. Capacity is fixed at construction (rounded up to a power of 2)
// and never resized.
//
// Positions are tracked as ever-growing sample totals; buffer indices are the
// totals masked by capacity-1. The writer brackets every data copy between
// two counters: writing is advanced before the copy starts, written after it
// completes. The reader uses writing to detect a push that has begun
// overwriting the region it copied, even when that push has not published
// yet. readMark is a monotonic floor of still-valid data: the reader raises
// it to what it has observed, the writer raises it past samples it
// overwrites.
type Ring struct {
	buf  []float64
	mask uint64

	policy OverflowPolicy

	writing  atomic.Uint64 // total samples covered by copies that have begun
	written  atomic.Uint64 // total samples ever written and published
	readMark atomic.Uint64 // total samples consumed or overwritten
	dropped  atomic.Uint64 // samples overwritten before being read
}

// New creates a Ring holding at least capacity samples.
func New(capacity int, policy OverflowPolicy) *Ring {
	capacity = bitint.NextPowerOfTwo(capacity)
	return &Ring{
		buf:    make([]float64, capacity),
		mask:   uint64(capacity - 1),
		policy: policy,
	}
}

// Capacity returns the fixed sample capacity.
func (r *Ring) Capacity() int { return len(r.buf) }

// Written returns the total number of samples ever pushed.
func (r *Ring) Written() uint64 { return r.written.Load() }

// Dropped returns the number of samples overwritten before they were read.
// Overflow is observable, not fatal.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// Push appends a block of samples. Single writer only.
//
// Performance Critical (Hot Path):
// - No allocations, no locks.
// - Under DropOldest it never blocks: the oldest unread samples are
//   overwritten and counted instead.
func (r *Ring) Push(block []float64) {
	n := uint64(len(block))
	if n == 0 {
		return
	}

	capacity := uint64(len(r.buf))
	if n > capacity {
		// Only the trailing capacity samples can survive; the rest are
		// dropped on arrival.
		r.dropped.Add(n - capacity)
		block = block[n-capacity:]
		n = capacity
	}

	w := r.written.Load()

	switch r.policy {
	case Block:
		for w+n-r.readMark.Load() > capacity {
			runtime.Gosched()
		}
	default: // DropOldest
		if target := w + n; target > capacity {
			floor := target - capacity
			if mark := r.readMark.Load(); mark < floor {
				r.dropped.Add(floor - mark)
				r.advanceMark(floor)
			}
		}
	}

	// Announce the copy before touching the buffer so a concurrent
	// ReadLatest can tell its region is being overwritten mid-copy.
	r.writing.Store(w + n)

	// Two-chunk copy around the wrap point.
	i0 := w & r.mask
	if i0+n <= capacity {
		copy(r.buf[i0:i0+n], block)
	} else {
		k := capacity - i0
		copy(r.buf[i0:], block[:k])
		copy(r.buf, block[k:])
	}

	// Publish after the data is in place.
	r.written.Store(w + n)
}

// ReadLatest copies the most recent len(dst) samples into dst, oldest first.
// It returns ErrInsufficientData until that many samples have ever been
// written, and never blocks the writer.
//
// A torn read (the writer lapping the region mid-copy) is detected against
// the writing counter, which the writer advances before it touches the
// buffer, and retried; with the configured >= 2x window headroom a retry is
// rare. Checking the published total alone would miss a push whose copy has
// started but whose store has not executed yet.
func (r *Ring) ReadLatest(dst []float64) error {
	n := uint64(len(dst))
	if n == 0 {
		return nil
	}
	capacity := uint64(len(r.buf))
	if n > capacity {
		return ErrInsufficientData
	}

	for {
		w := r.written.Load()
		if w < n {
			return ErrInsufficientData
		}
		start := w - n

		i0 := start & r.mask
		if i0+n <= capacity {
			copy(dst, r.buf[i0:i0+n])
		} else {
			k := capacity - i0
			copy(dst[:k], r.buf[i0:])
			copy(dst[k:], r.buf[:n-k])
		}

		// Consistent iff no copy has begun wrapping into [start, w).
		if r.writing.Load() <= start+capacity {
			r.advanceMark(w)
			return nil
		}
		runtime.Gosched()
	}
}

// advanceMark raises readMark to at least target. Both sides call this, so
// it is a CAS max; contention is bounded to the one writer and one reader.
func (r *Ring) advanceMark(target uint64) {
	for {
		cur := r.readMark.Load()
		if cur >= target || r.readMark.CompareAndSwap(cur, target) {
			return
		}
	}
}
