// Package bus provides the single-slot publish point between the analysis
// goroutine and any number of polling consumers.
package bus

import (
	"errors"
	"sync/atomic"

	"pulseviz/internal/analysis"
)

// ErrNoFrameYet is returned by Latest before the first publish. Expected
// during startup while the ring fills; consumers poll again.
var ErrNoFrameYet = errors.New("bus: no frame published yet")

// Bus holds the latest FeatureFrame behind an atomic pointer swap. Publish
// replaces the slot; Latest never blocks the publisher. There is no queue:
// the contract is "most recent frame", not "every frame delivered", since
// renderers poll at their own, usually slower, cadence.
type Bus struct {
	frame atomic.Pointer[analysis.FeatureFrame]
	seq   atomic.Uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Publish makes frame the latest visible snapshot. Single publisher (the
// analysis goroutine). Frames with timestamps older than the current slot
// are dropped so observer timestamps are monotonically non-decreasing.
func (b *Bus) Publish(frame *analysis.FeatureFrame) {
	if frame == nil {
		return
	}
	if cur := b.frame.Load(); cur != nil && frame.Timestamp.Before(cur.Timestamp) {
		return
	}
	frame.Seq = b.seq.Add(1)
	b.frame.Store(frame)
}

// Latest returns the most recently published frame without blocking.
// Concurrent callers between two publishes observe the identical frame.
func (b *Bus) Latest() (*analysis.FeatureFrame, error) {
	f := b.frame.Load()
	if f == nil {
		return nil, ErrNoFrameYet
	}
	return f, nil
}
