package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseviz/internal/analysis"
)

func frameAt(ts time.Time, energy float64) *analysis.FeatureFrame {
	return &analysis.FeatureFrame{Timestamp: ts, Energy: energy}
}

func TestLatestBeforeFirstPublish(t *testing.T) {
	b := New()
	f, err := b.Latest()
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrNoFrameYet)
}

func TestLatestReturnsIdenticalFrameUntilNextPublish(t *testing.T) {
	b := New()
	now := time.Now()

	b.Publish(frameAt(now, 0.1))

	f1, err := b.Latest()
	require.NoError(t, err)
	f2, err := b.Latest()
	require.NoError(t, err)
	assert.Same(t, f1, f2, "no intervening publish, same frame")

	b.Publish(frameAt(now.Add(time.Millisecond), 0.2))
	f3, err := b.Latest()
	require.NoError(t, err)
	assert.NotSame(t, f1, f3)
	assert.Equal(t, 0.2, f3.Energy)
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	b := New()
	now := time.Now()

	var last uint64
	for i := 0; i < 10; i++ {
		b.Publish(frameAt(now.Add(time.Duration(i)*time.Millisecond), 0))
		f, err := b.Latest()
		require.NoError(t, err)
		assert.Greater(t, f.Seq, last)
		last = f.Seq
	}
}

func TestPublishDropsOutOfOrderTimestamps(t *testing.T) {
	b := New()
	now := time.Now()

	b.Publish(frameAt(now, 0.5))
	b.Publish(frameAt(now.Add(-time.Second), 0.9)) // stale, must be ignored

	f, err := b.Latest()
	require.NoError(t, err)
	assert.Equal(t, 0.5, f.Energy)
	assert.Equal(t, now, f.Timestamp)
}

func TestPublishNilIsNoop(t *testing.T) {
	b := New()
	b.Publish(nil)
	_, err := b.Latest()
	assert.ErrorIs(t, err, ErrNoFrameYet)
}

// TestConcurrentConsumersSeeMonotonicTimestamps polls from several goroutines
// while the publisher replaces frames, checking no consumer ever observes a
// frame older than one it already saw.
func TestConcurrentConsumersSeeMonotonicTimestamps(t *testing.T) {
	b := New()
	start := time.Now()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			b.Publish(frameAt(start.Add(time.Duration(i)*time.Microsecond), 0))
		}
		close(stop)
	}()

	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeen time.Time
			for {
				select {
				case <-stop:
					return
				default:
				}
				f, err := b.Latest()
				if err != nil {
					continue
				}
				if f.Timestamp.Before(lastSeen) {
					t.Errorf("observed timestamp regression: %v after %v", f.Timestamp, lastSeen)
					return
				}
				lastSeen = f.Timestamp
			}
		}()
	}

	wg.Wait()
}

func BenchmarkLatest(b *testing.B) {
	bus := New()
	bus.Publish(frameAt(time.Now(), 0.1))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = bus.Latest()
	}
}
