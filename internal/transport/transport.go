// Package transport publishes feature frames to external consumers
// (renderers, recorders on other machines). Transports sit strictly
// downstream of the bus and must never block the analysis goroutine.
package transport

import "pulseviz/internal/analysis"

// Transport sends feature frames somewhere. Implementations are thread-safe
// and drop frames rather than block when the receiver cannot keep up.
type Transport interface {
	Send(frame *analysis.FeatureFrame) error
	Close() error
}
