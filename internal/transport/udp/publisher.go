// Package udp publishes feature frames as compact binary packets for
// renderers that prefer datagrams over websockets.
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"pulseviz/internal/bus"
	applog "pulseviz/internal/log"
)

/*
Packet layout (BigEndian):

	| Field      | Type      | Bytes |
	|------------|-----------|-------|
	| Seq        | uint64    | 8     | frame sequence number
	| Timestamp  | int64     | 8     | nanoseconds since epoch
	| Energy     | float32   | 4     |
	| Activation | float32   | 4     |
	| Beat       | uint8     | 1     | 0 or 1
	| BinCount   | uint16    | 2     |
	| Bins       | []float32 | 4*N   | spectrum magnitudes
*/

// Publisher polls the bus on a fixed interval and sends the latest frame as
// a binary packet. It runs in its own goroutine between Start and Stop and
// never blocks the analysis side: the bus read is a pointer load.
type Publisher struct {
	sender   *Sender
	bus      *bus.Bus
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker/doneChan during Start/Stop

	lastSeq      uint64
	packetBuffer *bytes.Buffer
}

// NewPublisher creates a Publisher. Intervals <= 0 default to ~30Hz, the
// typical renderer poll rate.
func NewPublisher(interval time.Duration, sender *Sender, b *bus.Bus) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if b == nil {
		return nil, fmt.Errorf("udp publisher: bus cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		applog.Warnf("udp publisher: invalid interval, defaulting to %s", interval)
	}

	return &Publisher{
		sender:       sender,
		bus:          b,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start launches the publishing goroutine. No-op if already running.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.publishLatest()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the goroutine and waits for it to exit. Idempotent.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// publishLatest packs and sends the current frame, skipping ticks where no
// new frame has been published since the last send.
func (p *Publisher) publishLatest() {
	frame, err := p.bus.Latest()
	if err != nil {
		return // nothing published yet
	}
	if frame.Seq == p.lastSeq {
		return
	}
	p.lastSeq = frame.Seq

	p.packetBuffer.Reset()
	binary.Write(p.packetBuffer, binary.BigEndian, frame.Seq)
	binary.Write(p.packetBuffer, binary.BigEndian, frame.Timestamp.UnixNano())
	binary.Write(p.packetBuffer, binary.BigEndian, float32(frame.Energy))
	binary.Write(p.packetBuffer, binary.BigEndian, float32(frame.Activation))
	var beat uint8
	if frame.Beat {
		beat = 1
	}
	binary.Write(p.packetBuffer, binary.BigEndian, beat)
	binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(frame.Spectrum)))
	for _, m := range frame.Spectrum {
		binary.Write(p.packetBuffer, binary.BigEndian, float32(m))
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		applog.Errorf("udp publisher: %v", err)
	}
}
