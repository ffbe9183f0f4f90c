package udp

import (
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseviz/internal/analysis"
	"pulseviz/internal/bus"
)

func listenLoopback(t *testing.T) (*net.UDPConn, string) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().String()
}

func TestNewPublisherValidation(t *testing.T) {
	b := bus.New()

	_, err := NewPublisher(time.Millisecond, nil, b)
	assert.Error(t, err)

	conn, addr := listenLoopback(t)
	_ = conn
	sender, err := NewSender(addr)
	require.NoError(t, err)
	defer sender.Close()

	_, err = NewPublisher(time.Millisecond, sender, nil)
	assert.Error(t, err)

	p, err := NewPublisher(0, sender, b)
	require.NoError(t, err)
	assert.Equal(t, 33*time.Millisecond, p.interval, "non-positive interval falls back to ~30Hz")
}

func TestPublisherPacketRoundTrip(t *testing.T) {
	conn, addr := listenLoopback(t)

	sender, err := NewSender(addr)
	require.NoError(t, err)
	defer sender.Close()

	b := bus.New()
	p, err := NewPublisher(time.Millisecond, sender, b)
	require.NoError(t, err)

	ts := time.Now()
	b.Publish(&analysis.FeatureFrame{
		Timestamp:  ts,
		Energy:     0.25,
		Activation: 0.75,
		Beat:       true,
		Spectrum:   []float64{0.1, 0.2, 0.3},
	})

	p.Start()
	defer p.Stop()

	packet := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(packet)
	require.NoError(t, err)
	packet = packet[:n]

	require.Equal(t, 8+8+4+4+1+2+3*4, n)

	seq := binary.BigEndian.Uint64(packet[0:8])
	nanos := int64(binary.BigEndian.Uint64(packet[8:16]))
	energy := math.Float32frombits(binary.BigEndian.Uint32(packet[16:20]))
	activation := math.Float32frombits(binary.BigEndian.Uint32(packet[20:24]))
	beat := packet[24]
	binCount := binary.BigEndian.Uint16(packet[25:27])

	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, ts.UnixNano(), nanos)
	assert.InDelta(t, 0.25, float64(energy), 1e-6)
	assert.InDelta(t, 0.75, float64(activation), 1e-6)
	assert.Equal(t, uint8(1), beat)
	assert.Equal(t, uint16(3), binCount)

	bin0 := math.Float32frombits(binary.BigEndian.Uint32(packet[27:31]))
	assert.InDelta(t, 0.1, float64(bin0), 1e-6)
}

func TestPublisherSkipsUnchangedFrames(t *testing.T) {
	conn, addr := listenLoopback(t)

	sender, err := NewSender(addr)
	require.NoError(t, err)
	defer sender.Close()

	b := bus.New()
	b.Publish(&analysis.FeatureFrame{Timestamp: time.Now(), Energy: 0.1})

	p, err := NewPublisher(time.Millisecond, sender, b)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	packet := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadFromUDP(packet)
	require.NoError(t, err)

	// No new frame is published, so no further packet should arrive.
	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = conn.ReadFromUDP(packet)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestSenderClosedRejectsSend(t *testing.T) {
	_, addr := listenLoopback(t)

	sender, err := NewSender(addr)
	require.NoError(t, err)

	require.NoError(t, sender.Close())
	assert.NoError(t, sender.Close(), "close is idempotent")
	assert.Error(t, sender.Send([]byte{1}))
}

func TestPublisherStopIsIdempotent(t *testing.T) {
	_, addr := listenLoopback(t)
	sender, err := NewSender(addr)
	require.NoError(t, err)
	defer sender.Close()

	p, err := NewPublisher(time.Millisecond, sender, bus.New())
	require.NoError(t, err)

	p.Start()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}
