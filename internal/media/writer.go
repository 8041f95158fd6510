package media

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// StreamWriter writes clock-paced RTP audio frames to a remote peer.
// Sequence numbers and timestamps continue across talkspurts so that a
// leg presents one RTP stream for its lifetime.
type StreamWriter struct {
	conn  net.PacketConn
	codec Codec

	mu        sync.Mutex
	remote    net.Addr
	ssrc      uint32
	seq       uint16
	timestamp uint32
	ticker    *time.Ticker
	closed    bool
}

// NewStreamWriter creates a writer paced at the codec frame duration.
func NewStreamWriter(conn net.PacketConn, remote net.Addr, codec Codec) *StreamWriter {
	return &StreamWriter{
		conn:      conn,
		codec:     codec,
		remote:    remote,
		ssrc:      GenerateSSRC(),
		seq:       GenerateSequenceStart(),
		timestamp: GenerateTimestampStart(),
		ticker:    time.NewTicker(codec.SampleDur),
	}
}

// SetRemote updates the destination, used when latching onto the peer's
// observed source address.
func (w *StreamWriter) SetRemote(addr net.Addr) {
	w.mu.Lock()
	w.remote = addr
	w.mu.Unlock()
}

// Remote returns the current destination.
func (w *StreamWriter) Remote() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remote
}

// WriteFrame waits for the next clock tick and sends one frame. marker
// flags the first packet of a talkspurt.
func (w *StreamWriter) WriteFrame(ctx context.Context, payload []byte, marker bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ticker.C:
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return net.ErrClosed
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    w.codec.PayloadType,
			SequenceNumber: w.seq,
			Timestamp:      w.timestamp,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.conn.WriteTo(data, w.remote); err != nil {
		return err
	}

	w.seq++
	w.timestamp += w.codec.TimestampIncrement()
	return nil
}

// SSRC returns the stream's SSRC.
func (w *StreamWriter) SSRC() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ssrc
}

// Close stops the ticker. The connection is owned by the caller.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.ticker.Stop()
	}
	return nil
}

// Frames splits audio into codec-sized frames, padding the last one with
// silence.
func Frames(audio []byte, codec Codec) [][]byte {
	size := codec.BytesPerFrame()
	if len(audio) == 0 || size <= 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(audio)+size-1)/size)
	for off := 0; off < len(audio); off += size {
		end := off + size
		if end <= len(audio) {
			frames = append(frames, audio[off:end])
			continue
		}
		last := make([]byte, size)
		n := copy(last, audio[off:])
		silence := codec.Silence()
		for i := n; i < size; i++ {
			last[i] = silence
		}
		frames = append(frames, last)
	}
	return frames
}
