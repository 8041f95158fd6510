package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"

	"github.com/sebas/frontdesk/internal/call"
	"github.com/sebas/frontdesk/internal/media"
	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/sdp"
)

// maxPacketSize bounds one received datagram.
const maxPacketSize = 1500

// rtpStream is the single audio stream of a leg: a UDP read loop feeding the
// listener, and a paced writer for outbound audio.
type rtpStream struct {
	conn   net.PacketConn
	codec  media.Codec
	writer *media.StreamWriter
	dtmf   *media.DTMFDetector
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	listener atomic.Pointer[listenerBox]
	latched  atomic.Bool
	started  atomic.Bool
	dropped  atomic.Uint64

	// playMu serializes outbound talkspurts on the shared writer clock.
	playMu sync.Mutex
	once   sync.Once
}

type listenerBox struct {
	l call.LegListener
}

func newRTPStream(conn net.PacketConn, remote net.Addr, ans sdp.Answer, log *slog.Logger) *rtpStream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &rtpStream{
		conn:   conn,
		codec:  ans.Codec,
		writer: media.NewStreamWriter(conn, remote, ans.Codec),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	if ans.DTMF != 0 {
		s.dtmf = media.NewDTMFDetector(ans.DTMF)
	}
	return s
}

func (s *rtpStream) setListener(l call.LegListener) {
	s.listener.Store(&listenerBox{l: l})
}

func (s *rtpStream) start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.readLoop()
}

func (s *rtpStream) readLoop() {
	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("[RTP] Read failed", "error", err)
			continue
		}
		s.handlePacket(buf[:n], addr)
	}
}

func (s *rtpStream) handlePacket(data []byte, from net.Addr) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		if s.dropped.Add(1)%100 == 1 {
			s.log.Debug("[RTP] Dropping malformed packet", "size", len(data), "error", err, "dropped", s.dropped.Load())
		}
		return
	}

	if s.latched.CompareAndSwap(false, true) {
		if remote := s.writer.Remote(); remote == nil || remote.String() != from.String() {
			s.log.Info("[RTP] Latched remote address", "signaled", remote, "observed", from.String())
			s.writer.SetRemote(from)
		}
	}

	box := s.listener.Load()
	if box == nil {
		return
	}

	if s.dtmf != nil && s.dtmf.IsDTMF(pkt) {
		if digit, ok := s.dtmf.Process(pkt); ok {
			s.log.Debug("[RTP] DTMF digit", "digit", string(digit))
			box.l.OnDTMF(digit)
		}
		return
	}
	if pkt.PayloadType != s.codec.PayloadType {
		return
	}
	box.l.OnAudio(s.codec.ToUlaw(pkt.Payload))
}

// play streams µ-law audio on the writer clock. done is called once, with
// nil after the last frame or a Stop.
func (s *rtpStream) play(audio []byte, done func(error)) playback.Playback {
	ctx, cancel := context.WithCancel(s.ctx)
	frames := media.Frames(s.codec.FromUlaw(audio), s.codec)

	go func() {
		defer cancel()
		err := s.send(ctx, frames)
		if done != nil {
			done(err)
		}
	}()
	return stopFunc(cancel)
}

func (s *rtpStream) send(ctx context.Context, frames [][]byte) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	for i, frame := range frames {
		if err := s.writer.WriteFrame(ctx, frame, i == 0); err != nil {
			switch {
			case s.ctx.Err() != nil:
				return ErrLegClosed
			case ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}
	}
	return nil
}

func (s *rtpStream) close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.writer.Close()
		_ = s.conn.Close()
	})
}

// stopFunc adapts a cancel function to playback.Playback.
type stopFunc context.CancelFunc

func (f stopFunc) Stop() { f() }
