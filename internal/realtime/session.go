package realtime

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one live conversation. Send methods are safe for concurrent
// use; events are delivered in order on Events until the session ends.
type Session struct {
	conn *websocket.Conn
	cfg  Config

	events  chan Event
	audio   chan []byte
	control chan any

	closing   chan struct{}
	done      chan struct{}
	writeDone chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	dropped atomic.Uint64

	idMu sync.Mutex
	id   string
}

func newSession(conn *websocket.Conn, cfg Config) *Session {
	return &Session{
		conn:      conn,
		cfg:       cfg,
		events:    make(chan Event, 256),
		audio:     make(chan []byte, cfg.AudioQueue),
		control:   make(chan any, 16),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// Events yields server events; the channel closes when the session ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// ID returns the server session id once known.
func (s *Session) ID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.id
}

// Dropped returns the number of audio frames discarded because the socket
// could not keep up.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// SendAudio queues caller audio (µ-law). It never blocks; frames are
// dropped when the queue is full.
func (s *Session) SendAudio(frame []byte) {
	if len(frame) == 0 || s.closed.Load() {
		return
	}
	select {
	case s.audio <- frame:
	default:
		if s.dropped.Add(1)%50 == 1 {
			slog.Debug("[Realtime] Outbound audio queue full, dropping frames", "dropped", s.dropped.Load())
		}
	}
}

// SendText adds a user message and asks for a spoken response to it.
func (s *Session) SendText(text string) error {
	if err := s.send(itemCreate{
		Type: "conversation.item.create",
		Item: messageItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}
	return s.send(responseCreate{
		Type: "response.create",
		Response: responseConfig{
			Modalities:   []string{"text", "audio"},
			Instructions: "Respond conversationally and briefly.",
		},
	})
}

// CancelResponse cancels the in-progress response.
func (s *Session) CancelResponse() error {
	return s.send(typeOnly{Type: "response.cancel"})
}

func (s *Session) send(msg any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.control <- msg:
		return nil
	case <-s.closing:
		return ErrClosed
	}
}

// Close ends the session. It is idempotent and waits for the read loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		<-s.writeDone
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *Session) writeLoop() {
	defer close(s.writeDone)
	for {
		var msg any
		select {
		case <-s.closing:
			return
		case msg = <-s.control:
		case frame := <-s.audio:
			msg = audioAppend{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(frame)}
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := s.conn.WriteJSON(msg); err != nil {
			slog.Warn("[Realtime] Write failed", "error", err)
			// unblock the reader so the session reports the failure
			_ = s.conn.Close()
			return
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.emit(Error{Type: "transport", Message: err.Error(), Fatal: true})
			s.closed.Store(true)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if ev := s.decode(data); ev != nil {
			s.emit(ev)
		}
	}
}

func (s *Session) decode(data []byte) Event {
	var msg serverEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("[Realtime] Undecodable server event", "error", err)
		return nil
	}

	switch msg.Type {
	case "session.created":
		if msg.Session == nil {
			return nil
		}
		s.idMu.Lock()
		s.id = msg.Session.ID
		s.idMu.Unlock()
		return SessionCreated{ID: msg.Session.ID}
	case "conversation.item.input_audio_transcription.completed":
		return UserTranscript{Text: strings.TrimSpace(msg.Transcript)}
	case "response.audio_transcript.done":
		return AITranscript{ResponseID: msg.ResponseID, Text: msg.Transcript}
	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			slog.Debug("[Realtime] Bad audio delta", "error", err)
			return nil
		}
		return AudioDelta{ResponseID: msg.ResponseID, Audio: audio}
	case "response.done":
		ev := ResponseDone{}
		if msg.Response != nil {
			ev.ResponseID = msg.Response.ID
			ev.Status = msg.Response.Status
		}
		return ev
	case "input_audio_buffer.speech_started":
		return SpeechStarted{}
	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{}
	case "error":
		ev := Error{Type: "server"}
		if msg.Error != nil {
			ev.Type, ev.Code, ev.Message = msg.Error.Type, msg.Error.Code, msg.Error.Message
		}
		return ev
	}
	return nil
}

// emit blocks until the consumer takes the event or the session closes.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closing:
	}
}
