package realtime

// Event is a decoded server event. The set of implementations is closed.
type Event interface {
	realtimeEvent() string
}

// Ready is emitted once the session has been configured.
type Ready struct{}

// SessionCreated carries the server-side session id.
type SessionCreated struct {
	ID string
}

// UserTranscript is the completed transcription of a caller utterance.
type UserTranscript struct {
	Text string
}

// AITranscript is the text of an assistant audio response.
type AITranscript struct {
	ResponseID string
	Text       string
}

// AudioDelta is a fragment of assistant audio in g711 µ-law.
type AudioDelta struct {
	ResponseID string
	Audio      []byte
}

// ResponseDone marks the end of an assistant response.
type ResponseDone struct {
	ResponseID string
	Status     string
}

// SpeechStarted is emitted when server VAD detects the caller speaking.
type SpeechStarted struct{}

// SpeechStopped is emitted when server VAD detects the caller went quiet.
type SpeechStopped struct{}

// Error is a server error event or a transport failure. Fatal errors end
// the session.
type Error struct {
	Type    string
	Code    string
	Message string
	Fatal   bool
}

func (Ready) realtimeEvent() string          { return "ready" }
func (SessionCreated) realtimeEvent() string { return "session.created" }
func (UserTranscript) realtimeEvent() string { return "user_transcript" }
func (AITranscript) realtimeEvent() string   { return "ai_transcript" }
func (AudioDelta) realtimeEvent() string     { return "audio_delta" }
func (ResponseDone) realtimeEvent() string   { return "response.done" }
func (SpeechStarted) realtimeEvent() string  { return "speech_started" }
func (SpeechStopped) realtimeEvent() string  { return "speech_stopped" }
func (Error) realtimeEvent() string          { return "error" }

// Name returns a short name for logging.
func Name(e Event) string {
	if e == nil {
		return ""
	}
	return e.realtimeEvent()
}

func (e Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
