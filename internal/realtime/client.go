// Package realtime is a client for speech-to-speech conversational AI
// sessions over WebSocket.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// DefaultInstructions is the system prompt of the service desk assistant.
const DefaultInstructions = `You are a professional medical office assistant helping patients with their inquiries.

CONVERSATION STYLE:
- Keep responses brief and conversational
- Speak naturally and professionally
- Be helpful and empathetic

CAPABILITIES:
- Help patients check appointment details
- Provide lab test results information
- Answer billing questions
- Transfer to human agents when needed

IMPORTANT INSTRUCTIONS:
- When patients ask about appointments, lab results, or billing, say "Let me check that for you" then pause
- Never make up medical information or appointment details
- Always be accurate with the information provided
- If you cannot help, offer to transfer to a human agent

CONVERSATION FLOW:
1. Greet the caller warmly
2. Listen to their request
3. For specific queries (appointments/labs/billing), say you'll check their information
4. Provide accurate information or transfer to appropriate department

Stay focused on helping patients efficiently and accurately.`

// Config configures the client.
type Config struct {
	URL                string
	Model              string
	APIKey             string
	Voice              string
	TranscriptionModel string
	Temperature        float64
	MaxOutputTokens    int

	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilenceDuration time.Duration

	DialTimeout  time.Duration
	DialAttempts uint64
	WriteTimeout time.Duration
	// AudioQueue bounds the outbound audio frames waiting for the socket.
	AudioQueue int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "wss://api.openai.com/v1/realtime"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-realtime-preview-2024-10-01"
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = "whisper-1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.6
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 80
	}
	if c.VADThreshold == 0 {
		c.VADThreshold = 0.5
	}
	if c.VADPrefixPadding == 0 {
		c.VADPrefixPadding = 150 * time.Millisecond
	}
	if c.VADSilenceDuration == 0 {
		c.VADSilenceDuration = 600 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.DialAttempts == 0 {
		c.DialAttempts = 3
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.AudioQueue == 0 {
		c.AudioQueue = 250
	}
	return c
}

// Client opens realtime sessions.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults(), dialer: websocket.DefaultDialer}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", c.cfg.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the service, configures the session with instructions and
// returns it. The first event on the session is Ready.
func (c *Client) Open(ctx context.Context, instructions string) (*Session, error) {
	if instructions == "" {
		instructions = DefaultInstructions
	}
	wsURL, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	headers.Set("OpenAI-Beta", "realtime=v1")

	var conn *websocket.Conn
	dial := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
		cn, resp, err := c.dialer.DialContext(dialCtx, wsURL, headers)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = cn
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 3 * c.cfg.DialTimeout
	notify := func(err error, wait time.Duration) {
		slog.Warn("[Realtime] Dial failed, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.DialAttempts-1), ctx), notify); err != nil {
		return nil, fmt.Errorf("connect realtime: %w", err)
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:              []string{"text", "audio"},
			Instructions:            instructions,
			Voice:                   c.cfg.Voice,
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			InputAudioTranscription: transcription{Model: c.cfg.TranscriptionModel},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         c.cfg.VADThreshold,
				PrefixPaddingMS:   int(c.cfg.VADPrefixPadding / time.Millisecond),
				SilenceDurationMS: int(c.cfg.VADSilenceDuration / time.Millisecond),
			},
			Tools:                   []tool{},
			ToolChoice:              "none",
			Temperature:             c.cfg.Temperature,
			MaxResponseOutputTokens: c.cfg.MaxOutputTokens,
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(update); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session.update: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	s := newSession(conn, c.cfg)
	s.events <- Ready{}
	go s.readLoop()
	go s.writeLoop()
	slog.Debug("[Realtime] Session configured", "model", c.cfg.Model, "voice", c.cfg.Voice)
	return s, nil
}

// ErrClosed is returned when sending on a closed session.
var ErrClosed = errors.New("realtime session is closed")
