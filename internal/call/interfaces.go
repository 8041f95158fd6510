package call

import (
	"context"

	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/realtime"
)

// Leg is the telephony side of a call.
type Leg interface {
	// ID returns the SIP Call-ID.
	ID() string
	// Caller returns the caller number.
	Caller() string
	// Answer accepts the call.
	Answer(ctx context.Context) error
	// Decline rejects the call before answer, or ends it after.
	Decline(ctx context.Context) error
	// Hangup ends an answered call.
	Hangup(ctx context.Context) error
	// Transfer blind-transfers the caller to extension.
	Transfer(ctx context.Context, extension string) error
	// StreamAudio plays µ-law audio to the caller.
	playback.Player
	// Listen registers the receiver of leg events.
	Listen(l LegListener)
}

// LegListener receives telephony events. OnAudio is called on the RTP read
// goroutine and must not block.
type LegListener interface {
	OnAudio(frame []byte)
	OnDTMF(digit rune)
	OnDisposed()
}

// LegDetails is optionally implemented by a Leg to describe the media.
type LegDetails interface {
	SourceIP() string
	Codec() string
	UserAgent() string
}

// AISession is a live conversation with the assistant.
type AISession interface {
	SendAudio(frame []byte)
	SendText(text string) error
	CancelResponse() error
	Events() <-chan realtime.Event
	// Dropped counts caller frames discarded because the link fell behind.
	Dropped() uint64
	Close() error
}

// AIConnector opens assistant sessions.
type AIConnector interface {
	Open(ctx context.Context, instructions string) (AISession, error)
}

// Registry tracks live calls.
type Registry interface {
	Add(c *Call) error
	Remove(id string)
}

// RealtimeConnector opens sessions with a realtime client.
type RealtimeConnector struct {
	Client *realtime.Client
}

// Open implements AIConnector.
func (r RealtimeConnector) Open(ctx context.Context, instructions string) (AISession, error) {
	s, err := r.Client.Open(ctx, instructions)
	if err != nil {
		return nil, err
	}
	return s, nil
}
