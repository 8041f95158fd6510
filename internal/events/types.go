// Package events provides call lifecycle event definitions and publishing
// infrastructure. Events are transport-agnostic; the Redis publisher is one
// of several sinks.
package events

import (
	"strings"
	"time"
)

// EventType identifies the type of call event
type EventType string

const (
	// CallReceived fires when a call has been answered and the caller resolved
	CallReceived EventType = "call.received"
	// CallScreening fires when an unverified caller is challenged for a passcode
	CallScreening EventType = "call.screening"
	// CallVerified fires when the caller is verified (directory, keypad or voice)
	CallVerified EventType = "call.verified"
	// CallScreeningFailed fires for every wrong passcode attempt
	CallScreeningFailed EventType = "call.screening_failed"
	// CallBargeIn fires when the caller interrupts assistant speech
	CallBargeIn EventType = "call.barge_in"
	// CallTransferRequested fires when a transfer intent or operator command is accepted
	CallTransferRequested EventType = "call.transfer_requested"
	// CallTransferred fires once the transfer attempt completed
	CallTransferred EventType = "call.transferred"
	// CallEnded fires when the call terminates (any reason)
	CallEnded EventType = "call.ended"
)

// Verification methods
const (
	MethodDirectory = "directory"
	MethodPolicy    = "policy"
	MethodKeypad    = "keypad"
	MethodVoice     = "voice"
)

// Event is the base interface for all call events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the subject this event should publish to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// CallID returns the primary correlation ID
	CallID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	// EventID is a unique identifier for this event instance (for deduplication)
	EventID string `json:"event_id"`
	// EventType identifies the event
	EventType EventType `json:"event_type"`
	// EventTime is when the event occurred
	EventTime time.Time `json:"event_time"`
	// SIPCallID is the SIP Call-ID, which is also the call identity
	SIPCallID string `json:"call_id"`
	// Caller is the caller number as reported by signaling
	Caller string `json:"caller,omitempty"`
	// NodeID identifies the frontdesk instance
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) CallID() string       { return e.SIPCallID }

// Subject returns the subject for routing
// Format: frontdesk.calls.<call_id>.<event_type_suffix>
func (e *BaseEvent) Subject() string {
	return CallSubject(e.SIPCallID, strings.TrimPrefix(string(e.EventType), "call."))
}

// CallReceivedEvent fires when a call is answered
type CallReceivedEvent struct {
	BaseEvent
	Known     bool   `json:"known"`   // caller found in the customer directory
	Blocked   bool   `json:"blocked"` // caller is on the blocklist
	Customer  string `json:"customer,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`
	Codec     string `json:"codec,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// CallScreeningEvent fires when a challenge starts
type CallScreeningEvent struct {
	BaseEvent
	Policy      string `json:"policy"`
	MaxFailures int    `json:"max_failures"`
}

// CallVerifiedEvent fires when the caller passes screening
type CallVerifiedEvent struct {
	BaseEvent
	Method   string `json:"method"`
	Failures int    `json:"failures"`
}

// CallScreeningFailedEvent fires on a wrong passcode
type CallScreeningFailedEvent struct {
	BaseEvent
	Method    string `json:"method"`
	Failures  int    `json:"failures"`
	Exhausted bool   `json:"exhausted"`
}

// CallBargeInEvent fires when the caller interrupts the assistant
type CallBargeInEvent struct {
	BaseEvent
	PendingFragments int `json:"pending_fragments"`
	QueuedBuffers    int `json:"queued_buffers"`
}

// CallTransferRequestedEvent fires when a transfer is scheduled
type CallTransferRequestedEvent struct {
	BaseEvent
	Department string `json:"department"`
	Extension  string `json:"extension,omitempty"`
	Source     string `json:"source"` // "intent" or "operator"
}

// CallTransferredEvent reports the outcome of a transfer attempt
type CallTransferredEvent struct {
	BaseEvent
	Department string `json:"department"`
	Target     string `json:"target,omitempty"`
	Success    bool   `json:"success"`
	SIPCode    int    `json:"sip_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CallEndedEvent fires when the call terminates
type CallEndedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
	// Final lifecycle state before termination
	LastState string `json:"last_state"`
	// Duration fields (in milliseconds)
	TalkDurationMs  int64 `json:"talk_duration_ms"`
	TotalDurationMs int64 `json:"total_duration_ms"`
	// Conversation counters
	ScreeningFailures int `json:"screening_failures"`
	BargeIns          int `json:"barge_ins"`
	Lookups           int `json:"lookups"`
	PlaybackFailures  int `json:"playback_failures"`
	// Caller audio frames the assistant link could not keep up with
	AudioDropped uint64 `json:"audio_dropped,omitempty"`
}
