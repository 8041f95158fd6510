package events

import (
	"time"

	"github.com/google/uuid"
)

// Builder provides construction of call events with consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder with global defaults.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

// newBase creates a BaseEvent with common fields populated.
func (b *Builder) newBase(eventType EventType, callID, caller string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		EventTime: time.Now().UTC(),
		SIPCallID: callID,
		Caller:    caller,
		NodeID:    b.nodeID,
	}
}

// CallReceivedBuilder constructs CallReceivedEvent.
type CallReceivedBuilder struct {
	event *CallReceivedEvent
}

// CallReceived starts building a CallReceivedEvent.
func (b *Builder) CallReceived(callID, caller string) *CallReceivedBuilder {
	return &CallReceivedBuilder{
		event: &CallReceivedEvent{
			BaseEvent: b.newBase(CallReceived, callID, caller),
		},
	}
}

func (cb *CallReceivedBuilder) Customer(name string) *CallReceivedBuilder {
	cb.event.Known = name != ""
	cb.event.Customer = name
	return cb
}

func (cb *CallReceivedBuilder) Blocked(blocked bool) *CallReceivedBuilder {
	cb.event.Blocked = blocked
	return cb
}

func (cb *CallReceivedBuilder) Source(ip string) *CallReceivedBuilder {
	cb.event.SourceIP = ip
	return cb
}

func (cb *CallReceivedBuilder) Codec(codec string) *CallReceivedBuilder {
	cb.event.Codec = codec
	return cb
}

func (cb *CallReceivedBuilder) UserAgent(ua string) *CallReceivedBuilder {
	cb.event.UserAgent = ua
	return cb
}

func (cb *CallReceivedBuilder) Build() *CallReceivedEvent {
	return cb.event
}

// Screening builds a CallScreeningEvent.
func (b *Builder) Screening(callID, caller, policy string, maxFailures int) *CallScreeningEvent {
	return &CallScreeningEvent{
		BaseEvent:   b.newBase(CallScreening, callID, caller),
		Policy:      policy,
		MaxFailures: maxFailures,
	}
}

// Verified builds a CallVerifiedEvent.
func (b *Builder) Verified(callID, caller, method string, failures int) *CallVerifiedEvent {
	return &CallVerifiedEvent{
		BaseEvent: b.newBase(CallVerified, callID, caller),
		Method:    method,
		Failures:  failures,
	}
}

// ScreeningFailed builds a CallScreeningFailedEvent.
func (b *Builder) ScreeningFailed(callID, caller, method string, failures int, exhausted bool) *CallScreeningFailedEvent {
	return &CallScreeningFailedEvent{
		BaseEvent: b.newBase(CallScreeningFailed, callID, caller),
		Method:    method,
		Failures:  failures,
		Exhausted: exhausted,
	}
}

// BargeIn builds a CallBargeInEvent.
func (b *Builder) BargeIn(callID, caller string, pending, queued int) *CallBargeInEvent {
	return &CallBargeInEvent{
		BaseEvent:        b.newBase(CallBargeIn, callID, caller),
		PendingFragments: pending,
		QueuedBuffers:    queued,
	}
}

// TransferRequested builds a CallTransferRequestedEvent.
func (b *Builder) TransferRequested(callID, caller, department, extension, source string) *CallTransferRequestedEvent {
	return &CallTransferRequestedEvent{
		BaseEvent:  b.newBase(CallTransferRequested, callID, caller),
		Department: department,
		Extension:  extension,
		Source:     source,
	}
}

// CallTransferredBuilder constructs CallTransferredEvent.
type CallTransferredBuilder struct {
	event *CallTransferredEvent
}

// CallTransferred starts building a CallTransferredEvent.
func (b *Builder) CallTransferred(callID, caller, department string) *CallTransferredBuilder {
	return &CallTransferredBuilder{
		event: &CallTransferredEvent{
			BaseEvent:  b.newBase(CallTransferred, callID, caller),
			Department: department,
		},
	}
}

func (cb *CallTransferredBuilder) Target(uri string) *CallTransferredBuilder {
	cb.event.Target = uri
	return cb
}

// Result records the outcome; a nil err is a success.
func (cb *CallTransferredBuilder) Result(sipCode int, err error) *CallTransferredBuilder {
	cb.event.SIPCode = sipCode
	cb.event.Success = err == nil
	if err != nil {
		cb.event.Error = err.Error()
	}
	return cb
}

func (cb *CallTransferredBuilder) Build() *CallTransferredEvent {
	return cb.event
}

// CallEndedBuilder constructs CallEndedEvent.
type CallEndedBuilder struct {
	event *CallEndedEvent
}

// CallEnded starts building a CallEndedEvent.
func (b *Builder) CallEnded(callID, caller string) *CallEndedBuilder {
	return &CallEndedBuilder{
		event: &CallEndedEvent{
			BaseEvent: b.newBase(CallEnded, callID, caller),
		},
	}
}

func (cb *CallEndedBuilder) Reason(reason, lastState string) *CallEndedBuilder {
	cb.event.Reason = reason
	cb.event.LastState = lastState
	return cb
}

func (cb *CallEndedBuilder) Durations(talk, total time.Duration) *CallEndedBuilder {
	cb.event.TalkDurationMs = talk.Milliseconds()
	cb.event.TotalDurationMs = total.Milliseconds()
	return cb
}

func (cb *CallEndedBuilder) Counters(screeningFailures, bargeIns, lookups, playbackFailures int) *CallEndedBuilder {
	cb.event.ScreeningFailures = screeningFailures
	cb.event.BargeIns = bargeIns
	cb.event.Lookups = lookups
	cb.event.PlaybackFailures = playbackFailures
	return cb
}

func (cb *CallEndedBuilder) AudioDropped(frames uint64) *CallEndedBuilder {
	cb.event.AudioDropped = frames
	return cb
}

func (cb *CallEndedBuilder) Build() *CallEndedEvent {
	return cb.event
}
