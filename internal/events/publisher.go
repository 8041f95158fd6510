package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Publisher emits call lifecycle events. A call never waits on a sink:
// the orchestrator only uses PublishAsync, so sinks must not block there.
type Publisher interface {
	// Publish delivers an event and reports transport failures.
	Publish(ctx context.Context, event Event) error
	// PublishAsync delivers an event best effort.
	PublishAsync(event Event)
	// Flush waits for queued events to be delivered.
	Flush(ctx context.Context) error
	// Close flushes and releases the sink.
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// NewNoopPublisher returns a publisher for processes without an event sink.
func NewNoopPublisher() *NoopPublisher { return &NoopPublisher{} }

func (*NoopPublisher) Publish(context.Context, Event) error { return nil }
func (*NoopPublisher) PublishAsync(Event)                   {}
func (*NoopPublisher) Flush(context.Context) error          { return nil }
func (*NoopPublisher) Close() error                         { return nil }

// LoggingPublisher writes events to the log. Call outcomes (ended,
// transferred) are logged at info with their result, everything else at
// debug.
type LoggingPublisher struct {
	log *slog.Logger
}

// NewLoggingPublisher creates a publisher writing to log, or the default
// logger when log is nil.
func NewLoggingPublisher(log *slog.Logger) *LoggingPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingPublisher{log: log}
}

func (p *LoggingPublisher) Publish(ctx context.Context, event Event) error {
	attrs := []any{"type", event.Type(), "call_id", event.CallID()}
	switch e := event.(type) {
	case *CallEndedEvent:
		p.log.InfoContext(ctx, "[Events] Call ended", append(attrs,
			"reason", e.Reason,
			"last_state", e.LastState,
			"talk_ms", e.TalkDurationMs,
			"barge_ins", e.BargeIns,
			"lookups", e.Lookups,
			"audio_dropped", e.AudioDropped,
		)...)
	case *CallTransferredEvent:
		p.log.InfoContext(ctx, "[Events] Call transferred", append(attrs,
			"department", e.Department,
			"target", e.Target,
			"success", e.Success,
			"sip_code", e.SIPCode,
		)...)
	default:
		p.log.DebugContext(ctx, "[Events] Published", append(attrs, "subject", event.Subject())...)
	}
	return nil
}

func (p *LoggingPublisher) PublishAsync(event Event) {
	_ = p.Publish(context.Background(), event)
}

func (*LoggingPublisher) Flush(context.Context) error { return nil }
func (*LoggingPublisher) Close() error                { return nil }

// ChannelPublisher buffers events on a channel for in-process consumers.
// Events that do not fit are counted and dropped.
type ChannelPublisher struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

// NewChannelPublisher creates a publisher holding up to size events.
func NewChannelPublisher(size int) *ChannelPublisher {
	if size <= 0 {
		size = 1000
	}
	return &ChannelPublisher{ch: make(chan Event, size)}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.PublishAsync(event)
	return nil
}

func (p *ChannelPublisher) PublishAsync(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- event:
	default:
		p.dropped.Add(1)
		slog.Warn("[Events] Channel full, event dropped", "type", event.Type(), "call_id", event.CallID())
	}
}

func (*ChannelPublisher) Flush(context.Context) error { return nil }

// Close closes the channel; later events are ignored.
func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// Events returns the channel to consume.
func (p *ChannelPublisher) Events() <-chan Event { return p.ch }

// DroppedCount returns how many events did not fit.
func (p *ChannelPublisher) DroppedCount() int64 { return p.dropped.Load() }

// MultiPublisher fans events out to several sinks. One failing sink does
// not stop delivery to the others.
type MultiPublisher struct {
	sinks []Publisher
}

// NewMultiPublisher creates a fan-out publisher.
func NewMultiPublisher(sinks ...Publisher) *MultiPublisher {
	return &MultiPublisher{sinks: sinks}
}

func (p *MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Publish(ctx, event); err != nil {
			slog.Warn("[Events] Sink failed", "type", event.Type(), "call_id", event.CallID(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *MultiPublisher) PublishAsync(event Event) {
	for _, s := range p.sinks {
		s.PublishAsync(event)
	}
}

func (p *MultiPublisher) Flush(ctx context.Context) error {
	return p.each(func(s Publisher) error { return s.Flush(ctx) })
}

func (p *MultiPublisher) Close() error {
	return p.each(Publisher.Close)
}

func (p *MultiPublisher) each(fn func(Publisher) error) error {
	var errs []error
	for _, s := range p.sinks {
		errs = append(errs, fn(s))
	}
	return errors.Join(errs...)
}
