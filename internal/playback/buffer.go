// Package playback batches AI audio fragments into larger buffers and
// keeps at most one of them streaming into the call at a time.
package playback

import (
	"log/slog"
	"time"
)

// Playback is a buffer currently streaming to the caller.
type Playback interface {
	Stop()
}

// Player streams audio to the caller. done is called once when the audio
// has been sent or streaming failed.
type Player interface {
	StreamAudio(audio []byte, done func(error)) Playback
}

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// Scheduler runs callbacks on the owner's sequential queue.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Stopper
}

// Config tunes the batching discipline.
type Config struct {
	// Threshold is the number of fragments that triggers an immediate flush.
	Threshold int
	// FlushDelay bounds how long the first pending fragment waits.
	FlushDelay time.Duration
	// ResponseDoneDelay is the flush delay after the response completed.
	ResponseDoneDelay time.Duration
	// RequeueDelay is the flush delay after a playback finished with
	// fragments still pending.
	RequeueDelay time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:         5,
		FlushDelay:        500 * time.Millisecond,
		ResponseDoneDelay: 100 * time.Millisecond,
		RequeueDelay:      50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = d.FlushDelay
	}
	if c.ResponseDoneDelay <= 0 {
		c.ResponseDoneDelay = d.ResponseDoneDelay
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = d.RequeueDelay
	}
	return c
}

// Buffer accumulates fragments and hands them to a Player. It is owned by a
// single call and must only be used from that call's queue; scheduled
// flushes and playback completions arrive through the Scheduler and carry
// generation tokens so that callbacks made stale by Interrupt are ignored.
type Buffer struct {
	cfg    Config
	player Player
	sched  Scheduler
	log    *slog.Logger

	pending [][]byte
	queue   [][]byte

	timers   []Stopper
	timerGen uint64

	active   Playback
	playGen  uint64
	speaking bool

	// OnFailure, when set, observes playback errors.
	OnFailure func(error)
}

// New creates a buffer.
func New(cfg Config, player Player, sched Scheduler, log *slog.Logger) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	return &Buffer{cfg: cfg.withDefaults(), player: player, sched: sched, log: log}
}

// Add appends an AI audio fragment.
func (b *Buffer) Add(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	b.pending = append(b.pending, fragment)
	if len(b.pending) >= b.cfg.Threshold {
		b.Flush()
		return
	}
	if len(b.pending) == 1 {
		b.arm(b.cfg.FlushDelay)
	}
}

// ResponseDone schedules a short flush for the tail of a response. A flush
// already armed for the first fragment stays armed.
func (b *Buffer) ResponseDone() {
	if len(b.pending) > 0 {
		b.arm(b.cfg.ResponseDoneDelay)
	}
}

// Flush concatenates pending fragments and starts or queues playback.
func (b *Buffer) Flush() {
	b.disarm()
	if len(b.pending) == 0 {
		return
	}
	size := 0
	for _, f := range b.pending {
		size += len(f)
	}
	audio := make([]byte, 0, size)
	for _, f := range b.pending {
		audio = append(audio, f...)
	}
	b.pending = nil

	if b.active == nil {
		b.start(audio)
		return
	}
	b.queue = append(b.queue, audio)
}

// Interrupt drops everything pending, queued or playing and reports
// whether there was anything to drop.
func (b *Buffer) Interrupt() bool {
	busy := b.Busy()
	if b.active != nil {
		b.active.Stop()
		b.active = nil
	}
	b.playGen++
	b.disarm()
	b.pending = nil
	b.queue = nil
	b.speaking = false
	return busy
}

// Speaking reports whether AI audio is with the player.
func (b *Buffer) Speaking() bool { return b.speaking }

// Busy reports whether any AI audio is playing, queued or pending.
func (b *Buffer) Busy() bool {
	return b.speaking || b.active != nil || len(b.queue) > 0 || len(b.pending) > 0
}

// Pending returns the number of fragments awaiting a flush.
func (b *Buffer) Pending() int { return len(b.pending) }

// Queued returns the number of buffers waiting behind the active one.
func (b *Buffer) Queued() int { return len(b.queue) }

func (b *Buffer) start(audio []byte) {
	b.playGen++
	gen := b.playGen
	b.speaking = true
	b.active = b.player.StreamAudio(audio, func(err error) {
		b.sched.Post(func() { b.finished(gen, err) })
	})
}

func (b *Buffer) finished(gen uint64, err error) {
	if gen != b.playGen {
		return
	}
	b.active = nil
	if err != nil {
		b.log.Warn("[Playback] Streaming failed", "error", err)
		if b.OnFailure != nil {
			b.OnFailure(err)
		}
	}

	if len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.start(next)
		return
	}
	if len(b.pending) > 0 {
		b.arm(b.cfg.RequeueDelay)
		return
	}
	b.speaking = false
}

// arm adds a flush timer. Whichever armed timer fires first flushes, and
// the flush disarms the rest.
func (b *Buffer) arm(d time.Duration) {
	gen := b.timerGen
	b.timers = append(b.timers, b.sched.AfterFunc(d, func() {
		if gen != b.timerGen {
			return
		}
		b.Flush()
	}))
}

func (b *Buffer) disarm() {
	b.timerGen++
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
}
