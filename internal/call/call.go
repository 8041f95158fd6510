// Package call orchestrates one phone call: it owns the call state, bridges
// caller audio to the assistant session and plays the assistant back.
//
// Every call runs a single actor goroutine. Telephony events, assistant
// events, timers, playback completions, lookup results and operator commands
// are all handled on that goroutine, so handlers never race on call state.
// Inbound caller audio is the exception: it is forwarded straight from the
// RTP goroutine once the session is ready.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebas/frontdesk/internal/directory"
	"github.com/sebas/frontdesk/internal/events"
	"github.com/sebas/frontdesk/internal/intent"
	"github.com/sebas/frontdesk/internal/observability"
	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/realtime"
	"github.com/sebas/frontdesk/internal/records"
	"github.com/sebas/frontdesk/internal/screening"
)

// ScreeningPolicy decides which callers must pass a passcode challenge.
type ScreeningPolicy string

const (
	// PolicyChallengeUnknown challenges callers missing from the customer directory.
	PolicyChallengeUnknown ScreeningPolicy = "challenge-unknown"
	// PolicyVerifyAll treats every caller as verified.
	PolicyVerifyAll ScreeningPolicy = "verify-all"
)

// Config tunes call handling.
type Config struct {
	Policy       ScreeningPolicy
	Instructions string
	MaxFailures  int
	Playback     playback.Config

	TransferDelay   time.Duration
	TransferTimeout time.Duration
	LookupTimeout   time.Duration
	AnswerTimeout   time.Duration
	SessionTimeout  time.Duration
	HangupTimeout   time.Duration

	TranscriptLimit int
	MailboxSize     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Policy:          PolicyChallengeUnknown,
		MaxFailures:     screening.DefaultMaxFailures,
		Playback:        playback.DefaultConfig(),
		TransferDelay:   2 * time.Second,
		TransferTimeout: 10 * time.Second,
		LookupTimeout:   5 * time.Second,
		AnswerTimeout:   5 * time.Second,
		SessionTimeout:  15 * time.Second,
		HangupTimeout:   5 * time.Second,
		TranscriptLimit: 20,
		MailboxSize:     128,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	if c.Instructions == "" {
		c.Instructions = realtime.DefaultInstructions
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.TransferDelay < 0 {
		c.TransferDelay = 0
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = d.TransferTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = d.AnswerTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.HangupTimeout <= 0 {
		c.HangupTimeout = d.HangupTimeout
	}
	if c.TranscriptLimit <= 0 {
		c.TranscriptLimit = d.TranscriptLimit
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	return c
}

// Deps are the collaborators shared by all calls.
type Deps struct {
	AI        AIConnector
	Directory *directory.Snapshot
	Records   records.Service
	Registry  Registry
	Publisher events.Publisher
	Events    *events.Builder
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
	// Apology is µ-law audio played when the assistant session is lost.
	Apology []byte
}

func (d Deps) withDefaults() Deps {
	if d.Directory == nil {
		d.Directory = directory.New(nil, nil, nil, nil)
	}
	if d.Publisher == nil {
		d.Publisher = events.NewNoopPublisher()
	}
	if d.Events == nil {
		d.Events = events.NewBuilder("")
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("github.com/sebas/frontdesk/internal/call")
	}
	return d
}

// liveSession is the session handed to the audio fast path once ready.
type liveSession struct {
	session AISession
}

// Call is one phone call. All fields below the mailbox are owned by the
// actor goroutine.
type Call struct {
	id     string
	caller string
	leg    Leg
	cfg    Config
	deps   Deps
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mailbox chan event
	done    chan struct{}
	info    atomic.Pointer[Info]
	live    atomic.Pointer[liveSession]

	emptyFrames atomic.Uint64
	counted     bool

	state    LifecycleState
	reason   TerminateReason
	screen   *screening.Machine
	buffer   *playback.Buffer
	session  AISession
	aiEvents <-chan realtime.Event
	aiReady  bool

	customer   *directory.Customer
	patient    *records.Patient
	dispatcher *intent.Dispatcher

	lookupPending bool
	deferred      []event

	transferTarget intent.Department
	transferTimer  playback.Stopper
	transferHeld   intent.Department // due while a lookup was in flight
	transferring   bool

	currentResponse string
	cancelled       map[string]bool
	lastApology     time.Time
	apology         playback.Playback
	sessionLost     bool

	transcript []Turn

	startedAt  time.Time
	answeredAt time.Time
	endedAt    time.Time

	bargeIns         int
	lookups          int
	playbackFailures int
	audioDropped     uint64
}

// New creates a call for leg. The call does nothing until Start.
func New(leg Leg, cfg Config, deps Deps) *Call {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		id:        leg.ID(),
		caller:    directory.NormalizeNumber(leg.Caller()),
		leg:       leg,
		cfg:       cfg,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		mailbox:   make(chan event, cfg.MailboxSize),
		done:      make(chan struct{}),
		cancelled: make(map[string]bool),
		startedAt: time.Now(),
	}
	c.log = slog.Default().With("call_id", c.id, "caller", c.caller)
	if deps.Records != nil {
		c.dispatcher = intent.NewDispatcher(deps.Records)
	}
	c.buffer = playback.New(cfg.Playback, leg, scheduler{c: c}, c.log)
	c.buffer.OnFailure = func(err error) {
		c.playbackFailures++
		c.deps.Metrics.PlaybackFailure(c.ctx)
	}
	c.publishInfo()
	return c
}

// ID returns the SIP Call-ID.
func (c *Call) ID() string { return c.id }

// Caller returns the normalized caller number.
func (c *Call) Caller() string { return c.caller }

// Done is closed when the call actor has exited.
func (c *Call) Done() <-chan struct{} { return c.done }

// Start subscribes to the leg and runs the actor.
func (c *Call) Start() {
	c.leg.Listen(c)
	go c.run()
	c.post(accepted{})
}

func (c *Call) run() {
	defer close(c.done)
	defer c.cancel()
	defer c.recoverPanic()

	for !c.state.IsTerminal() {
		select {
		case ev := <-c.mailbox:
			c.handle(ev)
		case ev, ok := <-c.aiEvents:
			if !ok {
				c.aiEvents = nil
				c.onSessionClosed()
				break
			}
			c.handleAI(ev)
		}
		c.publishInfo()
	}
}

func (c *Call) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	c.log.Error("[Call] Handler panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("[Call] Cleanup after panic failed", "panic", fmt.Sprint(r))
		}
	}()
	c.terminate(ReasonInternalError, true)
	c.publishInfo()
}

func (c *Call) handle(ev event) {
	switch ev := ev.(type) {
	case accepted:
		c.onCallAccepted()
	case dtmfDigit:
		if c.lookupPending {
			c.deferred = append(c.deferred, ev)
			return
		}
		c.onDTMFDigit(ev.digit)
	case disposed:
		c.onCallDisposed()
	case task:
		ev.fn()
	case lookupDone:
		c.onLookupDone(ev)
	case transferDone:
		c.onTransferDone(ev)
	case hangupCommand:
		c.terminate(ev.reason, true)
		ev.reply <- nil
	case transferCommand:
		ev.reply <- c.onTransferCommand(ev.dept)
	}
}

// OnAudio implements LegListener. It runs on the RTP goroutine.
func (c *Call) OnAudio(frame []byte) {
	if len(frame) == 0 {
		if c.emptyFrames.Add(1)%100 == 1 {
			c.log.Debug("[Call] Dropping empty audio frames", "count", c.emptyFrames.Load())
		}
		return
	}
	if ls := c.live.Load(); ls != nil {
		ls.session.SendAudio(frame)
	}
}

// OnDTMF implements LegListener.
func (c *Call) OnDTMF(digit rune) {
	c.post(dtmfDigit{digit: digit})
}

// OnDisposed implements LegListener.
func (c *Call) OnDisposed() {
	c.cancel()
	c.post(disposed{})
}

// Hangup ends the call on behalf of an operator.
func (c *Call) Hangup(ctx context.Context, reason TerminateReason) error {
	return c.command(ctx, func(reply chan error) event {
		return hangupCommand{reason: reason, reply: reply}
	})
}

// RequestTransfer transfers a verified caller to dept on behalf of an
// operator. The acknowledgement is spoken before transferring.
func (c *Call) RequestTransfer(ctx context.Context, dept intent.Department) error {
	return c.command(ctx, func(reply chan error) event {
		return transferCommand{dept: dept, reply: reply}
	})
}

func (c *Call) command(ctx context.Context, build func(chan error) event) error {
	reply := make(chan error, 1)
	select {
	case c.mailbox <- build(reply):
	case <-c.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		// the actor may exit right after replying
		select {
		case err := <-reply:
			return err
		default:
			return ErrTerminated
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Call) setState(next LifecycleState) {
	if c.state == next {
		return
	}
	if !c.state.CanTransitionTo(next) {
		c.log.Warn("[Call] Invalid state transition", "from", c.state, "to", next)
		return
	}
	c.log.Info("[Call] State changed", "from", c.state, "to", next)
	c.state = next
}

func (c *Call) publish(ev events.Event) {
	c.deps.Publisher.PublishAsync(ev)
}

// say asks the assistant to speak text.
func (c *Call) say(text string) {
	if c.session == nil || c.sessionLost {
		c.log.Debug("[Call] No session to speak through", "text", text)
		return
	}
	if err := c.session.SendText(text); err != nil {
		c.log.Warn("[Call] Failed to send text to assistant", "error", err)
	}
}

func (c *Call) addTurn(speaker, text string) {
	if text == "" {
		return
	}
	c.transcript = append(c.transcript, Turn{Speaker: speaker, Text: text, At: time.Now()})
	if over := len(c.transcript) - c.cfg.TranscriptLimit; over > 0 {
		c.transcript = append(c.transcript[:0:0], c.transcript[over:]...)
	}
}
