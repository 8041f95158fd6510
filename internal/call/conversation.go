package call

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebas/frontdesk/internal/events"
	"github.com/sebas/frontdesk/internal/intent"
	"github.com/sebas/frontdesk/internal/realtime"
	"github.com/sebas/frontdesk/internal/records"
	"github.com/sebas/frontdesk/internal/screening"
)

const (
	speakerCaller = "caller"
	speakerAI     = "ai"

	sourceVoice    = "voice"
	sourceOperator = "operator"

	// apologyInterval limits how often a non-fatal session error makes the
	// assistant apologize.
	apologyInterval = 10 * time.Second
	apologyText     = "Apologize briefly for the interruption and ask the caller to repeat their last request."

	// codeResponseCancelNotActive is reported when a cancel raced the end of
	// the response.
	codeResponseCancelNotActive = "response_cancel_not_active"
)

// userTranscript is a caller utterance queued behind a record lookup.
type userTranscript struct {
	text string
}

func (userTranscript) callEvent() {}

func (c *Call) handleAI(ev realtime.Event) {
	if c.state.IsTerminal() {
		c.log.Debug("[Call] Assistant event after end ignored", "event", realtime.Name(ev))
		return
	}
	switch ev := ev.(type) {
	case realtime.Ready:
		c.onAISessionReady()
	case realtime.SessionCreated:
		c.log.Debug("[Call] Assistant session created", "session_id", ev.ID)
	case realtime.UserTranscript:
		if c.lookupPending {
			c.deferred = append(c.deferred, userTranscript{text: ev.Text})
			return
		}
		c.onUserTranscript(ev.Text)
	case realtime.AITranscript:
		c.addTurn(speakerAI, ev.Text)
	case realtime.AudioDelta:
		c.onAIAudioFragment(ev)
	case realtime.ResponseDone:
		c.onAIResponseDone(ev)
	case realtime.SpeechStarted:
		c.onUserSpeechStarted()
	case realtime.SpeechStopped:
	case realtime.Error:
		c.onSessionError(ev)
	}
}

func (c *Call) onAISessionReady() {
	if c.aiReady {
		return
	}
	c.aiReady = true
	c.live.Store(&liveSession{session: c.session})
	c.log.Info("[Call] Assistant session ready", "screening", c.screen.Status())

	if c.screen.Status() == screening.Challenge {
		c.say(screening.ChallengePrompt(c.screen.Code()))
		return
	}
	if !c.lookupPatient(lookupGreeting) {
		c.say(screening.Greeting(c.greetingName()))
	}
}

func (c *Call) greetingName() string {
	if c.patient != nil && c.patient.Name != "" {
		return c.patient.Name
	}
	if c.customer != nil {
		return c.customer.Name
	}
	return ""
}

func (c *Call) onUserTranscript(text string) {
	c.addTurn(speakerCaller, text)
	c.log.Info("[Call] Caller said", "text", text)

	switch c.state {
	case StateScreening:
		c.handleOutcome(c.screen.CheckTranscript(text), events.MethodVoice)
	case StateActive:
		c.dispatchIntent(text)
	}
}

func (c *Call) onDTMFDigit(digit rune) {
	if c.state != StateScreening {
		c.log.Debug("[Call] Ignoring DTMF outside screening", "digit", string(digit))
		return
	}
	c.handleOutcome(c.screen.EnterDigit(digit), events.MethodKeypad)
}

func (c *Call) handleOutcome(outcome screening.Outcome, method string) {
	switch outcome {
	case screening.Passed:
		c.log.Info("[Call] Caller verified", "method", method)
		c.setState(StateActive)
		c.publish(c.deps.Events.Verified(c.id, c.caller, method, c.screen.Failures()))
		if method == events.MethodKeypad {
			c.say(screening.KeypadSuccessPrompt)
		} else {
			c.say(screening.VoiceSuccessPrompt)
		}
		c.lookupPatient(lookupPatient)
	case screening.Retry:
		c.log.Info("[Call] Screening attempt failed", "method", method, "failures", c.screen.Failures())
		c.deps.Metrics.ScreeningFailure(c.ctx, method)
		c.publish(c.deps.Events.ScreeningFailed(c.id, c.caller, method, c.screen.Failures(), false))
		if method == events.MethodKeypad {
			c.say(screening.KeypadRetryPrompt(c.screen.Code()))
		} else {
			c.say(screening.VoiceRetryPrompt(c.screen.Code()))
		}
	case screening.Exhausted:
		c.log.Warn("[Call] Screening exhausted", "method", method, "failures", c.screen.Failures())
		c.deps.Metrics.ScreeningFailure(c.ctx, method)
		c.publish(c.deps.Events.ScreeningFailed(c.id, c.caller, method, c.screen.Failures(), true))
		c.terminate(ReasonScreeningExhausted, true)
	}
}

func (c *Call) dispatchIntent(text string) {
	d := intent.Classify(text)
	if d.Lookup != intent.None {
		if c.patient == nil || c.dispatcher == nil {
			c.log.Debug("[Call] No patient for lookup", "intent", d.Lookup)
		} else {
			c.lookupIntent(d.Lookup)
		}
	}
	if d.Transfer {
		c.beginTransfer(d.Department, sourceVoice)
	}
}

// lookupPatient resolves the caller against the record service. It reports
// whether a lookup was started.
func (c *Call) lookupPatient(kind lookupKind) bool {
	if c.deps.Records == nil || c.patient != nil {
		return false
	}
	svc, phone := c.deps.Records, c.caller
	c.startLookup(kind, "patient", func(ctx context.Context) lookupDone {
		p, err := svc.PatientByPhone(ctx, phone)
		if errors.Is(err, records.ErrNotFound) {
			err = nil
		}
		return lookupDone{patient: p, err: err}
	})
	return true
}

func (c *Call) lookupIntent(kind intent.Kind) {
	dispatcher, patientID := c.dispatcher, c.patient.ID
	c.startLookup(lookupIntent, kind.String(), func(ctx context.Context) lookupDone {
		text, err := dispatcher.Respond(ctx, kind, patientID)
		return lookupDone{intent: kind, text: text, err: err}
	})
}

func (c *Call) startLookup(kind lookupKind, name string, fn func(context.Context) lookupDone) {
	c.lookupPending = true
	c.lookups++
	parent, timeout, tracer := c.ctx, c.cfg.LookupTimeout, c.deps.Tracer
	go func() {
		ctx, span := tracer.Start(parent, "call.lookup",
			trace.WithAttributes(attribute.String("lookup.kind", name), attribute.String("call.id", c.id)))
		defer span.End()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		res := fn(ctx)
		res.kind = kind
		res.elapsed = time.Since(start)
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
		}
		c.deps.Metrics.Lookup(parent, name, res.elapsed, res.err)
		c.post(res)
	}()
}

func (c *Call) onLookupDone(res lookupDone) {
	c.lookupPending = false
	if res.err != nil {
		c.log.Warn("[Call] Record lookup failed", "error", res.err, "elapsed", res.elapsed)
	} else {
		c.log.Debug("[Call] Record lookup finished", "elapsed", res.elapsed)
	}

	switch res.kind {
	case lookupGreeting, lookupPatient:
		if res.patient != nil {
			c.patient = res.patient
			c.log.Info("[Call] Patient identified", "patient_id", res.patient.ID)
		}
		if res.kind == lookupGreeting {
			c.say(screening.Greeting(c.greetingName()))
		}
	case lookupIntent:
		if c.state != StateActive {
			break
		}
		if res.err != nil {
			c.say(intent.LookupFailedResponse)
			break
		}
		c.say(res.text)
	}
	c.replayDeferred()
	if dept := c.transferHeld; dept != "" && !c.lookupPending {
		c.transferHeld = ""
		c.startTransfer(dept)
	}
}

// replayDeferred handles events held back by a lookup in arrival order. A
// replayed event that starts another lookup leaves the remainder deferred.
func (c *Call) replayDeferred() {
	for len(c.deferred) > 0 && !c.lookupPending && !c.state.IsTerminal() {
		ev := c.deferred[0]
		c.deferred = c.deferred[1:]
		switch ev := ev.(type) {
		case userTranscript:
			c.onUserTranscript(ev.text)
		case dtmfDigit:
			c.onDTMFDigit(ev.digit)
		}
	}
	if len(c.deferred) == 0 {
		c.deferred = nil
	}
}

func (c *Call) onAIAudioFragment(ev realtime.AudioDelta) {
	if ev.ResponseID != "" && c.cancelled[ev.ResponseID] {
		return
	}
	if c.sessionLost {
		return
	}
	c.currentResponse = ev.ResponseID
	c.buffer.Add(ev.Audio)
}

func (c *Call) onAIResponseDone(ev realtime.ResponseDone) {
	if ev.ResponseID != "" && c.cancelled[ev.ResponseID] {
		delete(c.cancelled, ev.ResponseID)
		return
	}
	if ev.ResponseID == c.currentResponse {
		c.currentResponse = ""
	}
	c.buffer.ResponseDone()
}

func (c *Call) onUserSpeechStarted() {
	if !c.buffer.Busy() {
		return
	}
	pending, queued := c.buffer.Pending(), c.buffer.Queued()
	c.log.Info("[Call] Caller barged in", "pending_fragments", pending, "queued_buffers", queued)
	if err := c.session.CancelResponse(); err != nil {
		c.log.Warn("[Call] Failed to cancel response", "error", err)
	}
	if c.currentResponse != "" {
		c.cancelled[c.currentResponse] = true
		c.currentResponse = ""
	}
	c.buffer.Interrupt()
	c.bargeIns++
	c.deps.Metrics.BargeIn(c.ctx)
	c.publish(c.deps.Events.BargeIn(c.id, c.caller, pending, queued))
}

func (c *Call) onSessionError(ev realtime.Error) {
	if ev.Fatal {
		c.log.Error("[Call] Assistant session failed", "type", ev.Type, "message", ev.Message)
		c.deps.Metrics.SessionError(c.ctx, true)
		c.onSessionClosed()
		return
	}
	if ev.Code == codeResponseCancelNotActive {
		c.log.Debug("[Call] Cancel arrived after response finished")
		return
	}
	c.log.Warn("[Call] Assistant session error", "type", ev.Type, "code", ev.Code, "message", ev.Message)
	c.deps.Metrics.SessionError(c.ctx, false)
	if time.Since(c.lastApology) >= apologyInterval {
		c.lastApology = time.Now()
		c.say(apologyText)
	}
}

// onSessionClosed handles loss of the assistant session.
func (c *Call) onSessionClosed() {
	if c.sessionLost || c.state.IsTerminal() {
		return
	}
	c.sessionLost = true
	c.live.Store(nil)
	c.buffer.Interrupt()
	c.closeSession()
	c.endWithApology(ReasonSessionError)
}

// endWithApology plays the recorded apology, when one is configured, and
// then ends the call.
func (c *Call) endWithApology(reason TerminateReason) {
	if len(c.deps.Apology) == 0 || c.answeredAt.IsZero() {
		c.terminate(reason, true)
		return
	}
	c.log.Info("[Call] Playing apology before hangup", "reason", reason)
	c.apology = c.leg.StreamAudio(c.deps.Apology, func(err error) {
		c.post(task{fn: func() {
			if err != nil {
				c.log.Warn("[Call] Apology playback failed", "error", err)
			}
			c.apology = nil
			c.terminate(reason, true)
		}})
	})
}

// beginTransfer acknowledges a transfer request and refers the caller once
// the acknowledgement had time to play.
func (c *Call) beginTransfer(dept intent.Department, source string) {
	if c.transferPending() {
		c.log.Debug("[Call] Transfer already pending", "department", dept)
		return
	}
	ext, _ := c.deps.Directory.Extension(string(dept))
	c.transferTarget = dept
	c.log.Info("[Call] Transfer requested", "department", dept, "extension", ext, "source", source)
	c.publish(c.deps.Events.TransferRequested(c.id, c.caller, string(dept), ext, source))
	c.say(intent.TransferAcknowledgement(dept))

	c.transferTimer = scheduler{c: c}.AfterFunc(c.cfg.TransferDelay, func() {
		c.transferTimer = nil
		if c.lookupPending {
			c.transferHeld = dept
			return
		}
		c.startTransfer(dept)
	})
}

func (c *Call) transferPending() bool {
	return c.transferTimer != nil || c.transferHeld != "" || c.transferring
}

func (c *Call) startTransfer(dept intent.Department) {
	if c.state != StateActive {
		return
	}
	ext, ok := c.deps.Directory.Extension(string(dept))
	if !ok || ext == "" {
		c.onTransferDone(transferDone{dept: dept, err: ErrNoExtension})
		return
	}

	c.transferring = true
	parent, timeout, tracer, leg := c.ctx, c.cfg.TransferTimeout, c.deps.Tracer, c.leg
	go func() {
		ctx, span := tracer.Start(parent, "call.transfer",
			trace.WithAttributes(attribute.String("transfer.department", string(dept)), attribute.String("transfer.extension", ext)))
		defer span.End()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := leg.Transfer(ctx, ext)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.post(transferDone{dept: dept, extension: ext, err: err})
	}()
}

// sipStatus is implemented by telephony errors that carry a SIP response code.
type sipStatus interface {
	StatusCode() int
}

func (c *Call) onTransferDone(res transferDone) {
	c.transferring = false
	c.deps.Metrics.Transfer(c.ctx, string(res.dept), res.err)

	code := 202
	var st sipStatus
	if errors.As(res.err, &st) {
		code = st.StatusCode()
	} else if res.err != nil {
		code = 0
	}
	c.publish(c.deps.Events.CallTransferred(c.id, c.caller, string(res.dept)).
		Target(res.extension).
		Result(code, res.err).
		Build())

	if c.state.IsTerminal() {
		return
	}
	if res.err != nil {
		c.log.Warn("[Call] Transfer failed", "department", res.dept, "extension", res.extension, "error", res.err)
		c.transferTarget = ""
		c.say(intent.TransferFailedResponse)
		return
	}
	c.log.Info("[Call] Call transferred", "department", res.dept, "extension", res.extension)
	c.setState(StateTransferring)
	c.terminate(ReasonTransferred, true)
}

func (c *Call) onTransferCommand(dept intent.Department) error {
	if c.state.IsTerminal() {
		return ErrTerminated
	}
	if c.state != StateActive || c.transferPending() {
		return ErrNotActive
	}
	if ext, ok := c.deps.Directory.Extension(string(dept)); !ok || ext == "" {
		return ErrNoExtension
	}
	c.beginTransfer(dept, sourceOperator)
	return nil
}
