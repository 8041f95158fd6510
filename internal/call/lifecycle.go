package call

import (
	"context"
	"time"

	"github.com/sebas/frontdesk/internal/events"
	"github.com/sebas/frontdesk/internal/screening"
)

func (c *Call) onCallAccepted() {
	if c.state != StateRinging {
		return
	}
	c.deps.Metrics.CallStarted(c.ctx)
	c.counted = true

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.AnswerTimeout)
	err := c.leg.Answer(ctx)
	cancel()
	if err != nil {
		c.setupFailed(&SetupError{Stage: StageAnswer, Err: err})
		return
	}
	c.answeredAt = time.Now()

	blocked := c.deps.Directory.IsBlocked(c.caller)
	if cust, ok := c.deps.Directory.Customer(c.caller); ok {
		c.customer = &cust
	}
	c.publish(c.receivedEvent(blocked))
	if blocked {
		c.log.Info("[Call] Blocked caller, hanging up")
		c.terminate(ReasonBlocked, true)
		return
	}

	next := StateActive
	switch {
	case c.cfg.Policy == PolicyVerifyAll:
		c.screen = screening.NewVerified()
		c.publish(c.deps.Events.Verified(c.id, c.caller, events.MethodPolicy, 0))
	case c.customer != nil:
		c.screen = screening.NewVerified()
		c.publish(c.deps.Events.Verified(c.id, c.caller, events.MethodDirectory, 0))
	default:
		c.screen = screening.NewChallenge(screening.GenerateCode(), c.cfg.MaxFailures)
		c.publish(c.deps.Events.Screening(c.id, c.caller, string(c.cfg.Policy), c.cfg.MaxFailures))
		next = StateScreening
	}
	c.log.Info("[Call] Call answered", "screening", c.screen.Status(), "known", c.customer != nil)

	if c.deps.AI == nil {
		c.setupFailed(&SetupError{Stage: StageSession, Err: errNoConnector})
		return
	}
	ctx, cancel = context.WithTimeout(c.ctx, c.cfg.SessionTimeout)
	session, err := c.deps.AI.Open(ctx, c.cfg.Instructions)
	cancel()
	if err != nil {
		c.setupFailed(&SetupError{Stage: StageSession, Err: err})
		return
	}
	if c.ctx.Err() != nil {
		// the caller hung up while the session was opening
		_ = session.Close()
		return
	}
	c.session = session
	c.aiEvents = session.Events()
	c.setState(next)
}

func (c *Call) receivedEvent(blocked bool) events.Event {
	b := c.deps.Events.CallReceived(c.id, c.caller).Blocked(blocked)
	if c.customer != nil {
		b.Customer(c.customer.Name)
	}
	if d, ok := c.leg.(LegDetails); ok {
		b.Source(d.SourceIP()).Codec(d.Codec()).UserAgent(d.UserAgent())
	}
	return b.Build()
}

func (c *Call) setupFailed(err *SetupError) {
	if c.ctx.Err() != nil {
		c.log.Info("[Call] Caller left during setup", "stage", err.Stage)
		return
	}
	c.log.Error("[Call] Call setup failed", "stage", err.Stage, "error", err.Err)
	if err.Stage == StageAnswer {
		c.terminate(ReasonSetupFailed, true)
		return
	}
	c.deps.Metrics.SessionError(c.ctx, true)
	c.endWithApology(ReasonSetupFailed)
}

func (c *Call) onCallDisposed() {
	c.log.Info("[Call] Leg disposed")
	c.terminate(ReasonRemoteHangup, false)
}

func (c *Call) closeSession() {
	c.live.Store(nil)
	c.aiEvents = nil
	if c.session == nil {
		return
	}
	c.audioDropped = c.session.Dropped()
	if err := c.session.Close(); err != nil {
		c.log.Debug("[Call] Error closing assistant session", "error", err)
	}
}

// terminate ends the call once. When hangup is set the leg is released:
// hung up after answer, declined before.
func (c *Call) terminate(reason TerminateReason, hangup bool) {
	if c.state.IsTerminal() {
		return
	}
	last := c.state
	c.setState(StateTerminated)
	c.reason = reason
	c.endedAt = time.Now()

	c.buffer.Interrupt()
	if c.transferTimer != nil {
		c.transferTimer.Stop()
		c.transferTimer = nil
	}
	if c.apology != nil {
		c.apology.Stop()
		c.apology = nil
	}
	c.closeSession()
	c.deferred = nil

	if hangup {
		c.releaseLeg()
	}
	if c.deps.Registry != nil {
		c.deps.Registry.Remove(c.id)
	}

	var talk time.Duration
	if !c.answeredAt.IsZero() {
		talk = c.endedAt.Sub(c.answeredAt)
	}
	if c.counted {
		c.deps.Metrics.CallEnded(context.WithoutCancel(c.ctx), reason.String(), !c.answeredAt.IsZero(), talk)
	}
	c.publish(c.deps.Events.CallEnded(c.id, c.caller).
		Reason(reason.String(), last.String()).
		Durations(talk, c.endedAt.Sub(c.startedAt)).
		Counters(c.failures(), c.bargeIns, c.lookups, c.playbackFailures).
		AudioDropped(c.audioDropped).
		Build())
	c.log.Info("[Call] Call ended", "reason", reason, "last_state", last, "talk", talk.Round(time.Millisecond),
		"audio_dropped", c.audioDropped)
	c.cancel()
}

func (c *Call) releaseLeg() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HangupTimeout)
	defer cancel()

	var err error
	if c.answeredAt.IsZero() {
		err = c.leg.Decline(ctx)
	} else {
		err = c.leg.Hangup(ctx)
	}
	if err != nil {
		c.log.Warn("[Call] Failed to release leg", "error", err)
	}
}

func (c *Call) failures() int {
	if c.screen == nil {
		return 0
	}
	return c.screen.Failures()
}
