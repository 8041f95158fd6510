package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/frontdesk/internal/call"
	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/sdp"
)

var (
	_ call.Leg        = (*Leg)(nil)
	_ call.LegDetails = (*Leg)(nil)
)

// Leg is one inbound SIP call with its RTP stream.
type Leg struct {
	id        string
	caller    string
	userAgent string
	sourceIP  string
	port      int
	answer    sdp.Answer

	invite *sip.Request
	tx     sip.ServerTransaction
	srv    *Server
	media  *rtpStream
	log    *slog.Logger

	mu         sync.Mutex
	session    *sipgo.DialogServerSession
	inviteResp *sip.Response
	answered   bool
	listener   call.LegListener
	localCSeq  atomic.Uint32
	closed     atomic.Bool
	once       sync.Once
}

func newLeg(srv *Server, req *sip.Request, tx sip.ServerTransaction, conn net.PacketConn, port int, remote net.Addr, ans sdp.Answer) *Leg {
	id := string(*req.CallID())
	log := slog.Default().With("call_id", id)

	l := &Leg{
		id:       id,
		caller:   callerID(req),
		sourceIP: sourceHost(req.Source()),
		port:     port,
		answer:   ans,
		invite:   req,
		tx:       tx,
		srv:      srv,
		media:    newRTPStream(conn, remote, ans, log),
		log:      log,
	}
	if ua := req.GetHeader("User-Agent"); ua != nil {
		l.userAgent = ua.Value()
	}
	if cseq := req.CSeq(); cseq != nil {
		l.localCSeq.Store(cseq.SeqNo)
	}
	return l
}

// ID returns the SIP Call-ID.
func (l *Leg) ID() string { return l.id }

// Caller returns the user part of the From URI.
func (l *Leg) Caller() string { return l.caller }

// SourceIP returns the signaling source address of the INVITE.
func (l *Leg) SourceIP() string { return l.sourceIP }

// Codec returns the negotiated audio codec name.
func (l *Leg) Codec() string { return l.answer.Codec.Name }

// UserAgent returns the caller's User-Agent header.
func (l *Leg) UserAgent() string { return l.userAgent }

// Port returns the local RTP port.
func (l *Leg) Port() int { return l.port }

// Listen registers the receiver of audio, DTMF and disposal.
func (l *Leg) Listen(listener call.LegListener) {
	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()
	l.media.setListener(listener)
}

// Answer sends 200 OK with the SDP answer and starts the RTP read loop.
func (l *Leg) Answer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrLegClosed
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.answered {
		return nil
	}

	body, err := sdp.BuildAnswer(l.srv.cfg.AdvertiseAddr, l.port, l.answer)
	if err != nil {
		return fmt.Errorf("failed to build SDP answer: %w", err)
	}
	session, err := l.srv.dialogUA.ReadInvite(l.invite, l.tx)
	if err != nil {
		return fmt.Errorf("failed to create dialog session: %w", err)
	}
	if err := session.RespondSDP(body); err != nil {
		_ = session.Close()
		return fmt.Errorf("failed to send 200 OK: %w", err)
	}
	l.session = session
	l.inviteResp = session.InviteResponse
	l.answered = true
	l.media.start()

	l.log.Info("[Leg] Sent 200 OK", "codec", l.answer.Codec.Name, "rtp_port", l.port)
	return nil
}

// Decline rejects an unanswered call with 603, or hangs up an answered one.
func (l *Leg) Decline(ctx context.Context) error {
	l.mu.Lock()
	answered := l.answered
	l.mu.Unlock()
	if answered {
		return l.Hangup(ctx)
	}
	if l.closed.Load() {
		return nil
	}

	res := sip.NewResponseFromRequest(l.invite, sip.StatusCode(603), "Decline", nil)
	err := l.tx.Respond(res)
	l.teardown(false)
	if err != nil {
		return fmt.Errorf("failed to send 603: %w", err)
	}
	l.log.Info("[Leg] Declined")
	return nil
}

// reject answers the INVITE with code and tears the leg down.
func (l *Leg) reject(code int, reason string) {
	res := sip.NewResponseFromRequest(l.invite, sip.StatusCode(code), reason, nil)
	if err := l.tx.Respond(res); err != nil {
		l.log.Warn("[Leg] Failed to reject INVITE", "status", code, "error", err)
	}
	l.teardown(false)
}

// Hangup sends BYE on an answered call.
func (l *Leg) Hangup(ctx context.Context) error {
	l.mu.Lock()
	answered := l.answered
	l.mu.Unlock()
	if !answered {
		return ErrNotAnswered
	}
	if l.closed.Load() {
		return nil
	}
	defer l.teardown(false)

	bye, err := l.buildRequest(sip.BYE)
	if err != nil {
		return fmt.Errorf("failed to build BYE: %w", err)
	}
	res, err := l.srv.send(ctx, bye)
	if err != nil {
		return fmt.Errorf("failed to send BYE: %w", err)
	}
	l.log.Info("[Leg] BYE sent", "status", int(res.StatusCode))
	return nil
}

// Transfer refers the caller to extension at the configured domain. It
// returns once the REFER has been accepted; call progress NOTIFYs are only
// logged.
func (l *Leg) Transfer(ctx context.Context, extension string) error {
	l.mu.Lock()
	answered := l.answered
	l.mu.Unlock()
	if !answered {
		return ErrNotAnswered
	}
	if l.closed.Load() {
		return ErrLegClosed
	}

	target := fmt.Sprintf("sip:%s@%s", extension, l.srv.cfg.Domain)
	refer, err := l.buildRequest(sip.REFER)
	if err != nil {
		return fmt.Errorf("failed to build REFER: %w", err)
	}
	refer.AppendHeader(sip.NewHeader("Refer-To", "<"+target+">"))
	refer.AppendHeader(sip.NewHeader("Referred-By", "<"+l.srv.contact.Address.String()+">"))

	l.log.Info("[Leg] Sending REFER", "target", target)
	res, err := l.srv.send(ctx, refer)
	if err != nil {
		return fmt.Errorf("REFER to %s: %w", target, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &TransferError{Target: target, SIPCode: int(res.StatusCode), SIPReason: res.Reason}
	}
	l.log.Info("[Leg] REFER accepted", "target", target, "status", int(res.StatusCode))
	return nil
}

// StreamAudio plays µ-law audio to the caller.
func (l *Leg) StreamAudio(audio []byte, done func(error)) playback.Playback {
	if l.closed.Load() {
		if done != nil {
			go done(ErrLegClosed)
		}
		return stopFunc(func() {})
	}
	return l.media.play(audio, done)
}

func (l *Leg) confirm(req *sip.Request, tx sip.ServerTransaction) {
	l.mu.Lock()
	session := l.session
	l.mu.Unlock()
	if session == nil {
		l.log.Warn("[Leg] ACK before answer")
		return
	}
	if err := session.ReadAck(req, tx); err != nil {
		l.log.Warn("[Leg] Failed to read ACK", "error", err)
		return
	}
	l.log.Info("[Leg] Confirmed (ACK received)")
}

func (l *Leg) remoteBye(req *sip.Request, tx sip.ServerTransaction) {
	l.mu.Lock()
	session := l.session
	l.mu.Unlock()

	if session != nil {
		if err := session.ReadBye(req, tx); err != nil {
			l.log.Warn("[Leg] Failed to read BYE", "error", err)
		}
	} else {
		res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		if err := tx.Respond(res); err != nil {
			l.log.Error("[Leg] Failed to respond to BYE", "error", err)
		}
	}
	l.log.Info("[Leg] BYE received")
	l.teardown(true)
}

func (l *Leg) remoteCancel(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		l.log.Error("[Leg] Failed to respond to CANCEL", "error", err)
	}

	l.mu.Lock()
	answered := l.answered
	l.mu.Unlock()
	if !answered {
		terminated := sip.NewResponseFromRequest(l.invite, sip.StatusCode(487), "Request Terminated", nil)
		_ = l.tx.Respond(terminated)
	}
	l.log.Info("[Leg] CANCEL received")
	l.teardown(true)
}

// teardown releases the RTP stream and the port, and reports disposal to
// the listener when the remote side ended the call.
func (l *Leg) teardown(notify bool) {
	l.once.Do(func() {
		l.closed.Store(true)
		l.media.close()

		l.mu.Lock()
		session := l.session
		listener := l.listener
		l.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		l.srv.forget(l)

		if notify && listener != nil {
			listener.OnDisposed()
		}
	})
}

// buildRequest constructs an in-dialog request for the UAS side of the
// dialog: From and To are swapped relative to the INVITE.
func (l *Leg) buildRequest(method sip.RequestMethod) (*sip.Request, error) {
	l.mu.Lock()
	inviteResp := l.inviteResp
	l.mu.Unlock()
	if inviteResp == nil {
		return nil, ErrNotAnswered
	}
	invite := l.invite

	var recipient sip.Uri
	if contact := invite.Contact(); contact != nil {
		recipient = contact.Address
		recipient.UriParams = sip.NewParams()
	} else if from := invite.From(); from != nil {
		recipient = from.Address
	} else {
		return nil, fmt.Errorf("INVITE has neither Contact nor From")
	}

	req := sip.NewRequest(method, recipient)
	if len(invite.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", invite, req)
	}

	if to := inviteResp.To(); to != nil {
		req.AppendHeader(&sip.FromHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params.Clone(),
		})
	}
	if from := invite.From(); from != nil {
		req.AppendHeader(&sip.ToHeader{
			DisplayName: from.DisplayName,
			Address:     from.Address,
			Params:      from.Params.Clone(),
		})
	}
	if callID := invite.CallID(); callID != nil {
		req.AppendHeader(callID)
	}
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      l.localCSeq.Add(1),
		MethodName: method,
	})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	contact := l.srv.contact
	req.AppendHeader(&contact)

	// Send back to where the INVITE came from so NATed callers are reachable.
	if src := invite.Source(); src != "" {
		req.SetDestination(src)
	}
	return req, nil
}

func callerID(req *sip.Request) string {
	from := req.From()
	if from == nil {
		return ""
	}
	if from.Address.User != "" {
		return from.Address.User
	}
	return strings.Trim(from.DisplayName, "\"")
}

func sourceHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
