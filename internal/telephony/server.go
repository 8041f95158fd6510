// Package telephony is the SIP user agent server that turns inbound INVITEs
// into call legs with a single RTP audio stream.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/frontdesk/internal/admission"
	"github.com/sebas/frontdesk/internal/call"
	"github.com/sebas/frontdesk/internal/observability"
	"github.com/sebas/frontdesk/internal/sdp"
	"github.com/sebas/frontdesk/internal/store"
)

const (
	// LegTTL bounds how long an unreleased leg is tracked.
	LegTTL = 4 * time.Hour
	// requestTimeout bounds in-dialog requests sent without a deadline.
	requestTimeout   = 5 * time.Second
	legSweepInterval = 30 * time.Second

	allowedMethods = "INVITE, ACK, BYE, CANCEL, OPTIONS, NOTIFY, REFER"
)

// Config holds the SIP and RTP settings of the server.
type Config struct {
	BindAddr      string
	Port          int
	AdvertiseAddr string
	// Domain is the host part of transfer targets.
	Domain string
	// User is the user part of our Contact.
	User string

	RTPPortMin int
	RTPPortMax int

	// Metrics counts admission denials; nil records nothing.
	Metrics *observability.Metrics
}

func (c Config) withDefaults() Config {
	if c.BindAddr == "" {
		c.BindAddr = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 5060
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = "127.0.0.1"
	}
	if c.Domain == "" {
		c.Domain = c.AdvertiseAddr
	}
	if c.User == "" {
		c.User = "frontdesk"
	}
	if c.RTPPortMin == 0 && c.RTPPortMax == 0 {
		c.RTPPortMin, c.RTPPortMax = 10000, 20000
	}
	return c
}

// Handler receives answered-to-be legs.
type Handler interface {
	HandleCall(leg call.Leg) *call.Call
}

// Server accepts inbound calls.
type Server struct {
	cfg       Config
	ua        *sipgo.UserAgent
	srv       *sipgo.Server
	client    *sipgo.Client
	dialogUA  *sipgo.DialogUA
	contact   sip.ContactHeader
	ports     *PortPool
	admission *admission.Controller
	handler   Handler
	legs      *store.TTLStore[string, *Leg]
	log       *slog.Logger

	// sender runs in-dialog client transactions.
	sender func(ctx context.Context, req *sip.Request) (*sip.Response, error)
}

// NewServer creates the user agent and registers the request handlers.
// adm may be nil to admit every caller.
func NewServer(cfg Config, handler Handler, adm *admission.Controller) (*Server, error) {
	cfg = cfg.withDefaults()

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	uas, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	uac, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   cfg.User,
			Host:   cfg.AdvertiseAddr,
			Port:   cfg.Port,
		},
	}

	s := &Server{
		cfg:    cfg,
		ua:     ua,
		srv:    uas,
		client: uac,
		dialogUA: &sipgo.DialogUA{
			Client:     uac,
			ContactHDR: contact,
		},
		contact:   contact,
		ports:     NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax),
		admission: adm,
		handler:   handler,
		log:       slog.Default(),
	}
	s.sender = func(ctx context.Context, req *sip.Request) (*sip.Response, error) {
		return sendRequest(ctx, uac, req)
	}
	s.legs = store.NewTTLStore(legSweepInterval, func(id string, l *Leg) {
		s.log.Warn("[SIP] Leg expired", "call_id", id)
		go l.teardown(true)
	})

	uas.OnRequest(sip.INVITE, s.handleInvite)
	uas.OnRequest(sip.ACK, s.handleAck)
	uas.OnRequest(sip.BYE, s.handleBye)
	uas.OnRequest(sip.CANCEL, s.handleCancel)
	uas.OnRequest(sip.NOTIFY, s.handleNotify)
	uas.OnRequest(sip.OPTIONS, s.handleOptions)

	s.log.Info("[SIP] Handlers registered", "methods", allowedMethods)
	return s, nil
}

// Start serves SIP over UDP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listenAddr := net.JoinHostPort(s.cfg.BindAddr, strconv.Itoa(s.cfg.Port))
	s.log.Info("[SIP] Starting server", "listen_addr", listenAddr, "advertise", s.cfg.AdvertiseAddr)

	if err := s.srv.ListenAndServe(ctx, "udp", listenAddr); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to bind SIP port %d: %w", s.cfg.Port, err)
	}
	return nil
}

// Client returns the SIP client sharing the server transport.
func (s *Server) Client() *sipgo.Client { return s.client }

// Contact returns our Contact header.
func (s *Server) Contact() sip.ContactHeader { return s.contact }

// ActiveLegs returns the number of tracked legs.
func (s *Server) ActiveLegs() int { return s.legs.Len() }

// Close tears down the remaining legs and the user agent.
func (s *Server) Close() error {
	for _, l := range s.legs.Values() {
		l.teardown(true)
	}
	s.legs.Close()
	if s.ua != nil {
		return s.ua.Close()
	}
	return nil
}

func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if req.CallID() == nil || *req.CallID() == "" {
		res := sip.NewResponseFromRequest(req, sip.StatusCode(400), "Missing Call-ID", nil)
		_ = tx.Respond(res)
		return
	}
	callID := string(*req.CallID())
	log := s.log.With("call_id", callID)

	if _, exists := s.legs.Get(callID); exists {
		log.Warn("[SIP] Duplicate INVITE ignored")
		return
	}
	log.Info("[SIP] Received INVITE", "from", req.From(), "to", req.To(), "source", req.Source())

	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		log.Error("[SIP] Failed to send 100 Trying", "error", err)
		return
	}

	caller := callerID(req)
	if !s.admission.Allow(caller) {
		log.Warn("[SIP] Caller over admission limit", "caller", caller)
		s.cfg.Metrics.AdmissionDenied(context.Background())
		busy := sip.NewResponseFromRequest(req, sip.StatusBusyHere, "Busy Here", nil)
		_ = tx.Respond(busy)
		return
	}

	offer, err := sdp.ParseOffer(req.Body())
	if err != nil {
		log.Warn("[SIP] Invalid SDP offer", "error", err)
		s.notAcceptable(req, tx, "Not Acceptable Here - invalid SDP")
		return
	}
	ans, err := offer.Negotiate()
	if err != nil {
		log.Warn("[SIP] No common codec", "formats", offer.Formats)
		s.notAcceptable(req, tx, "Not Acceptable Here - "+err.Error())
		return
	}
	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(offer.Addr, strconv.Itoa(offer.Port)))
	if err != nil {
		log.Warn("[SIP] Unresolvable media address", "addr", offer.Addr, "error", err)
		s.notAcceptable(req, tx, "Not Acceptable Here - bad media address")
		return
	}

	conn, port, err := s.ports.Listen(s.cfg.BindAddr)
	if err != nil {
		log.Error("[SIP] RTP allocation failed", "error", err)
		unavailable := sip.NewResponseFromRequest(req, sip.StatusCode(503), "Service Unavailable", nil)
		_ = tx.Respond(unavailable)
		return
	}

	leg := newLeg(s, req, tx, conn, port, remote, ans)
	if !s.legs.SetIfAbsent(callID, leg, LegTTL) {
		leg.teardown(false)
		return
	}
	log.Info("[SIP] Leg created", "caller", caller, "codec", ans.Codec.Name, "dtmf_pt", ans.DTMF, "rtp_port", port, "remote_media", remote.String())

	if s.handler == nil || s.handler.HandleCall(leg) == nil {
		// The handler declines legs it does not take.
		if !leg.closed.Load() {
			leg.reject(503, "Service Unavailable")
		}
	}
}

func (s *Server) notAcceptable(req *sip.Request, tx sip.ServerTransaction, reason string) {
	res := sip.NewResponseFromRequest(req, sip.StatusCode(488), reason, nil)
	if err := tx.Respond(res); err != nil {
		s.log.Error("[SIP] Failed to send 488", "error", err)
	}
}

func (s *Server) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	if leg, ok := s.lookup(req); ok {
		leg.confirm(req, tx)
	}
}

func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	leg, ok := s.lookup(req)
	if !ok {
		res := sip.NewResponseFromRequest(req, sip.StatusCode(481), "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(res)
		return
	}
	leg.remoteBye(req, tx)
}

func (s *Server) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	leg, ok := s.lookup(req)
	if !ok {
		res := sip.NewResponseFromRequest(req, sip.StatusCode(481), "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(res)
		return
	}
	leg.remoteCancel(req, tx)
}

// handleNotify acknowledges REFER progress reports.
func (s *Server) handleNotify(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		s.log.Warn("[SIP] Failed to respond to NOTIFY", "error", err)
	}
	event := ""
	if h := req.GetHeader("Event"); h != nil {
		event = h.Value()
	}
	s.log.Info("[SIP] NOTIFY received", "call_id", callIDOf(req), "event", event, "body", string(req.Body()))
}

func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", allowedMethods))
	if err := tx.Respond(res); err != nil {
		s.log.Warn("[SIP] Failed to respond to OPTIONS", "error", err)
	}
}

func (s *Server) lookup(req *sip.Request) (*Leg, bool) {
	id := callIDOf(req)
	if id == "" {
		return nil, false
	}
	leg, ok := s.legs.Get(id)
	if !ok {
		s.log.Debug("[SIP] Request for unknown call", "method", req.Method.String(), "call_id", id)
	}
	return leg, ok
}

func (s *Server) forget(l *Leg) {
	if cur, ok := s.legs.Get(l.id); ok && cur == l {
		s.legs.Delete(l.id)
	}
	s.ports.Release(l.port)
}

func (s *Server) send(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	return s.sender(ctx, req)
}

// sendRequest runs a client transaction and returns the final response.
func sendRequest(ctx context.Context, client *sipgo.Client, req *sip.Request) (*sip.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	tx, err := client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tx.Done():
			return nil, errors.New("transaction terminated without response")
		case res := <-tx.Responses():
			if res == nil {
				return nil, errors.New("transaction terminated without response")
			}
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		}
	}
}

func callIDOf(req *sip.Request) string {
	if req.CallID() == nil {
		return ""
	}
	return string(*req.CallID())
}
