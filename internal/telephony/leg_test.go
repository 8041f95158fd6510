package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/frontdesk/internal/media"
	"github.com/sebas/frontdesk/internal/sdp"
	"github.com/sebas/frontdesk/internal/store"
)

func testInvite() *sip.Request {
	req := sip.NewRequest(sip.INVITE, sip.Uri{Scheme: "sip", User: "frontdesk", Host: "10.0.0.1", Port: 5060})

	fromParams := sip.NewParams()
	fromParams.Add("tag", "caller-tag")
	req.AppendHeader(&sip.FromHeader{
		DisplayName: "John Smith",
		Address:     sip.Uri{Scheme: "sip", User: "6505551234", Host: "10.0.0.2"},
		Params:      fromParams,
	})
	req.AppendHeader(&sip.ToHeader{
		Address: sip.Uri{Scheme: "sip", User: "frontdesk", Host: "10.0.0.1"},
		Params:  sip.NewParams(),
	})
	callID := sip.CallIDHeader("call-1")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 7, MethodName: sip.INVITE})

	contactParams := sip.NewParams()
	contactParams.Add("transport", "udp")
	req.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{Scheme: "sip", User: "6505551234", Host: "10.0.0.2", Port: 5062, UriParams: contactParams},
	})
	req.AppendHeader(sip.NewHeader("User-Agent", "TestPhone/1.0"))
	req.SetSource("10.0.0.2:5062")
	return req
}

type sentRequests struct {
	mu   sync.Mutex
	reqs []*sip.Request
	code int
}

func (s *sentRequests) send(_ context.Context, req *sip.Request) (*sip.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	reason := "OK"
	if s.code != 200 {
		reason = "Test"
	}
	return sip.NewResponseFromRequest(req, sip.StatusCode(s.code), reason, nil), nil
}

func (s *sentRequests) last() *sip.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reqs) == 0 {
		return nil
	}
	return s.reqs[len(s.reqs)-1]
}

// answeredLeg returns a leg in the answered state without a SIP transport.
func answeredLeg(t *testing.T, code int) (*Leg, *sentRequests) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot bind loopback UDP: %v", err)
	}

	sent := &sentRequests{code: code}
	srv := &Server{
		cfg: Config{Domain: "pbx.local", AdvertiseAddr: "10.0.0.1"}.withDefaults(),
		contact: sip.ContactHeader{
			Address: sip.Uri{Scheme: "sip", User: "frontdesk", Host: "10.0.0.1", Port: 5060},
		},
		ports:  NewPortPool(30000, 30010),
		legs:   store.NewTTLStore[string, *Leg](time.Minute, nil),
		log:    slog.Default(),
		sender: sent.send,
	}
	t.Cleanup(srv.legs.Close)

	invite := testInvite()
	res := sip.NewResponseFromRequest(invite, sip.StatusOK, "OK", nil)
	res.To().Params.Add("tag", "our-tag")

	ans := sdp.Answer{Codec: media.CodecPCMU, DTMF: 101}
	l := newLeg(srv, invite, nil, conn, 30000, conn.LocalAddr(), ans)
	l.inviteResp = res
	l.answered = true
	srv.legs.Set(l.id, l, LegTTL)
	t.Cleanup(func() { l.media.close() })
	return l, sent
}

func TestNewLegDetails(t *testing.T) {
	l, _ := answeredLeg(t, 200)

	if l.ID() != "call-1" {
		t.Errorf("ID() = %q, want call-1", l.ID())
	}
	if l.Caller() != "6505551234" {
		t.Errorf("Caller() = %q, want 6505551234", l.Caller())
	}
	if l.SourceIP() != "10.0.0.2" {
		t.Errorf("SourceIP() = %q, want 10.0.0.2", l.SourceIP())
	}
	if l.UserAgent() != "TestPhone/1.0" {
		t.Errorf("UserAgent() = %q", l.UserAgent())
	}
	if l.Codec() != "PCMU" {
		t.Errorf("Codec() = %q, want PCMU", l.Codec())
	}
}

func TestBuildRequestSwapsDialogIdentity(t *testing.T) {
	l, _ := answeredLeg(t, 200)

	req, err := l.buildRequest(sip.REFER)
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}

	if req.Recipient.Host != "10.0.0.2" || req.Recipient.Port != 5062 {
		t.Errorf("Recipient = %s, want the INVITE contact", req.Recipient.String())
	}
	if tag, _ := req.From().Params.Get("tag"); tag != "our-tag" {
		t.Errorf("From tag = %q, want our-tag", tag)
	}
	if tag, _ := req.To().Params.Get("tag"); tag != "caller-tag" {
		t.Errorf("To tag = %q, want caller-tag", tag)
	}
	if req.To().Address.User != "6505551234" {
		t.Errorf("To user = %q, want the caller", req.To().Address.User)
	}
	if got := string(*req.CallID()); got != "call-1" {
		t.Errorf("Call-ID = %q, want call-1", got)
	}
	if cseq := req.CSeq(); cseq.SeqNo != 8 || cseq.MethodName != sip.REFER {
		t.Errorf("CSeq = %d %s, want 8 REFER", cseq.SeqNo, cseq.MethodName)
	}
	if req.Destination() != "10.0.0.2:5062" {
		t.Errorf("Destination() = %q, want the INVITE source", req.Destination())
	}

	next, _ := l.buildRequest(sip.BYE)
	if next.CSeq().SeqNo != 9 {
		t.Errorf("second CSeq = %d, want 9", next.CSeq().SeqNo)
	}
}

func TestTransferSendsRefer(t *testing.T) {
	l, sent := answeredLeg(t, 202)

	if err := l.Transfer(context.Background(), "103"); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	refer := sent.last()
	if refer == nil || refer.Method != sip.REFER {
		t.Fatalf("sent %v, want a REFER", refer)
	}
	if h := refer.GetHeader("Refer-To"); h == nil || h.Value() != "<sip:103@pbx.local>" {
		t.Errorf("Refer-To = %v, want <sip:103@pbx.local>", h)
	}
}

func TestTransferRejected(t *testing.T) {
	l, _ := answeredLeg(t, 603)

	err := l.Transfer(context.Background(), "102")
	var te *TransferError
	if !errors.As(err, &te) {
		t.Fatalf("Transfer() error = %v, want *TransferError", err)
	}
	if te.StatusCode() != 603 || te.Target != "sip:102@pbx.local" {
		t.Errorf("TransferError = %+v", te)
	}
}

func TestTransferBeforeAnswer(t *testing.T) {
	l, _ := answeredLeg(t, 202)
	l.answered = false

	if err := l.Transfer(context.Background(), "102"); !errors.Is(err, ErrNotAnswered) {
		t.Errorf("Transfer() error = %v, want %v", err, ErrNotAnswered)
	}
	if err := l.Hangup(context.Background()); !errors.Is(err, ErrNotAnswered) {
		t.Errorf("Hangup() error = %v, want %v", err, ErrNotAnswered)
	}
}

func TestHangupSendsByeAndReleases(t *testing.T) {
	l, sent := answeredLeg(t, 200)
	rec := &recorder{}
	l.Listen(rec)
	port, _ := l.srv.ports.Allocate()
	l.port = port

	if err := l.Hangup(context.Background()); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if bye := sent.last(); bye == nil || bye.Method != sip.BYE {
		t.Fatalf("sent %v, want a BYE", bye)
	}
	if _, ok := l.srv.legs.Get(l.ID()); ok {
		t.Error("leg still tracked after hangup")
	}
	if l.srv.ports.Allocated() != 0 {
		t.Errorf("Allocated() = %d, want port released", l.srv.ports.Allocated())
	}
	if rec.disposed != 0 {
		t.Error("local hangup should not report disposal")
	}

	// A second hangup is a no-op.
	if err := l.Hangup(context.Background()); err != nil {
		t.Errorf("second Hangup() error = %v", err)
	}
	if len(sent.reqs) != 1 {
		t.Errorf("sent %d requests, want 1", len(sent.reqs))
	}

	done := make(chan error, 1)
	l.StreamAudio([]byte{0xFF}, func(err error) { done <- err })
	select {
	case err := <-done:
		if !errors.Is(err, ErrLegClosed) {
			t.Errorf("StreamAudio after hangup done(%v), want %v", err, ErrLegClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("done not called")
	}
}

func TestCallerIDFallsBackToDisplayName(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, sip.Uri{Scheme: "sip", Host: "10.0.0.1"})
	req.AppendHeader(&sip.FromHeader{
		DisplayName: "\"Anonymous\"",
		Address:     sip.Uri{Scheme: "sip", Host: "10.0.0.2"},
		Params:      sip.NewParams(),
	})
	if got := callerID(req); got != "Anonymous" {
		t.Errorf("callerID() = %q, want Anonymous", got)
	}
	if got := sourceHost("not-an-address"); got != "not-an-address" {
		t.Errorf("sourceHost() = %q", got)
	}
}
