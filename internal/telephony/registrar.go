package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"
)

// minRefresh keeps refreshes from spinning on tiny granted expiries.
const minRefresh = 10 * time.Second

// RegistrarConfig describes the upstream registration.
type RegistrarConfig struct {
	// Registrar is host[:port] of the registrar.
	Registrar string
	User      string
	Password  string
	Expiry    time.Duration
}

// Registrar keeps our contact registered and refreshes it at half the
// granted expiry.
type Registrar struct {
	cfg     RegistrarConfig
	host    string
	port    int
	contact sip.ContactHeader
	send    func(ctx context.Context, req *sip.Request) (*sip.Response, error)
	log     *slog.Logger

	callID  string
	fromTag string

	mu      sync.Mutex
	cseq    uint32
	expires time.Duration
}

// NewRegistrar creates a registrar client using client for transactions.
func NewRegistrar(client *sipgo.Client, contact sip.ContactHeader, cfg RegistrarConfig) (*Registrar, error) {
	r, err := newRegistrar(contact, cfg)
	if err != nil {
		return nil, err
	}
	r.send = func(ctx context.Context, req *sip.Request) (*sip.Response, error) {
		return sendRequest(ctx, client, req)
	}
	return r, nil
}

func newRegistrar(contact sip.ContactHeader, cfg RegistrarConfig) (*Registrar, error) {
	if cfg.Registrar == "" {
		return nil, errors.New("registrar address is empty")
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = time.Hour
	}
	host, port := cfg.Registrar, 5060
	if h, p, err := net.SplitHostPort(cfg.Registrar); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid registrar port %q: %w", p, err)
		}
		host, port = h, n
	}
	return &Registrar{
		cfg:     cfg,
		host:    host,
		port:    port,
		contact: contact,
		log:     slog.Default().With("registrar", cfg.Registrar),
		callID:  uuid.NewString(),
		fromTag: uuid.NewString()[:8],
	}, nil
}

// Register sends one REGISTER, answering a digest challenge once, and
// returns the granted expiry.
func (r *Registrar) Register(ctx context.Context) (time.Duration, error) {
	return r.register(ctx, r.cfg.Expiry)
}

// Unregister removes our binding.
func (r *Registrar) Unregister(ctx context.Context) error {
	_, err := r.register(ctx, 0)
	return err
}

func (r *Registrar) register(ctx context.Context, expiry time.Duration) (time.Duration, error) {
	req := r.newRequest(expiry, "", "")
	res, err := r.send(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("REGISTER to %s: %w", r.cfg.Registrar, err)
	}

	switch res.StatusCode {
	case sip.StatusUnauthorized, sip.StatusProxyAuthRequired:
		authHeaderName, authHeaderRespName := "WWW-Authenticate", "Authorization"
		if res.StatusCode == sip.StatusProxyAuthRequired {
			authHeaderName, authHeaderRespName = "Proxy-Authenticate", "Proxy-Authorization"
		}
		if r.cfg.Password == "" {
			return 0, errors.New("registrar requires auth, but no password was provided")
		}
		h := res.GetHeader(authHeaderName)
		if h == nil {
			return 0, fmt.Errorf("no %s header in %d response", authHeaderName, int(res.StatusCode))
		}
		challenge, err := digest.ParseChallenge(h.Value())
		if err != nil {
			return 0, fmt.Errorf("invalid challenge %q: %w", h.Value(), err)
		}
		cred, err := digest.Digest(challenge, digest.Options{
			Method:   sip.REGISTER.String(),
			URI:      req.Recipient.String(),
			Username: r.cfg.User,
			Password: r.cfg.Password,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to compute digest: %w", err)
		}

		r.log.Debug("[Registrar] Answering challenge", "status", int(res.StatusCode))
		req = r.newRequest(expiry, authHeaderRespName, cred.String())
		if res, err = r.send(ctx, req); err != nil {
			return 0, fmt.Errorf("REGISTER to %s: %w", r.cfg.Registrar, err)
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, &RegistrationError{Registrar: r.cfg.Registrar, SIPCode: int(res.StatusCode), SIPReason: res.Reason}
	}

	granted := grantedExpiry(res, expiry)
	r.mu.Lock()
	r.expires = granted
	r.mu.Unlock()
	r.log.Info("[Registrar] Registered", "user", r.cfg.User, "expires", granted)
	return granted, nil
}

// Run registers, keeps refreshing until ctx is done and then unregisters.
// The first registration must succeed; later failures are retried with
// backoff.
func (r *Registrar) Run(ctx context.Context, granted time.Duration) {
	for {
		wait := max(granted/2, minRefresh)
		select {
		case <-ctx.Done():
			uctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := r.Unregister(uctx); err != nil {
				r.log.Warn("[Registrar] Unregister failed", "error", err)
			}
			return
		case <-time.After(wait):
		}

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = time.Minute
		bo.MaxElapsedTime = 0
		refresh := func() error {
			d, err := r.Register(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			granted = d
			return nil
		}
		notify := func(err error, wait time.Duration) {
			r.log.Warn("[Registrar] Refresh failed, retrying", "error", err, "wait", wait)
		}
		if err := backoff.RetryNotify(refresh, backoff.WithContext(bo, ctx), notify); err != nil {
			// Only a cancelled context ends the retries; unregister next round.
			granted = 0
		}
	}
}

// Expires returns the expiry granted by the last successful REGISTER.
func (r *Registrar) Expires() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expires
}

func (r *Registrar) newRequest(expiry time.Duration, authHeader, authValue string) *sip.Request {
	recipient := sip.Uri{Scheme: "sip", Host: r.host, Port: r.port}
	aor := sip.Uri{Scheme: "sip", User: r.cfg.User, Host: r.host}

	req := sip.NewRequest(sip.REGISTER, recipient)

	fromParams := sip.NewParams()
	fromParams.Add("tag", r.fromTag)
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})

	callID := sip.CallIDHeader(r.callID)
	req.AppendHeader(&callID)

	r.mu.Lock()
	r.cseq++
	seq := r.cseq
	r.mu.Unlock()
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.REGISTER})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	contact := r.contact
	req.AppendHeader(&contact)
	exp := sip.ExpiresHeader(uint32(expiry / time.Second))
	req.AppendHeader(&exp)

	if authHeader != "" {
		req.AppendHeader(sip.NewHeader(authHeader, authValue))
	}
	return req
}

// grantedExpiry reads the expiry from the Contact parameter or the Expires
// header of a 2xx, falling back to the requested value.
func grantedExpiry(res *sip.Response, requested time.Duration) time.Duration {
	if c := res.Contact(); c != nil {
		if v, ok := c.Params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return time.Duration(n) * time.Second
			}
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(h.Value()); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return requested
}
