package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebas/frontdesk/internal/call"
	"github.com/sebas/frontdesk/internal/intent"
	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/realtime"
)

type nopPlayback struct{}

func (nopPlayback) Stop() {}

type testLeg struct {
	id string

	mu     sync.Mutex
	hungUp bool
}

func (l *testLeg) ID() string                                        { return l.id }
func (l *testLeg) Caller() string                                    { return "4155550100" }
func (l *testLeg) Answer(context.Context) error                      { return nil }
func (l *testLeg) Decline(context.Context) error                     { return nil }
func (l *testLeg) Transfer(context.Context, string) error            { return nil }
func (l *testLeg) Listen(call.LegListener)                           {}
func (l *testLeg) StreamAudio([]byte, func(error)) playback.Playback { return nopPlayback{} }

func (l *testLeg) Hangup(context.Context) error {
	l.mu.Lock()
	l.hungUp = true
	l.mu.Unlock()
	return nil
}

type testSession struct {
	events chan realtime.Event
}

func (s *testSession) SendAudio([]byte)              {}
func (s *testSession) SendText(string) error         { return nil }
func (s *testSession) CancelResponse() error         { return nil }
func (s *testSession) Events() <-chan realtime.Event { return s.events }
func (s *testSession) Dropped() uint64               { return 0 }
func (s *testSession) Close() error                  { return nil }

type testConnector struct{}

func (testConnector) Open(context.Context, string) (call.AISession, error) {
	return &testSession{events: make(chan realtime.Event)}, nil
}

func startCall(t *testing.T, r *Registry, id string) *call.Call {
	t.Helper()
	m := call.NewManager(call.Config{Policy: call.PolicyVerifyAll}, call.Deps{AI: testConnector{}, Registry: r})
	c := m.HandleCall(&testLeg{id: id})
	if c == nil {
		t.Fatalf("HandleCall(%s) = nil", id)
	}
	waitFor(t, func() bool { return c.State() == call.StateActive })
	t.Cleanup(func() {
		_ = c.Hangup(context.Background(), call.ReasonShutdown)
		<-c.Done()
	})
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestRegistryLifecycle(t *testing.T) {
	r := New(time.Hour)
	defer r.Close()

	a := startCall(t, r, "a")
	startCall(t, r, "b")

	if got := r.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	list := r.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("List() = %+v, want a then b", list)
	}
	if got, err := r.Get("a"); err != nil || got != a {
		t.Errorf("Get(a) = %v, %v", got, err)
	}
	if err := r.Add(a); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Add(duplicate) = %v, want %v", err, ErrDuplicate)
	}

	if err := r.Hangup(context.Background(), "a"); err != nil {
		t.Fatalf("Hangup(a) error = %v", err)
	}
	<-a.Done()
	if got := a.Info().Reason; got != call.ReasonOperatorHangup {
		t.Errorf("Reason = %v, want %v", got, call.ReasonOperatorHangup)
	}
	if _, err := r.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(a) after hangup = %v, want %v", err, ErrNotFound)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestUnknownCall(t *testing.T) {
	r := New(time.Hour)
	defer r.Close()

	ctx := context.Background()
	if err := r.Hangup(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Hangup() = %v, want %v", err, ErrNotFound)
	}
	if err := r.Transfer(ctx, "missing", intent.DepartmentBilling); !errors.Is(err, ErrNotFound) {
		t.Errorf("Transfer() = %v, want %v", err, ErrNotFound)
	}
	if _, err := r.Info("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Info() = %v, want %v", err, ErrNotFound)
	}
}

func TestTransferWithoutExtension(t *testing.T) {
	r := New(time.Hour)
	defer r.Close()
	startCall(t, r, "t")

	if err := r.Transfer(context.Background(), "t", intent.DepartmentBilling); !errors.Is(err, call.ErrNoExtension) {
		t.Errorf("Transfer() = %v, want %v", err, call.ErrNoExtension)
	}
}

func TestOverdueCallsAreHungUp(t *testing.T) {
	r := newRegistry(30*time.Millisecond, 5*time.Millisecond)
	defer r.Close()

	c := startCall(t, r, "long")
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("overdue call was not ended")
	}
	if got := c.Info().Reason; got != call.ReasonMaxDuration {
		t.Errorf("Reason = %v, want %v", got, call.ReasonMaxDuration)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestHangupAll(t *testing.T) {
	r := New(time.Hour)
	defer r.Close()
	calls := []*call.Call{startCall(t, r, "x"), startCall(t, r, "y")}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.HangupAll(ctx); err != nil {
		t.Fatalf("HangupAll() error = %v", err)
	}
	for _, c := range calls {
		if got := c.Info().Reason; got != call.ReasonShutdown {
			t.Errorf("%s Reason = %v, want %v", c.ID(), got, call.ReasonShutdown)
		}
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}
