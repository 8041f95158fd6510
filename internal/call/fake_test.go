package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/realtime"
)

type fakePlayback struct {
	mu      sync.Mutex
	stopped bool
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *fakePlayback) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type stream struct {
	audio    []byte
	done     func(error)
	playback *fakePlayback
}

type fakeLeg struct {
	id     string
	caller string

	answerErr   error
	transferErr error
	// finishStreams completes every playback immediately.
	finishStreams bool

	mu        sync.Mutex
	listener  LegListener
	answered  bool
	declined  bool
	hungUp    bool
	transfers []string
	streams   []*stream
}

func newFakeLeg(caller string) *fakeLeg {
	return &fakeLeg{id: "call-" + caller, caller: caller}
}

func (l *fakeLeg) ID() string     { return l.id }
func (l *fakeLeg) Caller() string { return l.caller }

func (l *fakeLeg) Answer(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.answerErr != nil {
		return l.answerErr
	}
	l.answered = true
	return nil
}

func (l *fakeLeg) Decline(ctx context.Context) error {
	l.mu.Lock()
	l.declined = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLeg) Hangup(ctx context.Context) error {
	l.mu.Lock()
	l.hungUp = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLeg) Transfer(ctx context.Context, extension string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfers = append(l.transfers, extension)
	return l.transferErr
}

func (l *fakeLeg) StreamAudio(audio []byte, done func(error)) playback.Playback {
	s := &stream{audio: audio, done: done, playback: &fakePlayback{}}
	l.mu.Lock()
	l.streams = append(l.streams, s)
	finish := l.finishStreams
	l.mu.Unlock()
	if finish {
		go done(nil)
	}
	return s.playback
}

func (l *fakeLeg) Listen(ln LegListener) {
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
}

func (l *fakeLeg) snapshot() (answered, declined, hungUp bool, transfers []string, streams []*stream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.answered, l.declined, l.hungUp, append([]string(nil), l.transfers...), append([]*stream(nil), l.streams...)
}

type fakeSession struct {
	events chan realtime.Event

	mu      sync.Mutex
	texts   []string
	frames  int
	dropped uint64
	cancels int
	closed  bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan realtime.Event, 64)}
}

func (s *fakeSession) SendAudio(frame []byte) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *fakeSession) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return realtime.ErrClosed
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSession) CancelResponse() error {
	s.mu.Lock()
	s.cancels++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Events() <-chan realtime.Event { return s.events }

func (s *fakeSession) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *fakeSession) saidText(text string) bool {
	for _, t := range s.said() {
		if t == text {
			return true
		}
	}
	return false
}

func (s *fakeSession) counts() (frames, cancels int, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.cancels, s.closed
}

type fakeConnector struct {
	session *fakeSession
	err     error

	mu           sync.Mutex
	opened       int
	instructions string
}

func (f *fakeConnector) Open(ctx context.Context, instructions string) (AISession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	f.instructions = instructions
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeConnector) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

type fakeRegistry struct {
	mu      sync.Mutex
	calls   map[string]*Call
	removed []string
	addErr  error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{calls: make(map[string]*Call)}
}

func (r *fakeRegistry) Add(c *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	r.calls[c.ID()] = c
	return nil
}

func (r *fakeRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
	r.removed = append(r.removed, id)
}

func (r *fakeRegistry) removedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

var errFake = errors.New("fake failure")

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// query runs fn on the call actor and waits for it.
func query(t *testing.T, c *Call, fn func()) {
	t.Helper()
	done := make(chan struct{})
	c.post(task{fn: func() {
		fn()
		close(done)
	}})
	select {
	case <-done:
	case <-c.Done():
		t.Fatal("call ended before query ran")
	case <-time.After(2 * time.Second):
		t.Fatal("query timed out")
	}
}
