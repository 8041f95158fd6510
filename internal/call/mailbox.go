package call

import (
	"time"

	"github.com/sebas/frontdesk/internal/intent"
	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/records"
)

// event is an entry of the call mailbox. The set of implementations is
// closed.
type event interface {
	callEvent()
}

type accepted struct{}

type dtmfDigit struct {
	digit rune
}

type disposed struct{}

// task runs fn on the actor. Timers and playback completions use it.
type task struct {
	fn func()
}

type lookupKind int

const (
	lookupGreeting lookupKind = iota
	lookupPatient
	lookupIntent
)

type lookupDone struct {
	kind    lookupKind
	intent  intent.Kind
	patient *records.Patient
	text    string
	err     error
	elapsed time.Duration
}

type transferDone struct {
	dept      intent.Department
	extension string
	err       error
}

type hangupCommand struct {
	reason TerminateReason
	reply  chan error
}

type transferCommand struct {
	dept  intent.Department
	reply chan error
}

func (accepted) callEvent()        {}
func (dtmfDigit) callEvent()       {}
func (disposed) callEvent()        {}
func (task) callEvent()            {}
func (lookupDone) callEvent()      {}
func (transferDone) callEvent()    {}
func (hangupCommand) callEvent()   {}
func (transferCommand) callEvent() {}

// post delivers ev to the actor, or drops it once the actor has exited.
func (c *Call) post(ev event) {
	select {
	case c.mailbox <- ev:
	case <-c.done:
	}
}

// scheduler runs playback callbacks on the call actor.
type scheduler struct {
	c *Call
}

var _ playback.Scheduler = scheduler{}

func (s scheduler) Post(fn func()) {
	s.c.post(task{fn: fn})
}

func (s scheduler) AfterFunc(d time.Duration, fn func()) playback.Stopper {
	return time.AfterFunc(d, func() { s.c.post(task{fn: fn}) })
}
