package call

import "time"

// Turn is one utterance of the conversation.
type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Info is an immutable snapshot of a call, refreshed by the actor after
// every event.
type Info struct {
	ID             string
	Caller         string
	Customer       string
	PatientID      string
	PatientName    string
	State          LifecycleState
	Screening      string
	Failures       int
	AIReady        bool
	Speaking       bool
	TransferTarget string
	StartedAt      time.Time
	AnsweredAt     time.Time
	EndedAt        time.Time
	Reason         TerminateReason
	Transcript     []Turn
}

// Info returns the latest snapshot. It is safe to call from any goroutine.
func (c *Call) Info() Info {
	return *c.info.Load()
}

// State returns the lifecycle state of the latest snapshot.
func (c *Call) State() LifecycleState {
	return c.info.Load().State
}

func (c *Call) publishInfo() {
	info := &Info{
		ID:             c.id,
		Caller:         c.caller,
		State:          c.state,
		Failures:       c.failures(),
		AIReady:        c.aiReady && !c.sessionLost,
		Speaking:       c.buffer.Speaking(),
		TransferTarget: string(c.transferTarget),
		StartedAt:      c.startedAt,
		AnsweredAt:     c.answeredAt,
		EndedAt:        c.endedAt,
		Reason:         c.reason,
		Transcript:     append([]Turn(nil), c.transcript...),
	}
	if c.customer != nil {
		info.Customer = c.customer.Name
	}
	if c.patient != nil {
		info.PatientID = c.patient.ID
		info.PatientName = c.patient.Name
	}
	if c.screen != nil {
		info.Screening = c.screen.Status().String()
	}
	c.info.Store(info)
}
