// Package types defines the JSON bodies of the operational API.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
	NodeID string `json:"node_id,omitempty"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	ActiveCalls     int            `json:"active_calls"`
	CallsByState    map[string]int `json:"calls_by_state"`
	ActiveLegs      int            `json:"active_legs"`
	TrackedCallers  int            `json:"tracked_callers"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
	ScreeningPolicy string         `json:"screening_policy,omitempty"`
}

// Turn is one utterance of a call transcript.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	At      string `json:"at"`
}

// Call is a live or recently ended call.
type Call struct {
	CallID         string `json:"call_id"`
	Caller         string `json:"caller"`
	Customer       string `json:"customer,omitempty"`
	PatientID      string `json:"patient_id,omitempty"`
	PatientName    string `json:"patient_name,omitempty"`
	State          string `json:"state"`
	Screening      string `json:"screening"`
	Failures       int    `json:"failures"`
	AIReady        bool   `json:"ai_ready"`
	Speaking       bool   `json:"speaking"`
	TransferTarget string `json:"transfer_target,omitempty"`
	StartedAt      string `json:"started_at"`
	AnsweredAt     string `json:"answered_at,omitempty"`
	EndedAt        string `json:"ended_at,omitempty"`
	Duration       int    `json:"duration"`
	Reason         string `json:"reason,omitempty"`
	Transcript     []Turn `json:"transcript,omitempty"`
}

// TransferRequest is the body of POST /api/v1/calls/{id}/transfer
type TransferRequest struct {
	Department string `json:"department"`
}

// ActionResponse acknowledges an operator command.
type ActionResponse struct {
	CallID  string `json:"call_id"`
	Message string `json:"message"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
