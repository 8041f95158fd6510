// Package api is the operational HTTP API: health, stats, live calls and
// operator commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	types "github.com/sebas/frontdesk/api/types/v1"
	"github.com/sebas/frontdesk/internal/call"
	"github.com/sebas/frontdesk/internal/intent"
	"github.com/sebas/frontdesk/internal/registry"
)

// commandTimeout bounds operator commands waiting on a call actor.
const commandTimeout = 5 * time.Second

// CallRegistry exposes the live calls.
// Implemented by registry.Registry.
type CallRegistry interface {
	List() []call.Info
	Info(id string) (call.Info, error)
	Count() int
	Transfer(ctx context.Context, id string, dept intent.Department) error
	Hangup(ctx context.Context, id string) error
}

// LegCounter reports the SIP legs held by the telephony server.
// Implemented by telephony.Server.
type LegCounter interface {
	ActiveLegs() int
}

// AdmissionTracker reports the callers tracked by admission control.
// Implemented by admission.Controller.
type AdmissionTracker interface {
	Tracked() int
}

// Config configures the API server.
type Config struct {
	Addr string
	// JWTSecret enables HS256 bearer authentication when set.
	JWTSecret       string
	NodeID          string
	ScreeningPolicy string
}

// Server provides the HTTP API (headless, API only).
type Server struct {
	cfg        Config
	httpServer *http.Server
	handler    http.Handler
	calls      CallRegistry
	legs       LegCounter
	admission  AdmissionTracker
	startTime  time.Time
	log        *slog.Logger
}

// NewServer creates a new API server. legs and admission may be nil.
func NewServer(cfg Config, calls CallRegistry, legs LegCounter, admission AdmissionTracker) *Server {
	s := &Server{
		cfg:       cfg,
		calls:     calls,
		legs:      legs,
		admission: admission,
		startTime: time.Now(),
		log:       slog.Default(),
	}

	mux := http.NewServeMux()

	// Health and stats
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	// Calls
	mux.HandleFunc("/api/v1/calls", s.handleCalls)
	mux.HandleFunc("/api/v1/calls/", s.handleCallByID)

	s.handler = logRequests(NewAuthMiddleware(cfg.JWTSecret)(mux))
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed and authenticated handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. Bind errors are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("[API] Starting HTTP API server", "addr", ln.Addr().String(), "auth", s.cfg.JWTSecret != "")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, types.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
		NodeID: s.cfg.NodeID,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	byState := make(map[string]int)
	for _, info := range s.calls.List() {
		byState[info.State.String()]++
	}
	response := types.StatsResponse{
		ActiveCalls:     s.calls.Count(),
		CallsByState:    byState,
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
		ScreeningPolicy: s.cfg.ScreeningPolicy,
	}
	if s.legs != nil {
		response.ActiveLegs = s.legs.ActiveLegs()
	}
	if s.admission != nil {
		response.TrackedCallers = s.admission.Tracked()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// --- Calls ---

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	infos := s.calls.List()
	response := make([]types.Call, 0, len(infos))
	for _, info := range infos {
		response = append(response, toCall(info, false))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleCallByID serves /api/v1/calls/{id}, /api/v1/calls/{id}/transfer
// and /api/v1/calls/{id}/hangup.
func (s *Server) handleCallByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/calls/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "Call ID required")
		return
	}

	action := ""
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		action = path[idx+1:]
		path = path[:idx]
	}
	// Call-IDs may contain '@' and other reserved characters.
	callID, err := url.PathUnescape(path)
	if err != nil || callID == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid call ID encoding")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.getCall(w, callID)
	case "transfer":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.transferCall(w, r, callID)
	case "hangup":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.hangupCall(w, r, callID)
	default:
		s.writeError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) getCall(w http.ResponseWriter, callID string) {
	info, err := s.calls.Info(callID)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCall(info, true))
}

func (s *Server) transferCall(w http.ResponseWriter, r *http.Request, callID string) {
	var req types.TransferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	dept, ok := intent.ParseDepartment(req.Department)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Unknown department "+strconvQuote(req.Department))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := s.calls.Transfer(ctx, callID, dept); err != nil {
		s.writeCommandError(w, err)
		return
	}

	s.log.Info("[API] Transfer requested", "call_id", callID, "department", dept)
	s.writeJSON(w, http.StatusAccepted, types.ActionResponse{
		CallID:  callID,
		Message: "Transfer to " + string(dept) + " initiated",
	})
}

func (s *Server) hangupCall(w http.ResponseWriter, r *http.Request, callID string) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := s.calls.Hangup(ctx, callID); err != nil {
		s.writeCommandError(w, err)
		return
	}

	s.log.Info("[API] Hangup requested", "call_id", callID)
	s.writeJSON(w, http.StatusOK, types.ActionResponse{
		CallID:  callID,
		Message: "Call ended",
	})
}

// --- Helpers ---

func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, call.ErrTerminated):
		s.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, call.ErrNotActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, call.ErrNoExtension):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "Call did not respond in time")
	default:
		s.log.Error("[API] Command failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, types.ErrorResponse{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("[API] Failed to encode JSON", "error", err)
	}
}

func toCall(info call.Info, withTranscript bool) types.Call {
	c := types.Call{
		CallID:         info.ID,
		Caller:         info.Caller,
		Customer:       info.Customer,
		PatientID:      info.PatientID,
		PatientName:    info.PatientName,
		State:          info.State.String(),
		Screening:      info.Screening,
		Failures:       info.Failures,
		AIReady:        info.AIReady,
		Speaking:       info.Speaking,
		TransferTarget: info.TransferTarget,
		StartedAt:      info.StartedAt.Format(time.RFC3339),
	}
	end := time.Now()
	if !info.AnsweredAt.IsZero() {
		c.AnsweredAt = info.AnsweredAt.Format(time.RFC3339)
	}
	if !info.EndedAt.IsZero() {
		c.EndedAt = info.EndedAt.Format(time.RFC3339)
		end = info.EndedAt
	}
	if !info.StartedAt.IsZero() {
		c.Duration = int(end.Sub(info.StartedAt).Seconds())
	}
	if info.Reason != call.ReasonNone {
		c.Reason = info.Reason.String()
	}
	if withTranscript {
		for _, t := range info.Transcript {
			c.Transcript = append(c.Transcript, types.Turn{
				Speaker: t.Speaker,
				Text:    t.Text,
				At:      t.At.Format(time.RFC3339),
			})
		}
	}
	return c
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
