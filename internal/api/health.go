package api

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "frontdesk"

// HealthServer serves grpc.health.v1 for load balancers and orchestrators.
type HealthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	ln     net.Listener
}

// NewHealthServer creates a gRPC health server reporting NOT_SERVING until
// SetServing is called.
func NewHealthServer(addr string) *HealthServer {
	h := &HealthServer{
		addr:   addr,
		server: grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.SetServing(false)
	return h
}

// SetServing flips both the overall and the frontdesk service status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.ln = ln
	slog.Info("[gRPC] Health server listening", "addr", ln.Addr().String())
	go func() {
		if err := h.server.Serve(ln); err != nil {
			slog.Error("[gRPC] Health server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	if h.ln != nil {
		return h.ln.Addr().String()
	}
	return h.addr
}

// Stop marks the service NOT_SERVING and drains in-flight RPCs.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
