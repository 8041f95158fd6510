// Package app wires the front desk together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sebas/frontdesk/internal/admission"
	"github.com/sebas/frontdesk/internal/api"
	"github.com/sebas/frontdesk/internal/banner"
	"github.com/sebas/frontdesk/internal/call"
	"github.com/sebas/frontdesk/internal/config"
	"github.com/sebas/frontdesk/internal/directory"
	"github.com/sebas/frontdesk/internal/events"
	"github.com/sebas/frontdesk/internal/media"
	"github.com/sebas/frontdesk/internal/observability"
	"github.com/sebas/frontdesk/internal/playback"
	"github.com/sebas/frontdesk/internal/realtime"
	"github.com/sebas/frontdesk/internal/records"
	"github.com/sebas/frontdesk/internal/registry"
	"github.com/sebas/frontdesk/internal/telephony"
)

// Version is reported in telemetry resources.
var Version = "dev"

// FrontDesk is the running service.
type FrontDesk struct {
	config    *config.Config
	telemetry *observability.Provider
	records   records.Service
	closers   []io.Closer
	publisher events.Publisher
	registry  *registry.Registry
	admission *admission.Controller
	sip       *telephony.Server
	registrar *telephony.Registrar
	apiServer *api.Server
	health    *api.HealthServer
}

// New builds every component. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config) (*FrontDesk, error) {
	fd := &FrontDesk{config: cfg}
	ok := false
	defer func() {
		if !ok {
			fd.closeAll(context.Background())
		}
	}()

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = Version
	obsCfg.NodeID = cfg.NodeID
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	telemetry, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	fd.telemetry = telemetry
	metrics, err := observability.NewMetrics(telemetry.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	dir, err := directory.Load(directory.Paths{
		Customers:   cfg.CustomersPath,
		Agents:      cfg.AgentsPath,
		Blocklist:   cfg.BlocklistPath,
		Departments: cfg.DepartmentsPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load directories: %w", err)
	}

	backend, err := fd.openRecords(ctx)
	if err != nil {
		return nil, err
	}
	fd.records = records.NewTraced(records.NewRetrying(backend, records.RetryConfig{}))

	if fd.publisher, err = fd.openPublisher(ctx); err != nil {
		return nil, err
	}

	var apology []byte
	if cfg.ApologyPromptPath != "" {
		if apology, err = media.LoadPrompt(cfg.ApologyPromptPath); err != nil {
			slog.Warn("[App] Apology prompt unavailable, calls will hang up without it",
				"path", cfg.ApologyPromptPath, "error", err)
			apology = nil
		}
	}

	fd.registry = registry.New(cfg.MaxCallDuration)
	manager := call.NewManager(call.Config{
		Policy: call.ScreeningPolicy(cfg.ScreeningPolicy),
		Playback: playback.Config{
			Threshold:  cfg.FlushThreshold,
			FlushDelay: cfg.FlushDelay,
		},
		TransferDelay: cfg.TransferDelay,
	}, call.Deps{
		AI: call.RealtimeConnector{Client: realtime.NewClient(realtime.Config{
			URL:    cfg.RealtimeURL,
			Model:  cfg.RealtimeModel,
			APIKey: cfg.RealtimeKey,
			Voice:  cfg.RealtimeVoice,
		})},
		Directory: dir,
		Records:   fd.records,
		Registry:  fd.registry,
		Publisher: fd.publisher,
		Events:    events.NewBuilder(cfg.NodeID),
		Metrics:   metrics,
		Tracer:    telemetry.Tracer(),
		Apology:   apology,
	})

	fd.admission = admission.New(cfg.AdmissionPerMinute, cfg.AdmissionBurst)
	fd.sip, err = telephony.NewServer(telephony.Config{
		BindAddr:      cfg.BindAddr,
		Port:          cfg.Port,
		AdvertiseAddr: cfg.AdvertiseAddr,
		Domain:        cfg.Domain,
		User:          cfg.SIPUser,
		RTPPortMin:    cfg.RTPPortMin,
		RTPPortMax:    cfg.RTPPortMax,
		Metrics:       metrics,
	}, manager, fd.admission)
	if err != nil {
		return nil, err
	}

	if cfg.Registrar != "" {
		fd.registrar, err = telephony.NewRegistrar(fd.sip.Client(), fd.sip.Contact(), telephony.RegistrarConfig{
			Registrar: cfg.Registrar,
			User:      cfg.SIPUser,
			Password:  cfg.SIPPassword,
			Expiry:    cfg.RegisterExpiry,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.APIAddr != "" {
		var adm api.AdmissionTracker
		if fd.admission != nil {
			adm = fd.admission
		}
		fd.apiServer = api.NewServer(api.Config{
			Addr:            cfg.APIAddr,
			JWTSecret:       cfg.JWTSecret,
			NodeID:          cfg.NodeID,
			ScreeningPolicy: cfg.ScreeningPolicy,
		}, fd.registry, fd.sip, adm)
	}
	if cfg.GRPCAddr != "" {
		fd.health = api.NewHealthServer(cfg.GRPCAddr)
	}

	ok = true
	return fd, nil
}

func (fd *FrontDesk) openRecords(ctx context.Context) (records.Service, error) {
	cfg := fd.config
	var driver string
	switch cfg.RecordsBackend {
	case config.RecordsMemory, "":
		slog.Info("[App] Using demo patient records", "latency", cfg.RecordsLatency)
		return records.NewMemoryStore(records.DemoData(), cfg.RecordsLatency), nil
	case config.RecordsSQLite:
		driver = records.DriverSQLite
	case config.RecordsPostgres:
		driver = records.DriverPostgres
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.RecordsBackend)
	}
	store, err := records.OpenSQL(ctx, driver, cfg.RecordsDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open records: %w", err)
	}
	fd.closers = append(fd.closers, store)
	return store, nil
}

func (fd *FrontDesk) openPublisher(ctx context.Context) (events.Publisher, error) {
	logging := events.NewLoggingPublisher(slog.Default())
	if fd.config.RedisAddr == "" {
		return logging, nil
	}
	redisPub, err := events.NewRedisPublisher(ctx, events.RedisConfig{
		Addr:     fd.config.RedisAddr,
		Password: fd.config.RedisPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect event bus: %w", err)
	}
	slog.Info("[App] Publishing call events to Redis", "addr", fd.config.RedisAddr)
	return events.NewMultiPublisher(logging, redisPub), nil
}

// Run starts the listeners, registers with the registrar and serves until
// ctx is cancelled or the SIP transport fails. A failed first
// registration is returned as an error.
func (fd *FrontDesk) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if fd.apiServer != nil {
		if err := fd.apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}
	if fd.health != nil {
		if err := fd.health.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	sipErr := make(chan error, 1)
	go func() { sipErr <- fd.sip.Start(ctx) }()

	registrarDone := make(chan struct{})
	if fd.registrar != nil {
		granted, err := fd.registrar.Register(ctx)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		slog.Info("[App] Registered", "registrar", fd.config.Registrar, "expires", granted)
		go func() {
			defer close(registrarDone)
			fd.registrar.Run(ctx, granted)
		}()
	} else {
		close(registrarDone)
	}

	if fd.health != nil {
		fd.health.SetServing(true)
	}
	slog.Info("[App] Front desk ready")

	var err error
	select {
	case <-ctx.Done():
	case err = <-sipErr:
	}
	if fd.health != nil {
		fd.health.SetServing(false)
	}
	cancel()
	<-registrarDone
	return err
}

// Shutdown ends the live calls and releases every component.
func (fd *FrontDesk) Shutdown(ctx context.Context) error {
	if fd.registry != nil {
		if err := fd.registry.HangupAll(ctx); err != nil {
			slog.Warn("[App] Some calls did not end cleanly", "error", err)
		}
	}
	return fd.closeAll(ctx)
}

func (fd *FrontDesk) closeAll(ctx context.Context) error {
	var errs []error
	if fd.apiServer != nil {
		errs = append(errs, fd.apiServer.Stop(ctx))
	}
	if fd.health != nil {
		fd.health.Stop()
	}
	if fd.sip != nil {
		errs = append(errs, fd.sip.Close())
	}
	if fd.registry != nil {
		fd.registry.Close()
	}
	if fd.admission != nil {
		fd.admission.Close()
	}
	if fd.publisher != nil {
		errs = append(errs, fd.publisher.Close())
	}
	for _, c := range fd.closers {
		errs = append(errs, c.Close())
	}
	if fd.telemetry != nil {
		errs = append(errs, fd.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Summary describes the configuration for the startup banner.
func Summary(cfg *config.Config) []banner.ConfigLine {
	registrar := cfg.Registrar
	if registrar != "" {
		registrar = cfg.SIPUser + "@" + registrar
	}
	auth := "disabled"
	if cfg.JWTSecret != "" {
		auth = "jwt"
	}
	return []banner.ConfigLine{
		{Label: "SIP", Value: fmt.Sprintf("%s:%d (advertise %s)", cfg.BindAddr, cfg.Port, cfg.AdvertiseAddr)},
		{Label: "Domain", Value: cfg.Domain},
		{Label: "Registrar", Value: registrar},
		{Label: "RTP Ports", Value: fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax)},
		{Label: "Realtime", Value: cfg.RealtimeModel},
		{Label: "Screening", Value: cfg.ScreeningPolicy},
		{Label: "Records", Value: cfg.RecordsBackend},
		{Label: "API", Value: cfg.APIAddr},
		{Label: "API Auth", Value: auth},
		{Label: "gRPC Health", Value: cfg.GRPCAddr},
		{Label: "Events", Value: cfg.RedisAddr},
		{Label: "OTLP", Value: cfg.OTLPEndpoint},
		{Label: "Log Level", Value: cfg.LogLevel},
	}
}
