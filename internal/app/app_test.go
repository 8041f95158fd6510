package app

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/sebas/frontdesk/internal/config"
)

func testConfig(t *testing.T, extra ...string) *config.Config {
	t.Helper()
	args := append([]string{
		"-advertise", "127.0.0.1",
		"-bind", "127.0.0.1",
		"-port", "25060",
		"-rtp-min", "31000",
		"-rtp-max", "31010",
		"-api", "127.0.0.1:0",
		"-grpc", "127.0.0.1:0",
		"-customers", "",
		"-agents", "",
		"-apology-prompt", "",
		"-node", "test-node",
	}, extra...)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := config.LoadFrom(fs, args, func(string) string { return "" })
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	return cfg
}

func TestRunAndShutdown(t *testing.T) {
	fd, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fd.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			_ = fd.Shutdown(context.Background())
			t.Skipf("cannot serve on loopback: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := fd.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewWithSQLiteRecords(t *testing.T) {
	fd, err := New(context.Background(), testConfig(t, "-records", "sqlite", "-records-dsn", "file::memory:", "-api", "", "-grpc", ""))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fd.Shutdown(context.Background())

	p, err := fd.records.PatientByPhone(context.Background(), "6505551234")
	if err != nil {
		t.Fatalf("PatientByPhone() error = %v", err)
	}
	if p.Name != "John Smith" {
		t.Errorf("Name = %q, want John Smith", p.Name)
	}
	if fd.apiServer != nil || fd.health != nil {
		t.Error("empty addresses should disable the API and health servers")
	}
}

func TestNewRejectsUnknownRecordsBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.RecordsBackend = "oracle"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("New() with an unknown records backend should fail")
	}
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, "-redis", "127.0.0.1:1")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("New() with an unreachable event bus should fail")
	}
}

func TestSummary(t *testing.T) {
	cfg := testConfig(t, "-registrar", "pbx.local:5060")

	lines := Summary(cfg)
	values := make(map[string]string, len(lines))
	for _, l := range lines {
		values[l.Label] = l.Value
	}
	if values["Registrar"] != "frontdesk@pbx.local:5060" {
		t.Errorf("Registrar = %q", values["Registrar"])
	}
	if values["RTP Ports"] != "31000-31010" {
		t.Errorf("RTP Ports = %q", values["RTP Ports"])
	}
	if values["API Auth"] != "disabled" {
		t.Errorf("API Auth = %q, want disabled", values["API Auth"])
	}
}
