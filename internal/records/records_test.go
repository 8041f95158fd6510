package records

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreDemoData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DemoData(), 0)

	p, err := s.PatientByPhone(ctx, "6505551234")
	if err != nil {
		t.Fatalf("PatientByPhone() error = %v", err)
	}
	if p.Name != "John Smith" || p.ID != "12345" {
		t.Errorf("PatientByPhone() = %+v", p)
	}

	if _, err := s.PatientByPhone(ctx, "0000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown phone error = %v, want ErrNotFound", err)
	}

	appts, _ := s.Appointments(ctx, "12345")
	if len(appts) != 2 || appts[0].Doctor != "Dr. Sarah Johnson" {
		t.Errorf("Appointments() = %+v", appts)
	}
	labs, _ := s.LabResults(ctx, "12345")
	if len(labs) != 2 || labs[0].TestName != "Complete Blood Count" {
		t.Errorf("LabResults() = %+v", labs)
	}
	bills, _ := s.Billing(ctx, "12345")
	if len(bills) != 2 || bills[1].Status != "Paid" {
		t.Errorf("Billing() = %+v", bills)
	}

	empty, err := s.Appointments(ctx, "99999")
	if err != nil || len(empty) != 0 {
		t.Errorf("Appointments(unknown) = %v, %v, want empty", empty, err)
	}
}

func TestMemoryStoreLatencyHonoursContext(t *testing.T) {
	s := NewMemoryStore(DemoData(), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Appointments(ctx, "12345"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Appointments() error = %v, want deadline exceeded", err)
	}
}

type flakyService struct {
	MemoryStore
	failures int
	calls    int
}

func (f *flakyService) Billing(ctx context.Context, id string) ([]Invoice, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.MemoryStore.Billing(ctx, id)
}

func (f *flakyService) PatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	f.calls++
	return f.MemoryStore.PatientByPhone(ctx, phone)
}

func TestRetryingRecoversTransientFailure(t *testing.T) {
	flaky := &flakyService{MemoryStore: *NewMemoryStore(DemoData(), 0), failures: 2}
	r := NewRetrying(flaky, RetryConfig{InitialInterval: time.Millisecond, MaxRetries: 3})

	bills, err := r.Billing(context.Background(), "12345")
	if err != nil {
		t.Fatalf("Billing() error = %v", err)
	}
	if len(bills) != 2 {
		t.Errorf("Billing() = %d invoices, want 2", len(bills))
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}
}

func TestRetryingGivesUp(t *testing.T) {
	flaky := &flakyService{MemoryStore: *NewMemoryStore(DemoData(), 0), failures: 100}
	r := NewRetrying(flaky, RetryConfig{InitialInterval: time.Millisecond, MaxRetries: 2})

	if _, err := r.Billing(context.Background(), "12345"); err == nil {
		t.Fatal("expected error")
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}
}

func TestRetryingDoesNotRetryNotFound(t *testing.T) {
	flaky := &flakyService{MemoryStore: *NewMemoryStore(DemoData(), 0)}
	r := NewRetrying(flaky, RetryConfig{InitialInterval: time.Millisecond})

	if _, err := r.PatientByPhone(context.Background(), "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PatientByPhone() error = %v, want ErrNotFound", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls)
	}
}

func TestTracedPassesThrough(t *testing.T) {
	s := NewTraced(NewMemoryStore(DemoData(), 0))
	labs, err := s.LabResults(context.Background(), "12345")
	if err != nil || len(labs) != 2 {
		t.Errorf("LabResults() = %v, %v", labs, err)
	}
}

func TestSQLStoreSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQL(ctx, DriverSQLite, "file::memory:")
	if err != nil {
		t.Fatalf("OpenSQL() error = %v", err)
	}
	defer s.Close()

	p, err := s.PatientByPhone(ctx, "6505551234")
	if err != nil {
		t.Fatalf("PatientByPhone() error = %v", err)
	}
	if p.Name != "John Smith" {
		t.Errorf("Name = %q", p.Name)
	}
	if _, err := s.PatientByPhone(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown phone error = %v", err)
	}

	mem := NewMemoryStore(DemoData(), 0)
	wantAppts, _ := mem.Appointments(ctx, "12345")
	appts, err := s.Appointments(ctx, "12345")
	if err != nil {
		t.Fatalf("Appointments() error = %v", err)
	}
	if len(appts) != len(wantAppts) || appts[0] != wantAppts[0] || appts[1] != wantAppts[1] {
		t.Errorf("Appointments() = %+v, want %+v", appts, wantAppts)
	}

	wantLabs, _ := mem.LabResults(ctx, "12345")
	labs, _ := s.LabResults(ctx, "12345")
	if len(labs) != 2 || labs[0] != wantLabs[0] {
		t.Errorf("LabResults() = %+v", labs)
	}

	wantBills, _ := mem.Billing(ctx, "12345")
	bills, _ := s.Billing(ctx, "12345")
	if len(bills) != 2 || bills[0] != wantBills[0] || bills[1] != wantBills[1] {
		t.Errorf("Billing() = %+v", bills)
	}

	none, err := s.Billing(ctx, "00000")
	if err != nil || len(none) != 0 {
		t.Errorf("Billing(unknown) = %v, %v", none, err)
	}
}

func TestOpenSQLRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "mysql", "x"); err == nil {
		t.Error("expected error")
	}
}
