package records

import (
	"context"
	"time"
)

// Dataset is the content of a MemoryStore.
type Dataset struct {
	Patients     []Patient
	Appointments []Appointment
	LabResults   []LabResult
	Invoices     []Invoice
}

// DemoData returns the demonstration practice data.
func DemoData() Dataset {
	return Dataset{
		Patients: []Patient{
			{ID: "12345", Name: "John Smith", Phone: "6505551234", DateOfBirth: "1985-06-15"},
		},
		Appointments: []Appointment{
			{PatientID: "12345", Date: "2025-01-15", Time: "10:30 AM", Doctor: "Dr. Sarah Johnson", Location: "Main Clinic, Room 102", Type: "General Checkup"},
			{PatientID: "12345", Date: "2025-02-20", Time: "2:15 PM", Doctor: "Dr. Michael Chen", Location: "Cardiology Center, Room 201", Type: "Cardiology Follow-up"},
		},
		LabResults: []LabResult{
			{PatientID: "12345", TestName: "Complete Blood Count", Date: "2025-01-10", Status: "Normal", Notes: "All values within normal range"},
			{PatientID: "12345", TestName: "Cholesterol Panel", Date: "2025-01-08", Status: "Slightly Elevated", Notes: "Total cholesterol 210 mg/dL"},
		},
		Invoices: []Invoice{
			{PatientID: "12345", InvoiceNumber: "INV-2025-001", Amount: "$150.00", DueDate: "2025-02-01", Description: "Office Visit - General Checkup", Status: InvoiceOutstanding},
			{PatientID: "12345", InvoiceNumber: "INV-2025-002", Amount: "$85.00", DueDate: "2025-01-25", Description: "Lab Work - Blood Tests", Status: "Paid"},
		},
	}
}

// MemoryStore serves a fixed dataset, optionally with simulated latency.
// The dataset is never mutated, so concurrent lookups need no locking.
type MemoryStore struct {
	data    Dataset
	latency time.Duration
}

// NewMemoryStore creates a store over data.
func NewMemoryStore(data Dataset, latency time.Duration) *MemoryStore {
	return &MemoryStore{data: data, latency: latency}
}

func (m *MemoryStore) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PatientByPhone implements Service.
func (m *MemoryStore) PatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	// patient lookups are faster than the list endpoints
	if err := m.wait(ctx, m.latency*3/5); err != nil {
		return nil, err
	}
	for _, p := range m.data.Patients {
		if p.Phone == phone {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// Appointments implements Service.
func (m *MemoryStore) Appointments(ctx context.Context, patientID string) ([]Appointment, error) {
	if err := m.wait(ctx, m.latency); err != nil {
		return nil, err
	}
	return filter(m.data.Appointments, func(a Appointment) bool { return a.PatientID == patientID }), nil
}

// LabResults implements Service.
func (m *MemoryStore) LabResults(ctx context.Context, patientID string) ([]LabResult, error) {
	if err := m.wait(ctx, m.latency); err != nil {
		return nil, err
	}
	return filter(m.data.LabResults, func(l LabResult) bool { return l.PatientID == patientID }), nil
}

// Billing implements Service.
func (m *MemoryStore) Billing(ctx context.Context, patientID string) ([]Invoice, error) {
	if err := m.wait(ctx, m.latency); err != nil {
		return nil, err
	}
	return filter(m.data.Invoices, func(i Invoice) bool { return i.PatientID == patientID }), nil
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}
