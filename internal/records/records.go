// Package records looks up patient information for callers.
package records

import (
	"context"
	"errors"
)

// ErrNotFound is returned by PatientByPhone when no patient has the number.
var ErrNotFound = errors.New("patient not found")

// Patient is a person known to the practice.
type Patient struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Phone       string `json:"phone" yaml:"phone"`
	DateOfBirth string `json:"dateOfBirth" yaml:"dateOfBirth"`
}

// Appointment is a scheduled visit.
type Appointment struct {
	PatientID string `json:"patientId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Doctor    string `json:"doctor"`
	Location  string `json:"location"`
	Type      string `json:"type"`
}

// LabResult is a completed lab test.
type LabResult struct {
	PatientID string `json:"patientId"`
	TestName  string `json:"testName"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Notes     string `json:"notes"`
}

// InvoiceOutstanding marks unpaid invoices.
const InvoiceOutstanding = "Outstanding"

// Invoice is a billing item.
type Invoice struct {
	PatientID     string `json:"patientId"`
	InvoiceNumber string `json:"invoiceNumber"`
	Amount        string `json:"amount"`
	DueDate       string `json:"dueDate"`
	Description   string `json:"description"`
	Status        string `json:"status"`
}

// Service is the backend record system. Lists are returned in backend order
// and are empty, not an error, when the patient has no entries.
type Service interface {
	PatientByPhone(ctx context.Context, phone string) (*Patient, error)
	Appointments(ctx context.Context, patientID string) ([]Appointment, error)
	LabResults(ctx context.Context, patientID string) ([]LabResult, error)
	Billing(ctx context.Context, patientID string) ([]Invoice, error)
}
