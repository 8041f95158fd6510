// Package intent maps caller utterances to record lookups and transfers.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sebas/frontdesk/internal/records"
)

// Kind is a record lookup requested by the caller.
type Kind int

const (
	None Kind = iota
	Appointments
	LabResults
	Billing
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Appointments:
		return "appointments"
	case LabResults:
		return "lab_results"
	case Billing:
		return "billing"
	default:
		return "unknown"
	}
}

// Department is a transfer destination.
type Department string

const (
	DepartmentBilling    Department = "billing"
	DepartmentScheduling Department = "scheduling"
	DepartmentLab        Department = "lab"
	DepartmentGeneral    Department = "general"
)

// ParseDepartment accepts a department name case-insensitively.
func ParseDepartment(s string) (Department, bool) {
	switch d := Department(strings.ToLower(strings.TrimSpace(s))); d {
	case DepartmentBilling, DepartmentScheduling, DepartmentLab, DepartmentGeneral:
		return d, true
	}
	return "", false
}

// Decision is the classification of one utterance. The lookup and the
// transfer request are independent; one utterance may carry both.
type Decision struct {
	Lookup     Kind
	Transfer   bool
	Department Department // set when Transfer
}

type rule struct {
	kind     Kind
	keywords []string
}

// Lookup rules in priority order.
var lookupRules = []rule{
	{Appointments, []string{"appointment", "scheduled", "visit"}},
	{LabResults, []string{"lab", "test", "result"}},
	{Billing, []string{"bill", "payment", "invoice", "owe"}},
}

var transferKeywords = []string{"transfer", "human", "representative", "person"}

var departmentRules = []struct {
	dept     Department
	keywords []string
}{
	{DepartmentBilling, []string{"billing", "payment"}},
	{DepartmentScheduling, []string{"schedule", "appointment"}},
	{DepartmentLab, []string{"lab", "test"}},
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Classify inspects text. The first matching lookup rule wins; a transfer
// request is detected separately and routed by department keywords.
func Classify(text string) Decision {
	t := strings.ToLower(text)
	var d Decision
	for _, r := range lookupRules {
		if containsAny(t, r.keywords) {
			d.Lookup = r.kind
			break
		}
	}
	if containsAny(t, transferKeywords) {
		d.Transfer = true
		d.Department = DepartmentGeneral
		for _, r := range departmentRules {
			if containsAny(t, r.keywords) {
				d.Department = r.dept
				break
			}
		}
	}
	return d
}

// Responses spoken for lookups and transfers.
const (
	NoAppointmentsResponse = "I don't see any upcoming appointments scheduled for you. Would you like me to transfer you to scheduling?"
	NoLabResultsResponse   = "I don't see any recent lab results. Would you like me to transfer you to the lab department?"
	AccountCurrentResponse = "Your account is current with no outstanding balances."
	LookupFailedResponse   = "I'm having trouble accessing your information right now. Let me transfer you to someone who can help."
	TransferFailedResponse = "Sorry, I can't transfer your call right now."
)

// TransferAcknowledgement is spoken before transferring to dept.
func TransferAcknowledgement(dept Department) string {
	switch dept {
	case DepartmentBilling:
		return "I'll transfer you to our billing department. Please hold on."
	case DepartmentScheduling:
		return "I'll connect you with our scheduling team. One moment please."
	case DepartmentLab:
		return "Let me transfer you to our lab department. Please hold."
	default:
		return "I'll connect you with a representative who can better assist you. Please hold."
	}
}

// FormatAppointments renders the next appointment.
func FormatAppointments(appts []records.Appointment) string {
	if len(appts) == 0 {
		return NoAppointmentsResponse
	}
	a := appts[0]
	return fmt.Sprintf("Your next appointment is %s at %s with %s at %s.", a.Date, a.Time, a.Doctor, a.Location)
}

// FormatLabResults renders the latest result.
func FormatLabResults(labs []records.LabResult) string {
	if len(labs) == 0 {
		return NoLabResultsResponse
	}
	l := labs[0]
	return fmt.Sprintf("Your latest %s from %s shows %s. %s", l.TestName, l.Date, l.Status, l.Notes)
}

// FormatBilling renders the first outstanding invoice.
func FormatBilling(invoices []records.Invoice) string {
	for _, inv := range invoices {
		if inv.Status == records.InvoiceOutstanding {
			return fmt.Sprintf("You have an outstanding balance of %s for %s, due %s.", inv.Amount, inv.Description, inv.DueDate)
		}
	}
	return AccountCurrentResponse
}

// Dispatcher performs the lookup behind a lookup intent.
type Dispatcher struct {
	records records.Service
}

// NewDispatcher creates a dispatcher over svc.
func NewDispatcher(svc records.Service) *Dispatcher {
	return &Dispatcher{records: svc}
}

// Respond looks up the data for kind and returns the sentence to speak.
// On failure it returns LookupFailedResponse together with the error.
func (d *Dispatcher) Respond(ctx context.Context, kind Kind, patientID string) (string, error) {
	var (
		text string
		err  error
	)
	switch kind {
	case Appointments:
		var appts []records.Appointment
		if appts, err = d.records.Appointments(ctx, patientID); err == nil {
			text = FormatAppointments(appts)
		}
	case LabResults:
		var labs []records.LabResult
		if labs, err = d.records.LabResults(ctx, patientID); err == nil {
			text = FormatLabResults(labs)
		}
	case Billing:
		var invoices []records.Invoice
		if invoices, err = d.records.Billing(ctx, patientID); err == nil {
			text = FormatBilling(invoices)
		}
	default:
		return "", fmt.Errorf("intent %s has no lookup", kind)
	}
	if err != nil {
		return LookupFailedResponse, fmt.Errorf("%s lookup: %w", kind, err)
	}
	return text, nil
}
