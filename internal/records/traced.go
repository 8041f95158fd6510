package records

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Traced records a span per lookup.
type Traced struct {
	next   Service
	tracer trace.Tracer
}

// NewTraced wraps next using the global tracer provider.
func NewTraced(next Service) *Traced {
	return &Traced{next: next, tracer: otel.Tracer("github.com/sebas/frontdesk/internal/records")}
}

func endSpan(span trace.Span, err error, count int) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("records.count", count))
	span.End()
}

// PatientByPhone implements Service.
func (t *Traced) PatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	ctx, span := t.tracer.Start(ctx, "records.PatientByPhone")
	p, err := t.next.PatientByPhone(ctx, phone)
	n := 0
	if p != nil {
		n = 1
	}
	endSpan(span, err, n)
	return p, err
}

// Appointments implements Service.
func (t *Traced) Appointments(ctx context.Context, patientID string) ([]Appointment, error) {
	ctx, span := t.tracer.Start(ctx, "records.Appointments", trace.WithAttributes(attribute.String("patient.id", patientID)))
	out, err := t.next.Appointments(ctx, patientID)
	endSpan(span, err, len(out))
	return out, err
}

// LabResults implements Service.
func (t *Traced) LabResults(ctx context.Context, patientID string) ([]LabResult, error) {
	ctx, span := t.tracer.Start(ctx, "records.LabResults", trace.WithAttributes(attribute.String("patient.id", patientID)))
	out, err := t.next.LabResults(ctx, patientID)
	endSpan(span, err, len(out))
	return out, err
}

// Billing implements Service.
func (t *Traced) Billing(ctx context.Context, patientID string) ([]Invoice, error) {
	ctx, span := t.tracer.Start(ctx, "records.Billing", trace.WithAttributes(attribute.String("patient.id", patientID)))
	out, err := t.next.Billing(ctx, patientID)
	endSpan(span, err, len(out))
	return out, err
}
