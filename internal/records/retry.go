package records

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the retries of a Retrying service.
type RetryConfig struct {
	// Timeout bounds a whole lookup including retries.
	Timeout time.Duration
	// InitialInterval is the first backoff interval.
	InitialInterval time.Duration
	// MaxRetries caps the number of retries after the first attempt.
	MaxRetries uint64
}

// Retrying retries transient backend failures with exponential backoff.
// ErrNotFound and context errors are not retried.
type Retrying struct {
	next Service
	cfg  RetryConfig
}

// NewRetrying wraps next.
func NewRetrying(next Service, cfg RetryConfig) *Retrying {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Retrying{next: next, cfg: cfg}
}

func retry[T any](ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxElapsedTime = cfg.Timeout

	var result T
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		slog.Debug("[Records] Lookup failed, retrying", "op", op, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxRetries), ctx))
	return result, err
}

// PatientByPhone implements Service.
func (r *Retrying) PatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	return retry(ctx, r.cfg, "patient", func(ctx context.Context) (*Patient, error) {
		return r.next.PatientByPhone(ctx, phone)
	})
}

// Appointments implements Service.
func (r *Retrying) Appointments(ctx context.Context, patientID string) ([]Appointment, error) {
	return retry(ctx, r.cfg, "appointments", func(ctx context.Context) ([]Appointment, error) {
		return r.next.Appointments(ctx, patientID)
	})
}

// LabResults implements Service.
func (r *Retrying) LabResults(ctx context.Context, patientID string) ([]LabResult, error) {
	return retry(ctx, r.cfg, "labs", func(ctx context.Context) ([]LabResult, error) {
		return r.next.LabResults(ctx, patientID)
	})
}

// Billing implements Service.
func (r *Retrying) Billing(ctx context.Context, patientID string) ([]Invoice, error) {
	return retry(ctx, r.cfg, "billing", func(ctx context.Context) ([]Invoice, error) {
		return r.next.Billing(ctx, patientID)
	})
}
