package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the call instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	calls            metric.Int64Counter
	activeCalls      metric.Int64UpDownCounter
	callDuration     metric.Float64Histogram
	bargeIns         metric.Int64Counter
	screeningFailure metric.Int64Counter
	lookups          metric.Int64Counter
	lookupDuration   metric.Float64Histogram
	transfers        metric.Int64Counter
	playbackFailures metric.Int64Counter
	admissionDenied  metric.Int64Counter
	sessionErrors    metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.calls, err = meter.Int64Counter("frontdesk.calls",
		metric.WithDescription("Calls handled, by outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.activeCalls, err = meter.Int64UpDownCounter("frontdesk.calls.active",
		metric.WithDescription("Calls currently in progress"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.callDuration, err = meter.Float64Histogram("frontdesk.call.duration",
		metric.WithDescription("Call duration from answer to termination"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 15, 30, 60, 120, 300, 600, 1800),
	); err != nil {
		return nil, err
	}
	if m.bargeIns, err = meter.Int64Counter("frontdesk.barge_ins",
		metric.WithDescription("Caller interruptions of assistant speech"),
	); err != nil {
		return nil, err
	}
	if m.screeningFailure, err = meter.Int64Counter("frontdesk.screening.failures",
		metric.WithDescription("Wrong passcode attempts"),
	); err != nil {
		return nil, err
	}
	if m.lookups, err = meter.Int64Counter("frontdesk.lookups",
		metric.WithDescription("Record lookups, by kind and result"),
	); err != nil {
		return nil, err
	}
	if m.lookupDuration, err = meter.Float64Histogram("frontdesk.lookup.duration",
		metric.WithDescription("Record lookup latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, err
	}
	if m.transfers, err = meter.Int64Counter("frontdesk.transfers",
		metric.WithDescription("Blind transfers, by department and result"),
	); err != nil {
		return nil, err
	}
	if m.playbackFailures, err = meter.Int64Counter("frontdesk.playback.failures",
		metric.WithDescription("Audio streams that ended with an error"),
	); err != nil {
		return nil, err
	}
	if m.admissionDenied, err = meter.Int64Counter("frontdesk.admission.denied",
		metric.WithDescription("Calls declined by rate limiting"),
	); err != nil {
		return nil, err
	}
	if m.sessionErrors, err = meter.Int64Counter("frontdesk.session.errors",
		metric.WithDescription("Realtime session errors, by severity"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoopMetrics returns instruments backed by the no-op meter.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

func result(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("result", "error")
	}
	return attribute.String("result", "ok")
}

// CallStarted records an answered call.
func (m *Metrics) CallStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeCalls.Add(ctx, 1)
}

// CallEnded records a terminated call. answered reports whether CallStarted
// was recorded for it.
func (m *Metrics) CallEnded(ctx context.Context, reason string, answered bool, talk time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.calls.Add(ctx, 1, attrs)
	if answered {
		m.activeCalls.Add(ctx, -1)
		m.callDuration.Record(ctx, talk.Seconds(), attrs)
	}
}

// BargeIn records a caller interruption.
func (m *Metrics) BargeIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.bargeIns.Add(ctx, 1)
}

// ScreeningFailure records a wrong passcode.
func (m *Metrics) ScreeningFailure(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.screeningFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// Lookup records a record lookup.
func (m *Metrics) Lookup(ctx context.Context, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind), result(err))
	m.lookups.Add(ctx, 1, attrs)
	m.lookupDuration.Record(ctx, d.Seconds(), attrs)
}

// Transfer records a blind transfer attempt.
func (m *Metrics) Transfer(ctx context.Context, department string, err error) {
	if m == nil {
		return
	}
	m.transfers.Add(ctx, 1, metric.WithAttributes(attribute.String("department", department), result(err)))
}

// PlaybackFailure records a failed audio stream.
func (m *Metrics) PlaybackFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.playbackFailures.Add(ctx, 1)
}

// AdmissionDenied records a rate-limited call.
func (m *Metrics) AdmissionDenied(ctx context.Context) {
	if m == nil {
		return
	}
	m.admissionDenied.Add(ctx, 1)
}

// SessionError records a realtime session error.
func (m *Metrics) SessionError(ctx context.Context, fatal bool) {
	if m == nil {
		return
	}
	m.sessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.Bool("fatal", fatal)))
}
