package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cutledger/internal/audit"
)

// Clock supplies the time stamped on cuts and recut entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns the current time.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes the outcome of every service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// ConsumptionRecorder is implemented by recorders that also track committed
// fabric consumption.
type ConsumptionRecorder interface {
	ObserveConsumption(article string, kind string, meters float64)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type serviceOptions struct {
	logger  *zap.Logger
	clock   Clock
	metrics MetricsRecorder
	archive *audit.Archive
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  zap.NewNop(),
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		metrics: noopMetricsRecorder{},
	}
}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithArchive enables the allocation archive.
func WithArchive(archive *audit.Archive) ServiceOption {
	return func(o *serviceOptions) {
		o.archive = archive
	}
}
