package telemetry

import (
	"context"
	"time"
)

// NoopProvider is the Provider used when monitoring is disabled. Every method
// is a no-op so callers never need to branch on the monitoring flag.
type NoopProvider struct{}

// Initialize performs no setup and always succeeds
func (p *NoopProvider) Initialize(_ context.Context) error {
	return nil
}

// Shutdown performs no cleanup
func (p *NoopProvider) Shutdown() {}

// StartSpan returns an inert span together with the unchanged context
func (p *NoopProvider) StartSpan(ctx context.Context, _ string) (Span, context.Context) {
	return &noopSpan{}, ctx
}

// IncrementCounter discards the counter update
func (p *NoopProvider) IncrementCounter(_ string, _ int64, _ ...string) {}

// Gauge discards the gauge update
func (p *NoopProvider) Gauge(_ string, _ float64, _ ...string) {}

// Timing discards the timing sample
func (p *NoopProvider) Timing(_ string, _ time.Duration, _ ...string) {}
