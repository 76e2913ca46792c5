package vitalrelay

import "time"

// Metrics captures engine-level telemetry.
type Metrics interface {
	// ObserveTickDuration records the time spent in one scheduler tick.
	ObserveTickDuration(duration time.Duration)
	// AddSkippedTicks counts ticks skipped because the previous tick was still running.
	AddSkippedTicks(count int)
	// AddSubmitted counts messages accepted by the remote side on first delivery.
	AddSubmitted(count int)
	// AddResent counts messages accepted by the remote side on redelivery.
	AddResent(count int)
	// AddRejected counts messages moved to Error by the delivery phases.
	AddRejected(count int)
	// AddDeliveryFailures counts messages left untouched after a failed delivery attempt.
	AddDeliveryFailures(count int)
	// AddResponses counts recorded responses by kind.
	AddResponses(kind ResponseKind, count int)
	// AddDuplicates counts duplicate response deliveries.
	AddDuplicates(count int)
	// AddUncorrelated counts responses dropped because no outbound message matched.
	AddUncorrelated(count int)
	// AddExtractionErrors counts locally synthesized extraction errors.
	AddExtractionErrors(count int)
	// AddAckFailures counts acknowledgements the remote side did not accept.
	AddAckFailures(count int)
	// SetPending updates the current pending message count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveTickDuration implements Metrics.
func (NopMetrics) ObserveTickDuration(time.Duration) {}

// AddSkippedTicks implements Metrics.
func (NopMetrics) AddSkippedTicks(int) {}

// AddSubmitted implements Metrics.
func (NopMetrics) AddSubmitted(int) {}

// AddResent implements Metrics.
func (NopMetrics) AddResent(int) {}

// AddRejected implements Metrics.
func (NopMetrics) AddRejected(int) {}

// AddDeliveryFailures implements Metrics.
func (NopMetrics) AddDeliveryFailures(int) {}

// AddResponses implements Metrics.
func (NopMetrics) AddResponses(ResponseKind, int) {}

// AddDuplicates implements Metrics.
func (NopMetrics) AddDuplicates(int) {}

// AddUncorrelated implements Metrics.
func (NopMetrics) AddUncorrelated(int) {}

// AddExtractionErrors implements Metrics.
func (NopMetrics) AddExtractionErrors(int) {}

// AddAckFailures implements Metrics.
func (NopMetrics) AddAckFailures(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
