// Package prommetrics exports vitalrelay engine and HTTP server metrics to Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/velmie/vitalrelay"
)

const namespace = "vitalrelay"

// Recorder implements vitalrelay.Metrics.
type Recorder struct {
	tickDuration     prometheus.Histogram
	skippedTicks     prometheus.Counter
	delivered        *prometheus.CounterVec
	rejected         prometheus.Counter
	deliveryFailures prometheus.Counter
	responses        *prometheus.CounterVec
	duplicates       prometheus.Counter
	uncorrelated     prometheus.Counter
	extractionErrors prometheus.Counter
	ackFailures      prometheus.Counter
	pending          prometheus.Gauge
}

var _ vitalrelay.Metrics = (*Recorder)(nil)

// NewRecorder registers the engine metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)

	r := &Recorder{
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		skippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous tick was still running.",
		}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages accepted by the remote side.",
		}, []string{"mode"}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages moved to Error after a rejected delivery.",
		}),
		deliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Delivery attempts that left the message untouched.",
		}),
		responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Recorded inbound responses by kind.",
		}, []string{"kind"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_duplicate_total",
			Help:      "Duplicate inbound response deliveries.",
		}),
		uncorrelated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_uncorrelated_total",
			Help:      "Inbound responses dropped because no outbound message matched.",
		}),
		extractionErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_errors_total",
			Help:      "Extraction errors synthesized for unparseable inbound payloads.",
		}),
		ackFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_failures_total",
			Help:      "Acknowledgements the remote side did not accept.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_pending",
			Help:      "Outbound messages waiting for first delivery.",
		}),
	}
	for _, kind := range vitalrelay.ResponseKinds() {
		r.responses.WithLabelValues(kind.String())
	}

	return r
}

func (r *Recorder) ObserveTickDuration(d time.Duration) {
	r.tickDuration.Observe(d.Seconds())
}

func (r *Recorder) AddSkippedTicks(n int) {
	r.skippedTicks.Add(float64(n))
}

func (r *Recorder) AddSubmitted(n int) {
	r.delivered.WithLabelValues("submit").Add(float64(n))
}

func (r *Recorder) AddResent(n int) {
	r.delivered.WithLabelValues("resend").Add(float64(n))
}

func (r *Recorder) AddRejected(n int) {
	r.rejected.Add(float64(n))
}

func (r *Recorder) AddDeliveryFailures(n int) {
	r.deliveryFailures.Add(float64(n))
}

func (r *Recorder) AddResponses(kind vitalrelay.ResponseKind, n int) {
	r.responses.WithLabelValues(kind.String()).Add(float64(n))
}

func (r *Recorder) AddDuplicates(n int) {
	r.duplicates.Add(float64(n))
}

func (r *Recorder) AddUncorrelated(n int) {
	r.uncorrelated.Add(float64(n))
}

func (r *Recorder) AddExtractionErrors(n int) {
	r.extractionErrors.Add(float64(n))
}

func (r *Recorder) AddAckFailures(n int) {
	r.ackFailures.Add(float64(n))
}

func (r *Recorder) SetPending(n int) {
	r.pending.Set(float64(n))
}
