package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics exposes instruments for the seat and purchase paths. Every count is
// scraped from the Prometheus collectors and pushed through the OTel meter.
type Metrics struct {
	otel otelInstruments

	seatReservations     *prometheus.CounterVec
	seatReleases         *prometheus.CounterVec
	purchases            *prometheus.CounterVec
	txRetries            *prometheus.CounterVec
	txExhausted          *prometheus.CounterVec
	idempotency          *prometheus.CounterVec
	compensationFailures prometheus.Counter
	rateLimitDenied      prometheus.Counter
	jobRuns              *prometheus.CounterVec
	jobErrors            *prometheus.CounterVec
	idempotencyPurged    prometheus.Counter
	httpDuration         *prometheus.HistogramVec
}

type otelInstruments struct {
	seatReservations     metric.Int64Counter
	seatReleases         metric.Int64Counter
	purchases            metric.Int64Counter
	txRetries            metric.Int64Counter
	txExhausted          metric.Int64Counter
	idempotency          metric.Int64Counter
	compensationFailures metric.Int64Counter
}

// New registers the Prometheus collectors on reg and creates the OTel
// instruments on provider. A nil provider records to a no-op meter.
func New(cfg Config, reg prometheus.Registerer, provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "seatledger"
	}
	instruments, err := newOtelInstruments(provider.Meter(name))
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		otel: instruments,

		seatReservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_seat_reservations_total",
			Help: "Seat reservation attempts by outcome.",
		}, []string{"outcome"}),
		seatReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_seat_releases_total",
			Help: "Seat release attempts by outcome.",
		}, []string{"outcome"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_purchases_total",
			Help: "Purchase saga results by outcome code.",
		}, []string{"outcome"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_tx_retries_total",
			Help: "Transactions retried after a transient conflict.",
		}, []string{"operation"}),
		txExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_tx_retries_exhausted_total",
			Help: "Transactions that ran out of attempts.",
		}, []string{"operation"}),
		idempotency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_idempotency_requests_total",
			Help: "Idempotency lookups by result.",
		}, []string{"result"}),
		compensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatledger_compensation_failures_total",
			Help: "Compensations that could not be applied and need reconciliation.",
		}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatledger_rate_limit_denied_total",
			Help: "Purchase requests rejected by the rate limiter.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_scheduler_job_runs_total",
			Help: "Background job runs by job name.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatledger_scheduler_job_errors_total",
			Help: "Background job failures by job name and reason.",
		}, []string{"job", "reason"}),
		idempotencyPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatledger_idempotency_records_purged_total",
			Help: "Expired idempotency records deleted by the sweeper.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seatledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.seatReservations,
			m.seatReleases,
			m.purchases,
			m.txRetries,
			m.txExhausted,
			m.idempotency,
			m.compensationFailures,
			m.rateLimitDenied,
			m.jobRuns,
			m.jobErrors,
			m.idempotencyPurged,
			m.httpDuration,
		)
	}
	return m, nil
}

func newOtelInstruments(meter metric.Meter) (otelInstruments, error) {
	var (
		out otelInstruments
		err error
	)
	if out.seatReservations, err = meter.Int64Counter("seatledger.seat.reservations"); err != nil {
		return out, err
	}
	if out.seatReleases, err = meter.Int64Counter("seatledger.seat.releases"); err != nil {
		return out, err
	}
	if out.purchases, err = meter.Int64Counter("seatledger.purchases"); err != nil {
		return out, err
	}
	if out.txRetries, err = meter.Int64Counter("seatledger.tx.retries"); err != nil {
		return out, err
	}
	if out.txExhausted, err = meter.Int64Counter("seatledger.tx.retries_exhausted"); err != nil {
		return out, err
	}
	if out.idempotency, err = meter.Int64Counter("seatledger.idempotency.requests"); err != nil {
		return out, err
	}
	if out.compensationFailures, err = meter.Int64Counter("seatledger.compensation.failures"); err != nil {
		return out, err
	}
	return out, nil
}

func add(counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	counter.Add(context.Background(), 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func (m *Metrics) RecordReservation(reserved bool) {
	if m == nil {
		return
	}
	outcome := "sold_out"
	if reserved {
		outcome = "reserved"
	}
	m.seatReservations.WithLabelValues(outcome).Inc()
	add(m.otel.seatReservations, attribute.String("outcome", outcome))
}

func (m *Metrics) RecordRelease(released bool) {
	if m == nil {
		return
	}
	outcome := "at_capacity"
	if released {
		outcome = "released"
	}
	m.seatReleases.WithLabelValues(outcome).Inc()
	add(m.otel.seatReleases, attribute.String("outcome", outcome))
}

func (m *Metrics) RecordPurchase(outcome string) {
	if m == nil {
		return
	}
	outcome = sanitizeLabel(outcome)
	m.purchases.WithLabelValues(outcome).Inc()
	add(m.otel.purchases, attribute.String("outcome", outcome))
}

func (m *Metrics) RecordTxRetry(operation string) {
	if m == nil {
		return
	}
	operation = sanitizeLabel(operation)
	m.txRetries.WithLabelValues(operation).Inc()
	add(m.otel.txRetries, attribute.String("operation", operation))
}

func (m *Metrics) RecordTxExhausted(operation string) {
	if m == nil {
		return
	}
	operation = sanitizeLabel(operation)
	m.txExhausted.WithLabelValues(operation).Inc()
	add(m.otel.txExhausted, attribute.String("operation", operation))
}

func (m *Metrics) RecordIdempotency(result string) {
	if m == nil {
		return
	}
	result = sanitizeLabel(result)
	m.idempotency.WithLabelValues(result).Inc()
	add(m.otel.idempotency, attribute.String("result", result))
}

func (m *Metrics) RecordCompensationFailure() {
	if m == nil {
		return
	}
	m.compensationFailures.Inc()
	add(m.otel.compensationFailures)
}

func (m *Metrics) RecordRateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}

func (m *Metrics) RecordJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(sanitizeLabel(job)).Inc()
}

func (m *Metrics) RecordJobError(job, reason string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(sanitizeLabel(job), sanitizeLabel(reason)).Inc()
}

func (m *Metrics) RecordIdempotencyPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.idempotencyPurged.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(sanitizeLabel(method), sanitizeLabel(route), strconv.Itoa(status)).Observe(duration.Seconds())
}

func sanitizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":   {},
	"operation": {},
	"result":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
