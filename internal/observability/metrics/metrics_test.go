package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestCountersByOutcome(t *testing.T) {
	m, err := New(Config{}, prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	m.RecordReservation(true)
	m.RecordReservation(true)
	m.RecordReservation(false)
	m.RecordRelease(false)
	m.RecordPurchase("PLAN_SOLD_OUT")
	m.RecordPurchase("")
	m.RecordTxRetry("purchase.reserve")
	m.RecordCompensationFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.seatReservations.WithLabelValues("reserved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.seatReservations.WithLabelValues("sold_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.seatReleases.WithLabelValues("at_capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purchases.WithLabelValues("PLAN_SOLD_OUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purchases.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txRetries.WithLabelValues("purchase.reserve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensationFailures))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordReservation(true)
		m.RecordRelease(true)
		m.RecordPurchase("ok")
		m.RecordTxRetry("x")
		m.RecordTxExhausted("x")
		m.RecordIdempotency("new")
		m.RecordCompensationFailure()
		m.RecordRateLimitDenied()
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if value, ok := dp.Attributes.Value(attr.Key); ok && value.AsString() == attr.Value.AsString() {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestCountersExportThroughMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := New(Config{ServiceName: "seatledger-test"}, prometheus.NewRegistry(), provider)
	require.NoError(t, err)

	m.RecordReservation(true)
	m.RecordReservation(false)
	m.RecordReservation(false)
	m.RecordPurchase("PAYMENT_FAILED")
	m.RecordTxRetry("purchase.reserve")
	m.RecordIdempotency("replayed")

	assert.Equal(t, int64(1), collectSum(t, reader, "seatledger.seat.reservations", attribute.String("outcome", "reserved")))
	assert.Equal(t, int64(2), collectSum(t, reader, "seatledger.seat.reservations", attribute.String("outcome", "sold_out")))
	assert.Equal(t, int64(1), collectSum(t, reader, "seatledger.purchases", attribute.String("outcome", "PAYMENT_FAILED")))
	assert.Equal(t, int64(1), collectSum(t, reader, "seatledger.tx.retries", attribute.String("operation", "purchase.reserve")))
	assert.Equal(t, int64(1), collectSum(t, reader, "seatledger.idempotency.requests", attribute.String("result", "replayed")))
}

func TestFilterAttributesDropsUnknownKeys(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "reserved"),
		attribute.String("customer_id", "42"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("outcome"), attrs[0].Key)
}

func TestNewProviderDisabledIsNoop(t *testing.T) {
	provider, err := NewProvider(nil, Config{}, nil)
	require.NoError(t, err)
	_, isSDK := provider.(*sdkmetric.MeterProvider)
	assert.False(t, isSDK)
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter("udp", "")
	assert.Error(t, err)
}
