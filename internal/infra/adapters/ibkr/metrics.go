package ibkr

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/asxtrader/errs"
	"github.com/coachpo/asxtrader/internal/infra/telemetry"
)

type brokerMetrics struct {
	environment string
	provider    string
	mode        string

	handshakes       metric.Int64Counter
	handshakeLatency metric.Float64Histogram
	requests         metric.Int64Counter
	requestLatency   metric.Float64Histogram
	tickles          metric.Int64Counter
	renewals         metric.Int64Counter
	brokerErrors     metric.Int64Counter
	connectionState  metric.Int64ObservableGauge
}

func newBrokerMetrics(c *Connection) *brokerMetrics {
	if c == nil {
		return nil
	}

	meter := otel.Meter("adapter.ibkr")
	name := strings.TrimSpace(c.opts.Config.Name)
	if name == "" {
		name = ibkrMetadata.identifier
	}
	bm := &brokerMetrics{
		environment: telemetry.Environment(),
		provider:    name,
		mode:        string(c.opts.Config.Mode),
	}

	bm.handshakes, _ = meter.Int64Counter("asxtrader_broker_handshakes",
		metric.WithDescription("Live session token exchanges run against the broker"),
		metric.WithUnit("{exchange}"))

	bm.handshakeLatency, _ = meter.Float64Histogram("asxtrader_broker_handshake_duration",
		metric.WithDescription("Duration of live session token exchanges"),
		metric.WithUnit("ms"))

	bm.requests, _ = meter.Int64Counter("asxtrader_broker_requests",
		metric.WithDescription("Signed broker API requests"),
		metric.WithUnit("{request}"))

	bm.requestLatency, _ = meter.Float64Histogram("asxtrader_broker_request_duration",
		metric.WithDescription("Round trip time of signed broker API requests"),
		metric.WithUnit("ms"))

	bm.tickles, _ = meter.Int64Counter("asxtrader_broker_tickles",
		metric.WithDescription("Session keep-alive tickles sent to the broker"),
		metric.WithUnit("{tickle}"))

	bm.renewals, _ = meter.Int64Counter("asxtrader_broker_renewals",
		metric.WithDescription("Background live session token renewals"),
		metric.WithUnit("{renewal}"))

	bm.brokerErrors, _ = meter.Int64Counter("asxtrader_broker_errors",
		metric.WithDescription("Errors reported by the broker adapter"),
		metric.WithUnit("{error}"))

	bm.connectionState, _ = meter.Int64ObservableGauge("asxtrader_broker_connection_state",
		metric.WithDescription("Current broker connection state (1 for the active state)"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			current := c.State()
			for _, state := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected} {
				var v int64
				if state == current {
					v = 1
				}
				attrs := telemetry.ConnectionAttributes(bm.environment, bm.provider, bm.mode, strings.ToLower(state.String()))
				observer.Observe(v, metric.WithAttributes(attrs...))
			}
			return nil
		}))

	return bm
}

func (bm *brokerMetrics) recordHandshake(duration time.Duration, err error) {
	if bm == nil || bm.handshakes == nil {
		return
	}
	ctx := context.Background()
	attrs := telemetry.OperationResultAttributes(bm.environment, bm.provider, telemetry.OperationHandshake, resultOf(err))
	bm.handshakes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bm.handshakeLatency != nil {
		bm.handshakeLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
	if err != nil {
		bm.recordError(ctx, telemetry.OperationHandshake, err)
	}
}

func (bm *brokerMetrics) recordRequest(ctx context.Context, method string, status int, latency time.Duration) {
	if bm == nil || bm.requests == nil {
		return
	}
	ctx = ensureContext(ctx)
	if latency < 0 {
		latency = 0
	}
	attrs := telemetry.RequestAttributes(bm.environment, bm.provider, strings.ToUpper(method), status)
	bm.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bm.requestLatency != nil {
		bm.requestLatency.Record(ctx, float64(latency.Milliseconds()), metric.WithAttributes(attrs...))
	}
}

func (bm *brokerMetrics) recordTickle(ctx context.Context, err error) {
	if bm == nil || bm.tickles == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := telemetry.OperationResultAttributes(bm.environment, bm.provider, telemetry.OperationTickle, resultOf(err))
	bm.tickles.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		bm.recordError(ctx, telemetry.OperationTickle, err)
	}
}

func (bm *brokerMetrics) recordRenewal(ctx context.Context, err error) {
	if bm == nil || bm.renewals == nil {
		return
	}
	ctx = ensureContext(ctx)
	attrs := telemetry.OperationResultAttributes(bm.environment, bm.provider, telemetry.OperationRenewal, resultOf(err))
	bm.renewals.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (bm *brokerMetrics) recordError(ctx context.Context, operation string, err error) {
	if bm == nil || bm.brokerErrors == nil || err == nil {
		return
	}
	attrs := telemetry.ErrorAttributes(bm.environment, bm.provider, operation, errorType(err))
	bm.brokerErrors.Add(ensureContext(ctx), 1, metric.WithAttributes(attrs...))
}

func resultOf(err error) string {
	if err != nil {
		return telemetry.ResultError
	}
	return telemetry.ResultSuccess
}

func errorType(err error) string {
	if e, ok := errs.As(err); ok {
		return string(e.Code)
	}
	return "unknown"
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
