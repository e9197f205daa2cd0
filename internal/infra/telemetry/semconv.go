package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for broker session telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrProvider identifies which broker adapter produced the signal.
	AttrProvider = attribute.Key("provider")
	// AttrMode separates paper and live sessions.
	AttrMode = attribute.Key("trading.mode")
	// AttrOperation differentiates broker operations (handshake, tickle, renewal, request).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrErrorType categorizes failures by error family.
	AttrErrorType = attribute.Key("error.type")
	// AttrHTTPMethod labels signed request metrics.
	AttrHTTPMethod = attribute.Key("http.request.method")
	// AttrHTTPStatus carries the broker response status class (2xx, 4xx, ...).
	AttrHTTPStatus = attribute.Key("http.response.status_class")
	// AttrConnectionState labels connection lifecycle signals.
	AttrConnectionState = attribute.Key("connection.state")
)

// Operation values
const (
	OperationHandshake = "handshake"
	OperationRequest   = "request"
	OperationTickle    = "tickle"
	OperationRenewal   = "renewal"
	OperationLogout    = "logout"
)

// Result values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, provider, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrProvider.String(provider),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// RequestAttributes returns attributes for signed request metrics. A zero status
// means no response was received.
func RequestAttributes(environment, provider, method string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrProvider.String(provider),
		AttrHTTPMethod.String(method),
		AttrHTTPStatus.String(StatusClass(status)),
	}
}

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(environment, provider, mode, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrProvider.String(provider),
		AttrMode.String(mode),
		AttrConnectionState.String(state),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, provider, operation, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrProvider.String(provider),
		AttrOperation.String(operation),
		AttrErrorType.String(errorType),
	}
}

// StatusClass folds an HTTP status into its class, e.g. 401 -> "4xx".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}
