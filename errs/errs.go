// Package errs provides the structured error envelope shared by the broker session stack.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies the failure family of an error.
type Code string

const (
	// CodeConfiguration indicates missing or invalid credentials, key files or settings.
	CodeConfiguration Code = "configuration"
	// CodeAuth indicates signing failures, LST validation mismatches or rejected sessions.
	CodeAuth Code = "auth"
	// CodeConnection indicates an operation that requires an established broker session.
	CodeConnection Code = "connection"
	// CodeRequest indicates a broker HTTP error response or exhausted transport retries.
	CodeRequest Code = "request"
	// CodeNetwork indicates a transient transport failure.
	CodeNetwork Code = "network"
	// CodeRateLimited indicates that the broker throttled the request.
	CodeRateLimited Code = "rate_limited"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// CanonicalCode refines a Code with a broker-agnostic reason.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalUnauthorized marks a 401 from the broker.
	CanonicalUnauthorized CanonicalCode = "unauthorized"
	// CanonicalTokenMissing marks a signing attempt without a live session token.
	CanonicalTokenMissing CanonicalCode = "token_missing"
	// CanonicalValidationFailed marks a live session token whose signature did not verify.
	CanonicalValidationFailed CanonicalCode = "lst_validation_failed"
	// CanonicalNotConnected marks calls made while the session is down.
	CanonicalNotConnected CanonicalCode = "not_connected"
	// CanonicalRateLimited indicates the request was rate limited.
	CanonicalRateLimited CanonicalCode = "rate_limited"
	// CanonicalRetriesExhausted marks a transport failure that outlived the retry budget.
	CanonicalRetriesExhausted CanonicalCode = "retries_exhausted"
)

// E captures structured error information produced across the broker stack.
type E struct {
	Component   string
	Code        Code
	HTTP        int
	Message     string
	Body        string
	Canonical   CanonicalCode
	Fields      map[string]string
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component:   strings.TrimSpace(component),
		Code:        code,
		HTTP:        0,
		Message:     "",
		Body:        "",
		Canonical:   CanonicalUnknown,
		Fields:      nil,
		Remediation: "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithBody captures the raw broker response body.
func WithBody(body string) Option {
	return func(e *E) {
		e.Body = body
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical error code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithFields merges the provided diagnostic fields into the error envelope.
func WithFields(fields map[string]string) Option {
	return func(e *E) {
		if len(fields) == 0 {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, len(fields))
		}
		for k, v := range fields {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Fields[key] = strings.TrimSpace(v)
		}
	}
}

// WithField appends a single diagnostic key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.Body != "" {
		parts = append(parts, "body="+strconv.Quote(e.Body))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// As extracts the outermost envelope from an error chain.
func As(err error) (*E, bool) {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// Is reports whether any envelope in the chain carries the code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *E
		if !errors.As(err, &e) || e == nil {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// IsConfiguration reports configuration failures. These are never retried.
func IsConfiguration(err error) bool { return Is(err, CodeConfiguration) }

// IsAuthentication reports authentication failures, including broker 401s.
func IsAuthentication(err error) bool { return Is(err, CodeAuth) }

// IsConnection reports calls attempted without an established session.
func IsConnection(err error) bool { return Is(err, CodeConnection) }

// IsRequest reports broker HTTP failures other than 401.
func IsRequest(err error) bool { return Is(err, CodeRequest) || Is(err, CodeRateLimited) }

// IsNetwork reports transient transport failures.
func IsNetwork(err error) bool { return Is(err, CodeNetwork) }

// IsUnauthorized reports a 401 from the broker, the signal to renew the session token and retry once.
func IsUnauthorized(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Code == CodeAuth && (e.HTTP == 401 || e.Canonical == CanonicalUnauthorized)
}

// HTTPStatus returns the broker status code carried by err, or 0.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		return e.HTTP
	}
	return 0
}

// NotConnected returns the standard error for calls made while disconnected.
func NotConnected(component string) *E {
	return New(component, CodeConnection, WithMessage("not connected"), WithCanonicalCode(CanonicalNotConnected))
}
