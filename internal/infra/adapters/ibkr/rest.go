package ibkr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/coachpo/asxtrader/errs"
	"github.com/coachpo/asxtrader/internal/infra/oauth"
)

const (
	component       = "ibkr"
	maxErrorBody    = 4 << 10
	maxResponseBody = 8 << 20
)

// TokenSource supplies the current live session token. *auth.Manager satisfies it.
type TokenSource interface {
	Token() *oauth.LiveSessionToken
}

// RESTClient signs broker API calls with the live session token and sends them.
// Transport failures are retried; broker responses never are.
type RESTClient struct {
	baseURL   string
	client    *http.Client
	keyring   *oauth.Keyring
	tokens    TokenSource
	limiter   *rate.Limiter
	attempts  uint
	initial   time.Duration
	rand      io.Reader
	now       func() time.Time
	logger    logrus.FieldLogger
	metrics   *brokerMetrics
	userAgent string
}

// NewRESTClient builds a client for opts. The keyring supplies the consumer key,
// access token and realm; tokens supplies the signing key for each request.
func NewRESTClient(opts Options, keyring *oauth.Keyring, tokens TokenSource) *RESTClient {
	opts = withDefaults(opts)
	return newRESTClient(opts, keyring, tokens, nil)
}

func newRESTClient(opts Options, keyring *oauth.Keyring, tokens TokenSource, metrics *brokerMetrics) *RESTClient {
	return &RESTClient{
		baseURL:   opts.Config.BaseURL,
		client:    opts.HTTPClient,
		keyring:   keyring,
		tokens:    tokens,
		limiter:   rate.NewLimiter(rate.Limit(opts.Config.RateLimit), opts.Config.RateBurst),
		attempts:  uint(opts.Config.RetryAttempts),
		initial:   opts.Config.RetryInitialInterval,
		rand:      opts.Rand,
		now:       opts.Now,
		logger:    opts.Logger.WithField("component", "broker_rest"),
		metrics:   metrics,
		userAgent: "asxtrader/" + opts.Config.Name,
	}
}

// Do sends a signed request and decodes the JSON reply into map[string]any, []any
// or a scalar. An empty reply decodes to nil.
func (c *RESTClient) Do(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	raw, err := c.send(ctx, nil, method, path, query, body)
	if err != nil {
		return nil, err
	}
	return decodeAny(raw)
}

// DoInto sends a signed request and decodes the JSON reply into out.
func (c *RESTClient) DoInto(ctx context.Context, method, path string, query url.Values, body, out any) error {
	raw, err := c.send(ctx, nil, method, path, query, body)
	if err != nil {
		return err
	}
	return decodeInto(raw, out)
}

// send signs with token, or with the current token when token is nil, and returns
// the raw response body.
func (c *RESTClient) send(ctx context.Context, token *oauth.LiveSessionToken, method, path string, query url.Values, body any) ([]byte, error) {
	if token == nil {
		token = c.tokens.Token()
	}
	if token == nil || len(token.Value) == 0 {
		return nil, errs.New(component, errs.CodeAuth,
			errs.WithMessage("no live session token"),
			errs.WithCanonicalCode(errs.CanonicalTokenMissing))
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("encode request body"), errs.WithCause(err))
		}
		payload = encoded
	}

	requestID := uuid.NewString()
	logger := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial
	policy.MaxInterval = defaultRetryMaxInterval

	attempt := 0
	raw, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		out, err := c.roundTrip(ctx, token, method, endpoint, payload, logger.WithField("attempt", attempt))
		if err != nil && !errs.IsNetwork(err) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.WithError(err).WithField("retry_in", wait.String()).Warn("broker request failed, retrying")
		}))
	if err != nil {
		err = unwrapPermanent(err)
		if errs.IsNetwork(err) {
			return nil, errs.New(component, errs.CodeRequest,
				errs.WithMessage(fmt.Sprintf("%s %s failed after %d attempts", method, path, attempt)),
				errs.WithCanonicalCode(errs.CanonicalRetriesExhausted),
				errs.WithCause(err))
		}
		return nil, err
	}
	return raw, nil
}

func (c *RESTClient) roundTrip(ctx context.Context, token *oauth.LiveSessionToken, method, endpoint string, payload []byte, logger logrus.FieldLogger) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	nonce, err := oauth.NewNonce(c.rand)
	if err != nil {
		return nil, errs.New(component, errs.CodeAuth, errs.WithMessage("nonce"), errs.WithCause(err))
	}
	params := oauth.NewParams(c.keyring.ConsumerKey, c.keyring.AccessToken, oauth.SignatureMethodHMAC, nonce, c.now())
	if err := oauth.Sign(method, endpoint, params, nil, token.Value); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("create request"), errs.WithCause(err))
	}
	req.Header.Set("Authorization", params.AuthorizationHeader(c.keyring.Realm))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		c.metrics.recordRequest(ctx, method, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.New(component, errs.CodeNetwork, errs.WithMessage("transport"), errs.WithCause(err))
	}
	defer res.Body.Close()
	c.metrics.recordRequest(ctx, method, res.StatusCode, time.Since(start))
	logger.WithFields(logrus.Fields{
		"status":      res.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("broker request")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, statusError(res.StatusCode, body)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.New(component, errs.CodeNetwork, errs.WithMessage("read response"), errs.WithCause(err))
	}
	return body, nil
}

func statusError(status int, body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	switch status {
	case http.StatusUnauthorized:
		return errs.New(component, errs.CodeAuth,
			errs.WithHTTP(status),
			errs.WithMessage("broker rejected session token"),
			errs.WithBody(trimmed),
			errs.WithCanonicalCode(errs.CanonicalUnauthorized))
	case http.StatusTooManyRequests:
		return errs.New(component, errs.CodeRateLimited,
			errs.WithHTTP(status),
			errs.WithMessage("broker rate limit"),
			errs.WithBody(trimmed),
			errs.WithCanonicalCode(errs.CanonicalRateLimited))
	default:
		return errs.New(component, errs.CodeRequest,
			errs.WithHTTP(status),
			errs.WithMessage(fmt.Sprintf("broker status %d", status)),
			errs.WithBody(trimmed))
	}
}

func decodeAny(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.New(component, errs.CodeRequest, errs.WithMessage("decode response"), errs.WithCause(err))
	}
	return out, nil
}

func decodeInto(raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.New(component, errs.CodeRequest, errs.WithMessage("decode response"), errs.WithCause(err))
	}
	return nil
}

// unwrapPermanent strips the marker backoff leaves on a permanent error that
// happened on the final attempt.
func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
