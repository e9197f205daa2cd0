package ibkr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/asxtrader/errs"
	"github.com/coachpo/asxtrader/internal/infra/auth"
	"github.com/coachpo/asxtrader/internal/infra/oauth"
	"github.com/coachpo/asxtrader/internal/infra/telemetry"
)

// ConnectionState is the lifecycle state of a broker session.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// Connection owns one brokerage session: the token manager, the signed REST
// client, the cached account and the keep-alive loop.
type Connection struct {
	opts    Options
	auth    *auth.Manager
	rest    *RESTClient
	logger  logrus.FieldLogger
	metrics *brokerMetrics

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex
	state     atomic.Int32

	mu      sync.RWMutex
	account string

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopWG     *conc.WaitGroup

	renewFailures atomic.Int32
}

// NewConnection loads the credentials and wires the exchanger, token manager and
// REST client. Credential problems surface here as configuration errors.
func NewConnection(opts Options) (*Connection, error) {
	opts = withDefaults(opts)
	c := &Connection{
		opts:   opts,
		logger: opts.Logger.WithFields(logrus.Fields{"component": component, "mode": string(opts.Config.Mode)}),
	}
	c.metrics = newBrokerMetrics(c)

	exchanger := oauth.NewExchanger(oauth.ExchangerOptions{
		BaseURL:    opts.Config.BaseURL,
		HTTPClient: opts.HTTPClient,
		Rand:       opts.Rand,
		Now:        opts.Now,
		Logger:     opts.Logger,
	})
	manager, err := auth.NewManager(opts.Credentials, exchanger,
		auth.WithClock(opts.Now),
		auth.WithExpirySkew(opts.Config.ExpirySkew),
		auth.WithLogger(opts.Logger),
		auth.WithRenewObserver(c.metrics.recordHandshake))
	if err != nil {
		return nil, err
	}
	c.auth = manager
	c.rest = newRESTClient(opts, manager.Keyring(), manager, c.metrics)
	return c, nil
}

// Mode returns the trading mode fixed at construction.
func (c *Connection) Mode() Mode {
	return c.opts.Config.Mode
}

// State returns the lifecycle state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) setState(s ConnectionState) {
	prev := ConnectionState(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Info("broker connection state changed")
	}
}

// Auth exposes the token manager.
func (c *Connection) Auth() *auth.Manager {
	return c.auth
}

// Connect runs the handshake, initialises the brokerage session and discovers the
// account, all within timeout. A zero timeout uses the configured default. On
// failure the token is cleared and the connection stays DISCONNECTED.
func (c *Connection) Connect(ctx context.Context, timeout time.Duration) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.IsConnected() {
		return nil
	}
	if timeout <= 0 {
		timeout = c.opts.Config.ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.stopKeepAlive()
	c.setState(StateConnecting)
	account, err := c.establish(ctx)
	if err != nil {
		c.auth.Clear()
		c.setAccount("")
		c.setState(StateDisconnected)
		if errors.Is(err, context.DeadlineExceeded) {
			err = errs.New(component, errs.CodeConnection,
				errs.WithMessage(fmt.Sprintf("connect timed out after %s", timeout)),
				errs.WithCause(err))
		}
		c.logger.WithError(err).Error("broker connect failed")
		return err
	}

	c.setAccount(account)
	c.renewFailures.Store(0)
	c.setState(StateConnected)
	c.startKeepAlive()
	c.logger.WithField("account", account).Info("broker session established")
	return nil
}

func (c *Connection) establish(ctx context.Context) (string, error) {
	if err := c.renewWithRetry(ctx); err != nil {
		return "", err
	}
	if err := c.initSession(ctx); err != nil {
		return "", err
	}
	account, err := c.discoverAccount(ctx)
	if err != nil {
		return "", err
	}
	c.checkMode(account)
	return account, nil
}

// renewWithRetry repeats the whole exchange, each time with a fresh challenge.
// Configuration errors and cancellation stop it at once.
func (c *Connection) renewWithRetry(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.Config.RetryInitialInterval
	policy.MaxInterval = defaultRetryMaxInterval

	_, err := backoff.Retry(ctx, func() (*oauth.LiveSessionToken, error) {
		token, err := c.auth.Renew(ctx, c.auth.Token())
		if err != nil && (errs.IsConfiguration(err) || isContextError(err)) {
			return nil, backoff.Permanent(err)
		}
		return token, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.opts.Config.RetryAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.WithError(err).WithField("retry_in", wait.String()).Warn("live session token exchange failed, retrying")
		}))
	return unwrapPermanent(err)
}

func (c *Connection) initSession(ctx context.Context) error {
	body := map[string]bool{"publish": true, "compete": true}
	if _, err := c.send(ctx, http.MethodPost, c.opts.metadata.sessionInitPath, nil, body); err != nil {
		return err
	}
	return nil
}

func (c *Connection) discoverAccount(ctx context.Context) (string, error) {
	for _, path := range []string{c.opts.metadata.accountsPath, c.opts.metadata.portfolioAccountsPath} {
		raw, err := c.send(ctx, http.MethodGet, path, nil, nil)
		if err != nil {
			return "", err
		}
		if account, ok := ParseAccountID(raw); ok {
			return account, nil
		}
		c.logger.WithField("path", path).Debug("no account id in reply")
	}
	c.logger.Warn("could not determine account id; continuing without one")
	return "", nil
}

func (c *Connection) checkMode(account string) {
	if account == "" {
		return
	}
	paper := IsPaperAccount(account)
	if paper != (c.opts.Config.Mode == ModePaper) {
		c.logger.WithField("account", account).Warn("account does not match trading mode")
	}
}

// Disconnect stops the keep-alive loop, logs out best effort and clears the
// token. Calling it again is a no-op.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stopKeepAlive()
	if token := c.auth.Token(); token != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, defaultLogoutTimeout)
		if _, err := c.rest.send(logoutCtx, token, http.MethodPost, c.opts.metadata.logoutPath, nil, nil); err != nil {
			c.logger.WithError(err).Warn("broker logout failed")
			c.metrics.recordError(ctx, telemetry.OperationLogout, err)
		}
		cancel()
	}
	c.auth.Clear()
	c.setAccount("")
	c.setState(StateDisconnected)
	return nil
}

// IsConnected reports a CONNECTED session with a token in hand.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected && c.auth.Token() != nil
}

// Account returns the account discovered during Connect.
func (c *Connection) Account() (string, error) {
	if !c.IsConnected() {
		return "", errs.NotConnected(component)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.account == "" {
		return "", errs.New(component, errs.CodeConnection, errs.WithMessage("account id unknown"))
	}
	return c.account, nil
}

func (c *Connection) setAccount(account string) {
	c.mu.Lock()
	c.account = account
	c.mu.Unlock()
}

// Request sends a signed request on the established session and decodes the reply.
func (c *Connection) Request(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	raw, err := c.request(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	return decodeAny(raw)
}

// RequestInto is Request decoding into out.
func (c *Connection) RequestInto(ctx context.Context, method, path string, query url.Values, body, out any) error {
	raw, err := c.request(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	return decodeInto(raw, out)
}

func (c *Connection) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	if !c.IsConnected() {
		return nil, errs.NotConnected(component)
	}
	return c.send(ctx, method, path, query, body)
}

// send renews ahead of expiry, then signs and sends. A 401 triggers one shared
// renewal and exactly one retry.
func (c *Connection) send(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	token := c.auth.Token()
	if c.auth.IsExpiring(c.opts.Config.ExpirySkew) {
		renewed, err := c.auth.Renew(ctx, token)
		if err != nil {
			return nil, err
		}
		token = renewed
	}
	if token == nil {
		return nil, errs.New(component, errs.CodeAuth,
			errs.WithMessage("no live session token"),
			errs.WithCanonicalCode(errs.CanonicalTokenMissing))
	}

	raw, err := c.rest.send(ctx, token, method, path, query, body)
	if !errs.IsUnauthorized(err) {
		return raw, err
	}

	c.logger.WithField("path", path).Warn("broker returned 401, renewing live session token")
	renewed, rerr := c.auth.Renew(ctx, token)
	if rerr != nil {
		return nil, rerr
	}
	raw, err = c.rest.send(ctx, renewed, method, path, query, body)
	if errs.IsUnauthorized(err) {
		return nil, errs.New(component, errs.CodeAuth,
			errs.WithHTTP(http.StatusUnauthorized),
			errs.WithMessage("unauthorized after token renewal"),
			errs.WithCanonicalCode(errs.CanonicalUnauthorized),
			errs.WithCause(err))
	}
	return raw, err
}
