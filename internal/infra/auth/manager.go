// Package auth owns the broker credentials and the current live session token.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/coachpo/asxtrader/errs"
	"github.com/coachpo/asxtrader/internal/infra/oauth"
)

const (
	// DefaultExpirySkew is how long before expiry a token counts as expiring.
	DefaultExpirySkew = 300 * time.Second

	renewKey  = "lst"
	component = "auth"
)

// Exchanger mints live session tokens. *oauth.Exchanger satisfies it.
type Exchanger interface {
	Exchange(ctx context.Context, kr *oauth.Keyring) (*oauth.LiveSessionToken, error)
}

// RenewObserver receives the outcome of every exchange the manager runs.
type RenewObserver func(duration time.Duration, err error)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithExpirySkew sets the skew used by Renew to decide whether a fresh token is still usable.
func WithExpirySkew(skew time.Duration) Option {
	return func(m *Manager) {
		if skew > 0 {
			m.skew = skew
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRenewObserver registers a callback for exchange outcomes.
func WithRenewObserver(fn RenewObserver) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// Manager holds the keyring and the current token. The token pointer is swapped as
// a whole, so value and expiry always change together.
type Manager struct {
	keyring   *oauth.Keyring
	exchanger Exchanger
	now       func() time.Time
	skew      time.Duration
	logger    logrus.FieldLogger
	observer  RenewObserver

	mu    sync.RWMutex
	token *oauth.LiveSessionToken
	// generation advances on every SetToken/Clear so an exchange that started
	// before a Clear cannot publish afterwards.
	generation uint64

	flight singleflight.Group
}

// NewManager loads the credentials and returns a manager without a token.
// Missing fields or unreadable key files fail with a configuration error.
func NewManager(creds oauth.Credentials, exchanger Exchanger, opts ...Option) (*Manager, error) {
	if exchanger == nil {
		return nil, errs.New(component, errs.CodeConfiguration, errs.WithMessage("exchanger required"))
	}
	kr, err := creds.Load()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		keyring:   kr,
		exchanger: exchanger,
		now:       time.Now,
		skew:      DefaultExpirySkew,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = m.logger.WithField("component", component)
	return m, nil
}

// Keyring returns the loaded credentials.
func (m *Manager) Keyring() *oauth.Keyring {
	return m.keyring
}

// Token returns the current token or nil.
func (m *Manager) Token() *oauth.LiveSessionToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// SetToken replaces the current token.
func (m *Manager) SetToken(token *oauth.LiveSessionToken) {
	m.mu.Lock()
	m.token = token
	m.generation++
	m.mu.Unlock()
}

func (m *Manager) snapshot() (*oauth.LiveSessionToken, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.generation
}

func (m *Manager) publish(token *oauth.LiveSessionToken, generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation {
		return false
	}
	m.token = token
	m.generation++
	return true
}

// Clear drops the current token.
func (m *Manager) Clear() {
	m.SetToken(nil)
}

// Expiration returns the expiry of the current token.
func (m *Manager) Expiration() (time.Time, bool) {
	token := m.Token()
	if token == nil {
		return time.Time{}, false
	}
	return token.Expiration, true
}

// IsExpiring reports whether the token is unset or now+skew has reached its expiry.
func (m *Manager) IsExpiring(skew time.Duration) bool {
	return m.expiring(m.Token(), skew)
}

func (m *Manager) expiring(token *oauth.LiveSessionToken, skew time.Duration) bool {
	if token == nil || token.Expiration.IsZero() {
		return true
	}
	return !m.now().Add(skew).Before(token.Expiration)
}

// Renew runs at most one exchange at a time. Callers pass the token they last
// used (or nil); if another caller already replaced it with a usable token, that
// token is returned without a new exchange.
func (m *Manager) Renew(ctx context.Context, stale *oauth.LiveSessionToken) (*oauth.LiveSessionToken, error) {
	ch := m.flight.DoChan(renewKey, func() (any, error) {
		current, generation := m.snapshot()
		if current != nil && current != stale && !m.expiring(current, m.skew) {
			return current, nil
		}
		// The flight outlives any single caller's cancellation.
		exchangeCtx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			exchangeCtx, cancel = context.WithDeadline(exchangeCtx, deadline)
			defer cancel()
		}
		start := m.now()
		token, err := m.exchanger.Exchange(exchangeCtx, m.keyring)
		if m.observer != nil {
			m.observer(m.now().Sub(start), err)
		}
		if err != nil {
			m.logger.WithError(err).Warn("live session token renewal failed")
			return nil, err
		}
		if !m.publish(token, generation) {
			return nil, errs.New(component, errs.CodeAuth, errs.WithMessage("session cleared during renewal"))
		}
		m.logger.WithField("expires_at", token.Expiration.UTC().Format(time.RFC3339)).Info("live session token renewed")
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth.LiveSessionToken), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
