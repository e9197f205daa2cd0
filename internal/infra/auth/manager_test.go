package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/asxtrader/errs"
	"github.com/coachpo/asxtrader/internal/infra/oauth"
)

const testdataDir = "../oauth/testdata"

func testCredentials() oauth.Credentials {
	return oauth.Credentials{
		ConsumerKey:       "TESTCONS",
		AccessToken:       "a1b2c3d4e5f6a7b8c9d0",
		AccessTokenSecret: "EBESExQVFhcYGRobHB0eHyAhIiMkJSYnKCkqKywtLi8=",
		SignatureKeyPath:  filepath.Join(testdataDir, "signature_key.pem"),
		EncryptionKeyPath: filepath.Join(testdataDir, "encryption_key.pem"),
		DHPrime:           "17",
	}
}

type fakeExchanger struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	expires func() time.Time
	release chan struct{}
}

func (f *fakeExchanger) Exchange(ctx context.Context, _ *oauth.Keyring) (*oauth.LiveSessionToken, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.LiveSessionToken{Value: []byte{byte(n)}, Expiration: f.expires(), Validated: true}, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newTestManager(t *testing.T, ex Exchanger, clock *fixedClock) *Manager {
	t.Helper()
	m, err := NewManager(testCredentials(), ex, WithClock(clock.Now))
	require.NoError(t, err)
	return m
}

func TestIsExpiringBoundary(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	m := newTestManager(t, &fakeExchanger{}, clock)
	skew := 300 * time.Second

	require.True(t, m.IsExpiring(skew), "unset token is expiring")

	m.SetToken(&oauth.LiveSessionToken{Value: []byte{1}, Expiration: clock.now.Add(299 * time.Second)})
	require.True(t, m.IsExpiring(skew))

	m.SetToken(&oauth.LiveSessionToken{Value: []byte{1}, Expiration: clock.now.Add(301 * time.Second)})
	require.False(t, m.IsExpiring(skew))

	m.SetToken(&oauth.LiveSessionToken{Value: []byte{1}, Expiration: clock.now.Add(300 * time.Second)})
	require.True(t, m.IsExpiring(skew), "now+skew == expiration counts as expiring")

	m.Clear()
	require.True(t, m.IsExpiring(skew))
	_, ok := m.Expiration()
	require.False(t, ok)
}

func TestSetTokenReplacesValueAndExpiryTogether(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	m := newTestManager(t, &fakeExchanger{}, clock)

	first := &oauth.LiveSessionToken{Value: []byte{1}, Expiration: clock.now.Add(time.Hour)}
	second := &oauth.LiveSessionToken{Value: []byte{2}, Expiration: clock.now.Add(2 * time.Hour)}
	m.SetToken(first)
	m.SetToken(second)

	got := m.Token()
	require.Same(t, second, got)
	exp, ok := m.Expiration()
	require.True(t, ok)
	require.Equal(t, second.Expiration, exp)
}

func TestNewManagerMissingKeyFile(t *testing.T) {
	creds := testCredentials()
	creds.SignatureKeyPath = filepath.Join(t.TempDir(), "missing.pem")
	_, err := NewManager(creds, &fakeExchanger{})
	require.Error(t, err)
	require.True(t, errs.IsConfiguration(err))
}

func TestNewManagerMissingField(t *testing.T) {
	creds := testCredentials()
	creds.AccessToken = " "
	_, err := NewManager(creds, &fakeExchanger{})
	require.True(t, errs.IsConfiguration(err))

	_, err = NewManager(testCredentials(), nil)
	require.True(t, errs.IsConfiguration(err))
}

func TestRenewSingleFlight(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	ex := &fakeExchanger{
		release: make(chan struct{}),
		expires: func() time.Time { return clock.Now().Add(time.Hour) },
	}
	m := newTestManager(t, ex, clock)

	stale := &oauth.LiveSessionToken{Value: []byte{0}, Expiration: clock.now.Add(10 * time.Second)}
	m.SetToken(stale)
	require.True(t, m.IsExpiring(DefaultExpirySkew))

	const callers = 16
	results := make([]*oauth.LiveSessionToken, callers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			token, err := m.Renew(context.Background(), stale)
			require.NoError(t, err)
			results[i] = token
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(ex.release)
	wg.Wait()

	require.Equal(t, int32(1), ex.calls.Load())
	for _, token := range results {
		require.Same(t, results[0], token)
	}
	require.Same(t, results[0], m.Token())
	require.False(t, m.IsExpiring(DefaultExpirySkew))
}

func TestRenewReusesTokenRenewedByAnotherCaller(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	ex := &fakeExchanger{expires: func() time.Time { return clock.Now().Add(time.Hour) }}
	m := newTestManager(t, ex, clock)

	stale := &oauth.LiveSessionToken{Value: []byte{0}, Expiration: clock.now}
	m.SetToken(stale)

	first, err := m.Renew(context.Background(), stale)
	require.NoError(t, err)
	second, err := m.Renew(context.Background(), stale)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, int32(1), ex.calls.Load())

	third, err := m.Renew(context.Background(), first)
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.Equal(t, int32(2), ex.calls.Load())
}

func TestRenewFailureKeepsState(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	boom := errs.New("oauth", errs.CodeAuth, errs.WithMessage("LST validation failed"))
	var observed []error
	ex := &fakeExchanger{err: boom}
	m, err := NewManager(testCredentials(), ex, WithClock(clock.Now), WithRenewObserver(func(_ time.Duration, err error) {
		observed = append(observed, err)
	}))
	require.NoError(t, err)

	_, err = m.Renew(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	require.Nil(t, m.Token())
	require.Len(t, observed, 1)
}

func TestRenewHonoursCallerContext(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	ex := &fakeExchanger{release: make(chan struct{}), expires: func() time.Time { return clock.Now().Add(time.Hour) }}
	m := newTestManager(t, ex, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := m.Renew(ctx, nil)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Nil(t, m.Token())
}

func TestClearDuringRenewalDiscardsResult(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	ex := &fakeExchanger{release: make(chan struct{}), expires: func() time.Time { return clock.Now().Add(time.Hour) }}
	m := newTestManager(t, ex, clock)

	done := make(chan error, 1)
	go func() {
		_, err := m.Renew(context.Background(), nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	m.Clear()
	close(ex.release)

	err := <-done
	require.True(t, errs.IsAuthentication(err))
	require.Nil(t, m.Token())
}
