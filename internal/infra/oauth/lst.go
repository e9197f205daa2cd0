package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/asxtrader/errs"
)

// LiveSessionTokenPath is the broker endpoint that mints live session tokens.
const LiveSessionTokenPath = "/oauth/live_session_token"

const (
	defaultExchangeTimeout = 15 * time.Second
	maxErrorBody           = 4 << 10
	maxResponseBody        = 64 << 10
)

// ExchangeState tracks one exchange attempt.
type ExchangeState int32

const (
	StateNotStarted ExchangeState = iota
	StateChallengeSent
	StateTokenDerived
	StateFailed
)

func (s ExchangeState) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateChallengeSent:
		return "CHALLENGE_SENT"
	case StateTokenDerived:
		return "TOKEN_DERIVED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("ExchangeState(%d)", int32(s))
	}
}

// LiveSessionToken is an immutable derived session secret. Replace it, never mutate it.
type LiveSessionToken struct {
	Value      []byte
	Expiration time.Time
	Validated  bool
}

// ExpirationMillis returns the expiry as epoch milliseconds.
func (t *LiveSessionToken) ExpirationMillis() int64 {
	if t == nil {
		return 0
	}
	return t.Expiration.UnixMilli()
}

// ExchangerOptions configure an Exchanger.
type ExchangerOptions struct {
	// BaseURL is the broker API root, e.g. https://api.ibkr.com/v1/api.
	BaseURL    string
	HTTPClient *http.Client
	// Rand feeds DH exponents and nonces. Nil means crypto/rand.
	Rand   io.Reader
	Now    func() time.Time
	Logger logrus.FieldLogger
}

// Exchanger performs live session token handshakes. One Exchange call is one
// attempt with a fresh DH challenge; it never retries.
type Exchanger struct {
	baseURL string
	client  *http.Client
	rand    io.Reader
	now     func() time.Time
	logger  logrus.FieldLogger

	lastState atomic.Int32
}

// NewExchanger constructs an Exchanger.
func NewExchanger(opts ExchangerOptions) *Exchanger {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultExchangeTimeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exchanger{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		client:  client,
		rand:    opts.Rand,
		now:     now,
		logger:  logger.WithField("component", "lst_exchange"),
	}
}

// LastState reports the state the most recent attempt ended in.
func (x *Exchanger) LastState() ExchangeState {
	return ExchangeState(x.lastState.Load())
}

type lstResponse struct {
	DHResponse string `json:"diffie_hellman_response"`
	Signature  string `json:"live_session_token_signature"`
	Expiration int64  `json:"live_session_token_expiration"`
	Prepend    string `json:"prepend"`
}

type exchangeAttempt struct {
	state     ExchangeState
	challenge *DHChallenge
	prepend   []byte
	shared    []byte
}

func (a *exchangeAttempt) discard() {
	a.challenge.Discard()
	zero(a.prepend)
	zero(a.shared)
	a.prepend, a.shared = nil, nil
}

// Exchange runs one handshake against the broker and returns a validated token.
func (x *Exchanger) Exchange(ctx context.Context, kr *Keyring) (token *LiveSessionToken, err error) {
	if kr == nil {
		return nil, errs.New(component, errs.CodeConfiguration, errs.WithMessage("keyring required"))
	}
	attempt := &exchangeAttempt{state: StateNotStarted}
	x.lastState.Store(int32(StateNotStarted))
	defer func() {
		attempt.discard()
		if err != nil {
			attempt.state = StateFailed
			token = nil
		}
		x.lastState.Store(int32(attempt.state))
		x.logger.WithField("state", attempt.state.String()).Debug("lst exchange finished")
	}()

	challenge, err := NewDHChallenge(x.rand, kr.prime)
	if err != nil {
		return nil, err
	}
	attempt.challenge = challenge

	resp, err := x.requestToken(ctx, kr, challenge.PublicHex())
	if err != nil {
		return nil, err
	}
	attempt.state = StateChallengeSent

	if resp.DHResponse == "" || resp.Signature == "" || resp.Prepend == "" || resp.Expiration <= 0 {
		return nil, errs.New(component, errs.CodeAuth, errs.WithMessage("lst response incomplete"))
	}

	attempt.prepend, err = DecryptPrepend(kr.encryptionKey, resp.Prepend)
	if err != nil {
		return nil, errs.New(component, errs.CodeAuth, errs.WithMessage("prepend decryption failed"), errs.WithCause(err))
	}
	attempt.shared, err = challenge.SharedSecret(resp.DHResponse)
	if err != nil {
		return nil, errs.New(component, errs.CodeAuth, errs.WithMessage("dh shared secret"), errs.WithCause(err))
	}

	value := DeriveLiveSessionToken(kr.accessSecret, attempt.prepend, attempt.shared)
	if !ValidateLiveSessionToken(value, kr.ConsumerKey, resp.Signature) {
		zero(value)
		return nil, errs.New(component, errs.CodeAuth,
			errs.WithMessage("LST validation failed"),
			errs.WithCanonicalCode(errs.CanonicalValidationFailed))
	}
	attempt.state = StateTokenDerived

	return &LiveSessionToken{Value: value, Expiration: time.UnixMilli(resp.Expiration), Validated: true}, nil
}

func (x *Exchanger) requestToken(ctx context.Context, kr *Keyring, publicHex string) (lstResponse, error) {
	endpoint := x.baseURL + LiveSessionTokenPath
	nonce, err := NewNonce(x.rand)
	if err != nil {
		return lstResponse{}, errs.New(component, errs.CodeAuth, errs.WithMessage("nonce"), errs.WithCause(err))
	}
	params := NewParams(kr.ConsumerKey, kr.AccessToken, SignatureMethodRSA, nonce, x.now())
	params[ParamDHChallenge] = publicHex
	if err := Sign(http.MethodPost, endpoint, params, kr.signatureKey, nil); err != nil {
		return lstResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return lstResponse{}, fmt.Errorf("create lst request: %w", err)
	}
	req.Header.Set("Authorization", params.AuthorizationHeader(kr.Realm))
	req.Header.Set("Accept", "application/json")

	res, err := x.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return lstResponse{}, ctx.Err()
		}
		return lstResponse{}, errs.New(component, errs.CodeNetwork, errs.WithMessage("lst request"), errs.WithCause(err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		code := errs.CodeRequest
		canonical := errs.CanonicalUnknown
		if res.StatusCode == http.StatusUnauthorized {
			code = errs.CodeAuth
			canonical = errs.CanonicalUnauthorized
		}
		return lstResponse{}, errs.New(component, code,
			errs.WithHTTP(res.StatusCode),
			errs.WithMessage("lst request rejected"),
			errs.WithBody(strings.TrimSpace(string(body))),
			errs.WithCanonicalCode(canonical))
	}

	var payload lstResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBody)).Decode(&payload); err != nil {
		return lstResponse{}, errs.New(component, errs.CodeAuth, errs.WithMessage("decode lst response"), errs.WithCause(err))
	}
	return payload, nil
}

// DeriveLiveSessionToken computes HMAC-SHA256(key=accessSecret, msg=prepend||shared).
func DeriveLiveSessionToken(accessSecret, prepend, shared []byte) []byte {
	mac := hmac.New(sha256.New, accessSecret)
	mac.Write(prepend)
	mac.Write(shared)
	return mac.Sum(nil)
}

// ValidationSignature returns hex(HMAC-SHA256(key=token, msg=consumerKey)).
func ValidationSignature(token []byte, consumerKey string) string {
	mac := hmac.New(sha256.New, token)
	mac.Write([]byte(consumerKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateLiveSessionToken compares the broker signature with the local one in
// constant time.
func ValidateLiveSessionToken(token []byte, consumerKey, expectedHex string) bool {
	expected, err := hex.DecodeString(strings.TrimSpace(expectedHex))
	if err != nil || len(expected) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, token)
	mac.Write([]byte(consumerKey))
	return hmac.Equal(mac.Sum(nil), expected)
}
