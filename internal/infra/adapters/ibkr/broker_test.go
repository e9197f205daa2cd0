package ibkr

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/asxtrader/internal/infra/oauth"
)

const (
	apiPrefix        = "/v1/api"
	testConsumerKey  = "TESTCONS"
	testAccessToken  = "a1b2c3d4e5f6a7b8c9d0"
	testAccessSecret = "EBESExQVFhcYGRobHB0eHyAhIiMkJSYnKCkqKywtLi8="
	testAccount      = "DU123456"
	// 768-bit MODP group; small enough to keep the handshake fast in tests.
	testPrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A63A3620FFFFFFFFFFFFFFFF"
)

var testdataDir = filepath.Join("..", "..", "oauth", "testdata")

func testCredentials() oauth.Credentials {
	return oauth.Credentials{
		ConsumerKey:       testConsumerKey,
		AccessToken:       testAccessToken,
		AccessTokenSecret: testAccessSecret,
		SignatureKeyPath:  filepath.Join(testdataDir, "signature_key.pem"),
		EncryptionKeyPath: filepath.Join(testdataDir, "encryption_key.pem"),
		DHPrime:           testPrimeHex,
	}
}

// fakeBroker mints live session tokens with the real handshake math and only
// accepts API calls signed with a token it minted and has not revoked.
type fakeBroker struct {
	t      *testing.T
	server *httptest.Server
	prime  *big.Int
	encKey *rsa.PublicKey
	secret []byte

	mu                  sync.Mutex
	valid               map[string]bool
	exchanges           int
	failExchanges       int
	blockExchange       bool
	expiresIn           time.Duration
	accountsBody        string
	portfolioBody       string
	tickleAuthenticated bool
	inits               int
	initBodies          []map[string]bool
	tickles             int
	logouts             int
	unauthorized        map[string]bool
	statuses            map[string]int
	responses           map[string]string
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	prime, err := oauth.ParseDHPrime(testPrimeHex)
	require.NoError(t, err)
	encKey, err := oauth.LoadRSAPrivateKey(testCredentials().EncryptionKeyPath)
	require.NoError(t, err)
	secret, err := base64.StdEncoding.DecodeString(testAccessSecret)
	require.NoError(t, err)

	b := &fakeBroker{
		t:                   t,
		prime:               prime,
		encKey:              &encKey.PublicKey,
		secret:              secret,
		valid:               make(map[string]bool),
		expiresIn:           24 * time.Hour,
		accountsBody:        `{"accounts":["` + testAccount + `"],"selectedAccount":"` + testAccount + `"}`,
		portfolioBody:       `[]`,
		tickleAuthenticated: true,
		unauthorized:        make(map[string]bool),
		statuses:            make(map[string]int),
		responses:           make(map[string]string),
	}
	b.server = httptest.NewServer(b)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBroker) baseURL() string {
	return b.server.URL + apiPrefix
}

func (b *fakeBroker) with(fn func(b *fakeBroker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBroker) exchangeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchanges
}

func (b *fakeBroker) revokeAll() {
	b.with(func(b *fakeBroker) {
		for k := range b.valid {
			b.valid[k] = false
		}
	})
}

func (b *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	if path == oauth.LiveSessionTokenPath {
		b.serveExchange(w, r)
		return
	}
	if !b.authorised(r) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"not authorized"}`)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unauthorized[path] {
		writeJSON(w, http.StatusUnauthorized, `{"error":"not authorized"}`)
		return
	}
	if status, ok := b.statuses[path]; ok {
		writeJSON(w, status, `{"error":"forced"}`)
		return
	}
	switch path {
	case "/iserver/auth/ssodh/init":
		b.inits++
		var body map[string]bool
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.initBodies = append(b.initBodies, body)
		writeJSON(w, http.StatusOK, `{"authenticated":true,"connected":true,"competing":false}`)
	case "/iserver/accounts":
		writeJSON(w, http.StatusOK, b.accountsBody)
	case "/portfolio/accounts":
		writeJSON(w, http.StatusOK, b.portfolioBody)
	case "/tickle":
		b.tickles++
		auth := "true"
		if !b.tickleAuthenticated {
			auth = "false"
		}
		writeJSON(w, http.StatusOK, `{"session":"abc","iserver":{"authStatus":{"authenticated":`+auth+`,"competing":false,"connected":true}}}`)
	case "/logout":
		b.logouts++
		writeJSON(w, http.StatusOK, `{"status":true}`)
	case "/iserver/auth/status":
		writeJSON(w, http.StatusOK, `{"authenticated":true,"competing":false,"connected":true,"message":"","fail":""}`)
	default:
		if body, ok := b.responses[path]; ok {
			writeJSON(w, http.StatusOK, body)
			return
		}
		writeJSON(w, http.StatusNotFound, `{"error":"no route"}`)
	}
}

func (b *fakeBroker) serveExchange(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.exchanges++
	block := b.blockExchange
	fail := b.failExchanges > 0
	if fail {
		b.failExchanges--
	}
	expiresIn := b.expiresIn
	b.mu.Unlock()

	if block {
		<-r.Context().Done()
		return
	}
	if fail {
		writeJSON(w, http.StatusServiceUnavailable, `{"error":"try later"}`)
		return
	}

	realm, params, err := oauth.ParseAuthorizationHeader(r.Header.Get("Authorization"))
	require.NoError(b.t, err)
	require.Equal(b.t, oauth.RealmTest, realm)
	require.Equal(b.t, oauth.SignatureMethodRSA, params[oauth.ParamSignatureMethod])

	theirs, ok := new(big.Int).SetString(params[oauth.ParamDHChallenge], 16)
	require.True(b.t, ok)
	ours, err := rand.Int(rand.Reader, new(big.Int).Sub(b.prime, big.NewInt(3)))
	require.NoError(b.t, err)
	ours.Add(ours, big.NewInt(2))
	public := new(big.Int).Exp(big.NewInt(oauth.DHGenerator), ours, b.prime)
	shared, err := oauth.ComputeSharedSecret(theirs, ours, b.prime)
	require.NoError(b.t, err)

	prepend := make([]byte, 32)
	_, err = rand.Read(prepend)
	require.NoError(b.t, err)
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, b.encKey, prepend)
	require.NoError(b.t, err)

	token := oauth.DeriveLiveSessionToken(b.secret, prepend, shared)
	b.with(func(b *fakeBroker) { b.valid[hex.EncodeToString(token)] = true })

	payload, err := json.Marshal(map[string]any{
		"diffie_hellman_response":       public.Text(16),
		"live_session_token_signature":  oauth.ValidationSignature(token, testConsumerKey),
		"live_session_token_expiration": time.Now().Add(expiresIn).UnixMilli(),
		"prepend":                       base64.StdEncoding.EncodeToString(encrypted),
	})
	require.NoError(b.t, err)
	writeJSON(w, http.StatusOK, string(payload))
}

// authorised recomputes the HMAC signature with every live token the broker minted.
func (b *fakeBroker) authorised(r *http.Request) bool {
	realm, params, err := oauth.ParseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil || realm != oauth.RealmTest || params[oauth.ParamSignatureMethod] != oauth.SignatureMethodHMAC {
		return false
	}
	rawURL := "http://" + r.Host + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		rawURL += "?" + r.URL.RawQuery
	}
	base, err := oauth.BaseString(r.Method, rawURL, params)
	if err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, live := range b.valid {
		if !live {
			continue
		}
		token, _ := hex.DecodeString(key)
		sig, err := oauth.SignHMAC(base, token)
		if err == nil && sig == params[oauth.ParamSignature] {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newTestOptions(b *fakeBroker, logger logrus.FieldLogger) Options {
	return Options{
		Config: Config{
			BaseURL:              b.baseURL(),
			Mode:                 ModePaper,
			RetryInitialInterval: time.Millisecond,
			TickleInterval:       time.Hour,
			RenewCheckInterval:   time.Hour,
			RateLimit:            1000,
			RateBurst:            100,
		},
		Credentials: testCredentials(),
		HTTPClient:  b.server.Client(),
		Logger:      logger,
	}
}

func newTestConnection(t *testing.T, b *fakeBroker, mutate func(*Options)) (*Connection, *logrustest.Hook) {
	t.Helper()
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := newTestOptions(b, logger)
	if mutate != nil {
		mutate(&opts)
	}
	conn, err := NewConnection(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Disconnect(context.Background()) })
	return conn, hook
}

func hasLogMessage(hook *logrustest.Hook, level logrus.Level, message string) bool {
	for _, entry := range hook.AllEntries() {
		if entry.Level == level && entry.Message == message {
			return true
		}
	}
	return false
}
