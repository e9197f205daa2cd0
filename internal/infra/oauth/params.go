package oauth

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OAuth parameter names used by the broker.
const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamToken           = "oauth_token"
	ParamNonce           = "oauth_nonce"
	ParamTimestamp       = "oauth_timestamp"
	ParamSignatureMethod = "oauth_signature_method"
	ParamSignature       = "oauth_signature"
	ParamDHChallenge     = "diffie_hellman_challenge"
	ParamRealm           = "realm"
)

// Signature methods.
const (
	SignatureMethodRSA  = "RSA-SHA256"
	SignatureMethodHMAC = "HMAC-SHA256"
)

const (
	// RealmLive is the realm for production consumer keys.
	RealmLive = "limited_poa"
	// RealmTest is the realm the broker assigns to its TESTCONS consumer.
	RealmTest = "test_realm"

	testConsumerKey = "TESTCONS"
	nonceLength     = 16
	nonceAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// DefaultRealm picks the realm for a consumer key.
func DefaultRealm(consumerKey string) string {
	if strings.TrimSpace(consumerKey) == testConsumerKey {
		return RealmTest
	}
	return RealmLive
}

// Params holds the OAuth parameters of one request. Build a new set for every request.
type Params map[string]string

// NewParams returns the common parameters for a signed request.
func NewParams(consumerKey, token, method, nonce string, now time.Time) Params {
	return Params{
		ParamConsumerKey:     consumerKey,
		ParamToken:           token,
		ParamSignatureMethod: method,
		ParamNonce:           nonce,
		ParamTimestamp:       strconv.FormatInt(now.Unix(), 10),
	}
}

// NewNonce returns a random alphanumeric nonce. A nil reader means crypto/rand.
func NewNonce(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, nonceLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read nonce entropy: %w", err)
	}
	for i, v := range buf {
		buf[i] = nonceAlphabet[int(v)%len(nonceAlphabet)]
	}
	return string(buf), nil
}

// Clone copies the parameter set.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// AuthorizationHeader renders the Authorization header value with the realm first
// and the remaining parameters sorted by name.
func (p Params) AuthorizationHeader(realm string) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		if k == ParamRealm {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, fmt.Sprintf("%s=%q", ParamRealm, realm))
	for _, k := range keys {
		parts = append(parts, k+`="`+PercentEncode(p[k])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// ParseAuthorizationHeader splits an "OAuth ..." header into its realm and parameters.
func ParseAuthorizationHeader(header string) (string, Params, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "OAuth ")
	if !ok {
		return "", nil, fmt.Errorf("not an oauth authorization header")
	}
	realm := ""
	params := make(Params)
	for _, part := range strings.Split(rest, ",") {
		key, quoted, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return "", nil, fmt.Errorf("malformed oauth parameter %q", part)
		}
		raw, err := strconv.Unquote(quoted)
		if err != nil {
			return "", nil, fmt.Errorf("unquote %s: %w", key, err)
		}
		value, err := url.PathUnescape(raw)
		if err != nil {
			return "", nil, fmt.Errorf("unescape %s: %w", key, err)
		}
		if key == ParamRealm {
			realm = value
			continue
		}
		params[key] = value
	}
	return realm, params, nil
}
