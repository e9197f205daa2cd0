package oauth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/coachpo/asxtrader/errs"
)

const component = "oauth"

type encodedPair struct {
	key   string
	value string
}

// BaseString builds the OAuth 1.0a signature base string. Query parameters on rawURL
// are folded into the parameter string; realm and oauth_signature never are.
func BaseString(method, rawURL string, params Params) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("request url must be absolute: %q", rawURL)
	}

	pairs := make([]encodedPair, 0, len(params)+4)
	for key, values := range u.Query() {
		for _, value := range values {
			pairs = append(pairs, encodedPair{key: PercentEncode(key), value: PercentEncode(value)})
		}
	}
	for key, value := range params {
		if key == ParamRealm || key == ParamSignature {
			continue
		}
		pairs = append(pairs, encodedPair{key: PercentEncode(key), value: PercentEncode(value)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	joined := make([]string, len(pairs))
	for i, pair := range pairs {
		joined[i] = pair.key + "=" + pair.value
	}

	return strings.ToUpper(strings.TrimSpace(method)) + "&" +
		PercentEncode(normalizeURL(u)) + "&" +
		PercentEncode(strings.Join(joined, "&")), nil
}

func normalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" {
		if !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
			host += ":" + port
		}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// SignRSA signs the base string with RSASSA-PKCS1-v1_5 over SHA-256.
func SignRSA(base string, key *rsa.PrivateKey) (string, error) {
	if key == nil {
		return "", errs.New(component, errs.CodeAuth, errs.WithMessage("signature key missing"))
	}
	digest := sha256.Sum256([]byte(base))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", errs.New(component, errs.CodeAuth, errs.WithMessage("rsa signing failed"), errs.WithCause(err))
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignHMAC signs the base string with HMAC-SHA256 keyed by the live session token.
func SignHMAC(base string, token []byte) (string, error) {
	if len(token) == 0 {
		return "", errs.New(component, errs.CodeAuth,
			errs.WithMessage("live session token missing"),
			errs.WithCanonicalCode(errs.CanonicalTokenMissing))
	}
	mac := hmac.New(sha256.New, token)
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Sign computes the signature for method and rawURL and stores it in params.
// The signing key is chosen by the oauth_signature_method parameter.
func Sign(method, rawURL string, params Params, rsaKey *rsa.PrivateKey, token []byte) error {
	base, err := BaseString(method, rawURL, params)
	if err != nil {
		return errs.New(component, errs.CodeAuth, errs.WithMessage("build base string"), errs.WithCause(err))
	}
	var sig string
	switch params[ParamSignatureMethod] {
	case SignatureMethodRSA:
		sig, err = SignRSA(base, rsaKey)
	case SignatureMethodHMAC:
		sig, err = SignHMAC(base, token)
	default:
		return errs.New(component, errs.CodeAuth, errs.WithMessage("unsupported signature method "+params[ParamSignatureMethod]))
	}
	if err != nil {
		return err
	}
	params[ParamSignature] = sig
	return nil
}
