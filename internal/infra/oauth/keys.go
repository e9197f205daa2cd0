package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/coachpo/asxtrader/errs"
)

// Credentials are the long-lived broker OAuth inputs, loaded once at startup.
type Credentials struct {
	ConsumerKey       string
	AccessToken       string
	AccessTokenSecret string
	SignatureKeyPath  string
	EncryptionKeyPath string
	DHPrime           string
	// Realm overrides DefaultRealm when set.
	Realm string
}

// Validate reports every missing required field in one configuration error.
func (c Credentials) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"consumer key", c.ConsumerKey},
		{"access token", c.AccessToken},
		{"access token secret", c.AccessTokenSecret},
		{"signature key path", c.SignatureKeyPath},
		{"encryption key path", c.EncryptionKeyPath},
		{"dh prime", c.DHPrime},
	}
	var missing []string
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return errs.New(component, errs.CodeConfiguration,
			errs.WithMessage("missing credentials: "+strings.Join(missing, ", ")),
			errs.WithRemediation("set the IBKR_* environment variables or the broker.credentials config block"))
	}
	return nil
}

// Keyring is the parsed form of Credentials.
type Keyring struct {
	ConsumerKey string
	AccessToken string
	Realm       string

	accessSecret  []byte
	signatureKey  *rsa.PrivateKey
	encryptionKey *rsa.PrivateKey
	prime         *big.Int
}

// Load validates the credentials, reads both key files and decodes the secret and prime.
func (c Credentials) Load() (*Keyring, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.AccessTokenSecret))
	if err != nil {
		return nil, errs.New(component, errs.CodeConfiguration,
			errs.WithMessage("access token secret is not valid base64"), errs.WithCause(err))
	}
	sigKey, err := LoadRSAPrivateKey(c.SignatureKeyPath)
	if err != nil {
		return nil, err
	}
	encKey, err := LoadRSAPrivateKey(c.EncryptionKeyPath)
	if err != nil {
		return nil, err
	}
	prime, err := ParseDHPrime(c.DHPrime)
	if err != nil {
		return nil, err
	}
	realm := strings.TrimSpace(c.Realm)
	if realm == "" {
		realm = DefaultRealm(c.ConsumerKey)
	}
	return &Keyring{
		ConsumerKey:   strings.TrimSpace(c.ConsumerKey),
		AccessToken:   strings.TrimSpace(c.AccessToken),
		Realm:         realm,
		accessSecret:  secret,
		signatureKey:  sigKey,
		encryptionKey: encKey,
		prime:         prime,
	}, nil
}

// Prime returns the DH prime.
func (k *Keyring) Prime() *big.Int {
	return new(big.Int).Set(k.prime)
}

// LoadRSAPrivateKey reads a PKCS#1 or PKCS#8 PEM file.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	cleaned := filepath.Clean(strings.TrimSpace(path))
	raw, err := os.ReadFile(cleaned) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, errs.New(component, errs.CodeConfiguration,
			errs.WithMessage("read private key"),
			errs.WithField("path", cleaned),
			errs.WithCause(err))
	}
	key, err := ParseRSAPrivateKey(raw)
	if err != nil {
		return nil, errs.New(component, errs.CodeConfiguration,
			errs.WithMessage("parse private key"),
			errs.WithField("path", cleaned),
			errs.WithCause(err))
	}
	return key, nil
}

// ParseRSAPrivateKey decodes the first PEM block in raw as an RSA private key.
func ParseRSAPrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no pem block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid pkcs1 key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		return parsePKCS8RSA(block.Bytes)
	}

	// Unlabelled blocks: try PKCS#1 first, then PKCS#8.
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := parsePKCS8RSA(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported pem block %q", block.Type)
}

func parsePKCS8RSA(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("invalid pkcs8 key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("pkcs8 key is not rsa")
	}
	return rsaKey, nil
}

// DecryptPrepend recovers the prepend secret from its base64 ciphertext.
func DecryptPrepend(key *rsa.PrivateKey, ciphertext string) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("encryption key missing")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("decode prepend: %w", err)
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, key, raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt prepend: %w", err)
	}
	return plain, nil
}
