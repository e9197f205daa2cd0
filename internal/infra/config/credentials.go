package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/coachpo/asxtrader/internal/infra/oauth"
)

// Environment variables holding the broker OAuth material.
const (
	EnvConsumerKey       = "IBKR_CONSUMER_KEY"
	EnvAccessToken       = "IBKR_ACCESS_TOKEN"
	EnvAccessTokenSecret = "IBKR_ACCESS_TOKEN_SECRET"
	EnvSignatureKeyPath  = "IBKR_SIGNATURE_KEY_PATH"
	EnvEncryptionKeyPath = "IBKR_ENCRYPTION_KEY_PATH"
	EnvDHPrime           = "IBKR_DH_PRIME"
	EnvRealm             = "IBKR_REALM"
)

// CredentialsConfig is the YAML fallback for broker credentials. Environment
// variables take precedence field by field.
type CredentialsConfig struct {
	ConsumerKey       string `yaml:"consumerKey"`
	AccessToken       string `yaml:"accessToken"`
	AccessTokenSecret string `yaml:"accessTokenSecret"`
	SignatureKeyPath  string `yaml:"signatureKeyPath"`
	EncryptionKeyPath string `yaml:"encryptionKeyPath"`
	DHPrime           string `yaml:"dhPrime"`
}

func (c *CredentialsConfig) normalise() {
	c.ConsumerKey = strings.TrimSpace(c.ConsumerKey)
	c.AccessToken = strings.TrimSpace(c.AccessToken)
	c.AccessTokenSecret = strings.TrimSpace(c.AccessTokenSecret)
	c.SignatureKeyPath = strings.TrimSpace(c.SignatureKeyPath)
	c.EncryptionKeyPath = strings.TrimSpace(c.EncryptionKeyPath)
	c.DHPrime = strings.TrimSpace(c.DHPrime)
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding values already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ResolveCredentials merges the environment over the YAML credentials block.
// Validation happens when the keyring is loaded.
func (c BrokerConfig) ResolveCredentials() oauth.Credentials {
	return c.resolveCredentials(os.LookupEnv)
}

func (c BrokerConfig) resolveCredentials(lookup func(string) (string, bool)) oauth.Credentials {
	pick := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}
	return oauth.Credentials{
		ConsumerKey:       pick(EnvConsumerKey, c.Credentials.ConsumerKey),
		AccessToken:       pick(EnvAccessToken, c.Credentials.AccessToken),
		AccessTokenSecret: pick(EnvAccessTokenSecret, c.Credentials.AccessTokenSecret),
		SignatureKeyPath:  pick(EnvSignatureKeyPath, c.Credentials.SignatureKeyPath),
		EncryptionKeyPath: pick(EnvEncryptionKeyPath, c.Credentials.EncryptionKeyPath),
		DHPrime:           pick(EnvDHPrime, c.Credentials.DHPrime),
		Realm:             pick(EnvRealm, c.Realm),
	}
}
