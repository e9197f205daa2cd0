package ibkr

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coachpo/asxtrader/internal/infra/auth"
	"github.com/coachpo/asxtrader/internal/infra/config"
	"github.com/coachpo/asxtrader/internal/infra/oauth"
)

type metadata struct {
	apiBaseURL            string
	identifier            string
	sessionInitPath       string
	accountsPath          string
	portfolioAccountsPath string
	ticklePath            string
	logoutPath            string
	authStatusPath        string
	summaryPathFormat     string
}

var ibkrMetadata = metadata{
	apiBaseURL:            "https://api.ibkr.com/v1/api",
	identifier:            "ibkr",
	sessionInitPath:       "/iserver/auth/ssodh/init",
	accountsPath:          "/iserver/accounts",
	portfolioAccountsPath: "/portfolio/accounts",
	ticklePath:            "/tickle",
	logoutPath:            "/logout",
	authStatusPath:        "/iserver/auth/status",
	summaryPathFormat:     "/portfolio/%s/summary",
}

const (
	defaultHTTPTimeout          = 15 * time.Second
	defaultConnectTimeout       = 30 * time.Second
	defaultTickleInterval       = 60 * time.Second
	defaultRenewCheckInterval   = 30 * time.Second
	defaultRenewalFailureLimit  = 3
	defaultRetryAttempts        = 3
	defaultRetryInitialInterval = 250 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	defaultRateLimit            = 10
	defaultRateBurst            = 5
	defaultLogoutTimeout        = 5 * time.Second
)

// Mode is the trading mode a connection is created for. It never changes afterwards.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// ParseMode normalises a mode string, defaulting to paper.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeLive:
		return ModeLive
	default:
		return ModePaper
	}
}

// Config captures user-overridable broker settings.
type Config struct {
	Name                 string
	BaseURL              string
	Mode                 Mode
	HTTPTimeout          time.Duration
	ConnectTimeout       time.Duration
	TickleInterval       time.Duration
	RenewCheckInterval   time.Duration
	ExpirySkew           time.Duration
	RenewalFailureLimit  int
	RetryAttempts        int
	RetryInitialInterval time.Duration
	RateLimit            float64
	RateBurst            int
}

// Options configure the broker adapter.
type Options struct {
	Config      Config
	Credentials oauth.Credentials
	Logger      logrus.FieldLogger
	HTTPClient  *http.Client
	// Rand feeds DH exponents and nonces. Nil means crypto/rand.
	Rand io.Reader
	Now  func() time.Time

	metadata metadata
}

func withDefaults(in Options) Options {
	in.metadata = ibkrMetadata
	if strings.TrimSpace(in.Config.Name) == "" {
		in.Config.Name = in.metadata.identifier
	}
	in.Config.BaseURL = strings.TrimRight(strings.TrimSpace(in.Config.BaseURL), "/")
	if in.Config.BaseURL == "" {
		in.Config.BaseURL = in.metadata.apiBaseURL
	}
	in.Config.Mode = ParseMode(string(in.Config.Mode))
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if in.Config.ConnectTimeout <= 0 {
		in.Config.ConnectTimeout = defaultConnectTimeout
	}
	if in.Config.TickleInterval <= 0 {
		in.Config.TickleInterval = defaultTickleInterval
	}
	if in.Config.RenewCheckInterval <= 0 {
		in.Config.RenewCheckInterval = defaultRenewCheckInterval
	}
	if in.Config.ExpirySkew <= 0 {
		in.Config.ExpirySkew = auth.DefaultExpirySkew
	}
	if in.Config.RenewalFailureLimit <= 0 {
		in.Config.RenewalFailureLimit = defaultRenewalFailureLimit
	}
	if in.Config.RetryAttempts <= 0 {
		in.Config.RetryAttempts = defaultRetryAttempts
	}
	if in.Config.RetryInitialInterval <= 0 {
		in.Config.RetryInitialInterval = defaultRetryInitialInterval
	}
	if in.Config.RateLimit <= 0 {
		in.Config.RateLimit = defaultRateLimit
	}
	if in.Config.RateBurst <= 0 {
		in.Config.RateBurst = defaultRateBurst
	}
	if in.HTTPClient == nil {
		in.HTTPClient = &http.Client{Timeout: in.Config.HTTPTimeout}
	}
	if in.Now == nil {
		in.Now = time.Now
	}
	if in.Logger == nil {
		in.Logger = logrus.StandardLogger()
	}
	return in
}

// OptionsFromConfig maps the application's broker block onto adapter options.
func OptionsFromConfig(cfg config.BrokerConfig, creds oauth.Credentials, logger logrus.FieldLogger) Options {
	return Options{
		Config: Config{
			BaseURL:              cfg.BaseURL,
			Mode:                 ParseMode(string(cfg.Mode)),
			HTTPTimeout:          cfg.HTTPTimeout,
			ConnectTimeout:       cfg.ConnectTimeout,
			TickleInterval:       cfg.TickleInterval,
			RenewCheckInterval:   cfg.RenewCheckInterval,
			ExpirySkew:           cfg.ExpirySkew,
			RenewalFailureLimit:  cfg.RenewalFailureLimit,
			RetryAttempts:        cfg.RetryAttempts,
			RetryInitialInterval: cfg.RetryInitialInterval,
			RateLimit:            cfg.RateLimit,
			RateBurst:            cfg.RateBurst,
		},
		Credentials: creds,
		Logger:      logger,
	}
}
