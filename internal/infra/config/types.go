package config

import "strings"

// Environment identifies the runtime environment the bot runs in.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// TradingMode selects paper or live trading.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

func normalizeToken(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
