// Package config provides environment-based configuration for Auth3 Guard.
//
// Configuration is loaded from environment variables using Viper, with
// sensible defaults for development.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: auth3guard.db
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - SESSION_SECRET: HMAC secret for JWT sessions. Required in production.
//   - SESSION_TTL: Session lifetime. Default: 15m
//   - RECOVERY_WINDOW: Recovery request validity window. Default: 24h
//   - MIN_GUARDIANS: Minimum guardian set size. Default: 3
//   - RISK_THRESHOLD: Score at which a context is high risk. Default: 0.75
//   - RISK_URL: Risk engine endpoint. Empty selects the static dev oracle.
//   - PROOF_URL: Proof service base URL. Empty selects the local dev oracle.
//   - ORACLE_TIMEOUT: Per-call oracle timeout. Default: 5s
//   - REDIS_ADDR: Redis address for distributed lockout. Empty uses memory.
//   - LOCKOUT_MAX_FAILURES: Failures before lockout. Default: 5
//   - LOCKOUT_DURATION: Lock duration after threshold. Default: 15m
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType   string `mapstructure:"DB_TYPE"`
	DSN      string `mapstructure:"DSN"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     int    `mapstructure:"PORT"`

	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`

	RecoveryWindow time.Duration `mapstructure:"RECOVERY_WINDOW"`
	MinGuardians   int           `mapstructure:"MIN_GUARDIANS"`

	RiskThreshold float64       `mapstructure:"RISK_THRESHOLD"`
	RiskURL       string        `mapstructure:"RISK_URL"`
	ProofURL      string        `mapstructure:"PROOF_URL"`
	OracleTimeout time.Duration `mapstructure:"ORACLE_TIMEOUT"`

	RedisAddr          string        `mapstructure:"REDIS_ADDR"`
	LockoutMaxFailures int           `mapstructure:"LOCKOUT_MAX_FAILURES"`
	LockoutDuration    time.Duration `mapstructure:"LOCKOUT_DURATION"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DSN", "auth3guard.db")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("SESSION_SECRET", "dev-secret-change-me")
	viper.SetDefault("SESSION_TTL", "15m")
	viper.SetDefault("RECOVERY_WINDOW", "24h")
	viper.SetDefault("MIN_GUARDIANS", 3)
	viper.SetDefault("RISK_THRESHOLD", 0.75)
	viper.SetDefault("ORACLE_TIMEOUT", "5s")
	viper.SetDefault("LOCKOUT_MAX_FAILURES", 5)
	viper.SetDefault("LOCKOUT_DURATION", "15m")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
