package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"APP_ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	TelegramBotToken  string        `mapstructure:"TELEGRAM_BOT_TOKEN"`
	AdminToken        string        `mapstructure:"ADMIN_TOKEN"`
	CronSecret        string        `mapstructure:"CRON_SECRET"`
	SessionCookieName string        `mapstructure:"SESSION_COOKIE_NAME"`
	InitDataMaxAge    time.Duration `mapstructure:"INITDATA_MAX_AGE"`
	CORSOrigins       string        `mapstructure:"CORS_ORIGINS"`
	MigrateOnStart    bool          `mapstructure:"MIGRATE_ON_START"`

	DBMaxOpenConns  int `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBRetryAttempts int `mapstructure:"DB_RETRY_ATTEMPTS"`

	JobItemDelay       time.Duration `mapstructure:"JOB_ITEM_DELAY"`
	DexScreenerBaseURL string        `mapstructure:"DEXSCREENER_BASE_URL"`
	SentimentBaseURL   string        `mapstructure:"SENTIMENT_BASE_URL"`
	SentimentAPIKey    string        `mapstructure:"SENTIMENT_API_KEY"`
	WhaleBaseURL       string        `mapstructure:"WHALE_BASE_URL"`
	WhaleMinUSD        float64       `mapstructure:"WHALE_MIN_USD"`

	StripeKey string `mapstructure:"STRIPE_KEY"`

	EnablePredictions bool `mapstructure:"ENABLE_PREDICTIONS"`
	EnableDeposits    bool `mapstructure:"ENABLE_DEPOSITS"`
	EnableCron        bool `mapstructure:"ENABLE_CRON"`
}

const minProductionSecretLength = 16

// LoadConfig reads an optional .env file, then lets the environment override it.
func LoadConfig() (*Config, error) {
	return loadConfigFrom(".env")
}

func loadConfigFrom(envFile string) (*Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("ADMIN_TOKEN", "")
	v.SetDefault("CRON_SECRET", "")
	v.SetDefault("SESSION_COOKIE_NAME", "akari_session")
	v.SetDefault("INITDATA_MAX_AGE", "24h")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("DB_MAX_OPEN_CONNS", 5)
	v.SetDefault("DB_RETRY_ATTEMPTS", 3)
	v.SetDefault("JOB_ITEM_DELAY", "1s")
	v.SetDefault("DEXSCREENER_BASE_URL", "https://api.dexscreener.com")
	v.SetDefault("SENTIMENT_BASE_URL", "")
	v.SetDefault("SENTIMENT_API_KEY", "")
	v.SetDefault("WHALE_BASE_URL", "")
	v.SetDefault("WHALE_MIN_USD", 10000)
	v.SetDefault("STRIPE_KEY", "")
	v.SetDefault("ENABLE_PREDICTIONS", true)
	v.SetDefault("ENABLE_DEPOSITS", true)
	v.SetDefault("ENABLE_CRON", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.IsProduction() {
		if len(c.AdminToken) < minProductionSecretLength {
			return fmt.Errorf("ADMIN_TOKEN must be at least %d characters in production", minProductionSecretLength)
		}
		if len(c.CronSecret) < minProductionSecretLength {
			return fmt.Errorf("CRON_SECRET must be at least %d characters in production", minProductionSecretLength)
		}
	}
	if c.DBMaxOpenConns <= 0 {
		c.DBMaxOpenConns = 5
	}
	if c.DBRetryAttempts <= 0 {
		c.DBRetryAttempts = 1
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = "akari_session"
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
