package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "CAIDENCE_"

// Config carries every recognized runtime option.
type Config struct {
	Environment string
	ListenAddr  string

	SecretKey      string
	TokenTTL       time.Duration
	DatabaseURL    string
	BcryptCost     int
	AllowedOrigins []string

	AccessLogAllowSampleRate float64

	// Monthly credit allotments, in whole credits.
	CreditDefaultMonthlyAllotment int64
	FreeTierMonthlyAllotment      int64
}

// Load reads configuration from CAIDENCE_* environment variables,
// applying documented defaults.
func Load() (*Config, error) {
	ttlMinutes, err := getInt("TOKEN_TTL_MINUTES", 1440)
	if err != nil {
		return nil, err
	}
	bcryptCost, err := getInt("BCRYPT_COST", 12)
	if err != nil {
		return nil, err
	}
	sampleRate, err := getFloat("ACCESS_LOG_ALLOW_SAMPLE_RATE", 0.01)
	if err != nil {
		return nil, err
	}
	defaultAllotment, err := getInt("CREDIT_DEFAULT_MONTHLY_ALLOTMENT", 1000)
	if err != nil {
		return nil, err
	}
	freeAllotment, err := getInt("FREE_TIER_MONTHLY_ALLOTMENT", 50)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getString("ENV", "development"),
		ListenAddr:  getString("LISTEN_ADDR", ":8080"),

		SecretKey:   strings.TrimSpace(os.Getenv(envPrefix + "SECRET_KEY")),
		TokenTTL:    time.Duration(ttlMinutes) * time.Minute,
		DatabaseURL: strings.TrimSpace(os.Getenv(envPrefix + "DB_URL")),
		BcryptCost:  bcryptCost,

		AccessLogAllowSampleRate:      sampleRate,
		CreditDefaultMonthlyAllotment: int64(defaultAllotment),
		FreeTierMonthlyAllotment:      int64(freeAllotment),
	}

	origins := getString("ALLOWED_ORIGINS", "")
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	return cfg, nil
}

// Validate enforces hard requirements. Production refuses to start
// without a signing secret and database URL.
func (c *Config) Validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: TOKEN_TTL_MINUTES must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("config: BCRYPT_COST out of range: %d", c.BcryptCost)
	}
	if c.AccessLogAllowSampleRate < 0 || c.AccessLogAllowSampleRate > 1 {
		return fmt.Errorf("config: ACCESS_LOG_ALLOW_SAMPLE_RATE must be within [0,1]")
	}
	if c.IsProduction() {
		if c.SecretKey == "" {
			return fmt.Errorf("config: SECRET_KEY is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DB_URL is required in production")
		}
	}
	return nil
}

// IsProduction reports whether the service runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s%s: %w", envPrefix, key, err)
	}
	return v, nil
}

func getFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s%s: %w", envPrefix, key, err)
	}
	return v, nil
}
