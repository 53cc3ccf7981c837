package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	DatabaseURL   string
	PublicBaseURL string

	AllowedOrigins []string

	// Auth
	APIKey     string // empty disables API key checks
	CleanupKey string // empty disables the cleanup endpoint

	// Deferred links
	LinkTTL         time.Duration
	MatchWindow     time.Duration
	ScreenTolerance int
	MinMatchScore   int
	TrustProxy      bool

	// Background jobs
	SweepInterval          time.Duration
	ReferralExpiryDays     int
	ReferralExpiryInterval time.Duration

	// Rate limiting of public endpoints
	RedisURL        string
	RateLimitPerMin int

	AppsSeed string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "5200"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:5200"), "/"),
		AllowedOrigins:     splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		APIKey:             strings.TrimSpace(os.Getenv("API_KEY")),
		CleanupKey:         strings.TrimSpace(os.Getenv("CLEANUP_KEY")),
		ScreenTolerance:    getEnvInt("SCREEN_TOLERANCE", 50),
		MinMatchScore:      getEnvInt("MIN_MATCH_SCORE", 2),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		ReferralExpiryDays: getEnvInt("REFERRAL_EXPIRY_DAYS", 30),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MIN", 60),
		AppsSeed:           os.Getenv("APPS_SEED"),
	}

	var err error
	if cfg.LinkTTL, err = getEnvDuration("LINK_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MatchWindow, err = getEnvDuration("MATCH_WINDOW", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReferralExpiryInterval, err = getEnvDuration("REFERRAL_EXPIRY_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.LinkTTL <= 0 {
		errs = append(errs, "LINK_TTL must be > 0")
	}
	if c.MatchWindow <= 0 {
		errs = append(errs, "MATCH_WINDOW must be > 0")
	}
	if c.ScreenTolerance < 0 {
		errs = append(errs, "SCREEN_TOLERANCE must be >= 0")
	}
	if c.MinMatchScore < 0 || c.MinMatchScore > 4 {
		errs = append(errs, "MIN_MATCH_SCORE must be between 0 and 4")
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, "SWEEP_INTERVAL must be > 0")
	}
	if c.ReferralExpiryDays <= 0 {
		errs = append(errs, "REFERRAL_EXPIRY_DAYS must be > 0")
	}
	if c.ReferralExpiryInterval <= 0 {
		errs = append(errs, "REFERRAL_EXPIRY_INTERVAL must be > 0")
	}
	if c.RateLimitPerMin <= 0 {
		errs = append(errs, "RATE_LIMIT_PER_MIN must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
