package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/plany/internal/logger"
)

const (
	defaultListenAddr        = "localhost:8000"
	defaultLoggingLevel      = logger.LevelInfo
	defaultEnvironment       = logger.EnvProduction
	defaultAccessTokenTTL    = 15 * time.Minute
	defaultRefreshTokenTTL   = 7 * 24 * time.Hour
	defaultBlacklistTTL      = 30 * 24 * time.Hour
	defaultCleanupInterval   = time.Hour
	defaultPasswordMinLength = 8
	defaultRateLimit         = 20
	defaultRateLimitWindow   = time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the plany service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Keys to sign access and refresh tokens. Must differ
	AccessSecretKey  string
	RefreshSecretKey string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// How long explicitly revoked tokens are remembered
	BlacklistTTL time.Duration

	// Period of expired tokens and rate limit windows cleanup
	CleanupInterval time.Duration

	PasswordMinLength int

	// Requests allowed per client and route in one window
	RateLimit       int
	RateLimitWindow time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:          defaultLoggingLevel,
		ListenAddr:        defaultListenAddr,
		Environment:       defaultEnvironment,
		AccessTokenTTL:    defaultAccessTokenTTL,
		RefreshTokenTTL:   defaultRefreshTokenTTL,
		BlacklistTTL:      defaultBlacklistTTL,
		CleanupInterval:   defaultCleanupInterval,
		PasswordMinLength: defaultPasswordMinLength,
		RateLimit:         defaultRateLimit,
		RateLimitWindow:   defaultRateLimitWindow,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":         setString(&c.ListenAddr),
		"DATABASE_URI":        setString(&c.DatabaseDSN),
		"ACCESS_SECRET_KEY":   setString(&c.AccessSecretKey),
		"REFRESH_SECRET_KEY":  setString(&c.RefreshSecretKey),
		"ACCESS_TOKEN_TTL":    setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL":   setDuration(&c.RefreshTokenTTL),
		"BLACKLIST_TTL":       setDuration(&c.BlacklistTTL),
		"CLEANUP_INTERVAL":    setDuration(&c.CleanupInterval),
		"PASSWORD_MIN_LENGTH": setInt(&c.PasswordMinLength),
		"RATE_LIMIT":          setInt(&c.RateLimit),
		"RATE_LIMIT_WINDOW":   setDuration(&c.RateLimitWindow),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"ENVIRONMENT":         setString(&c.Environment),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("plany", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.AccessSecretKey, "access-secret-key", c.AccessSecretKey, "Access tokens signing key")
	fs.StringVar(&c.RefreshSecretKey, "refresh-secret-key", c.RefreshSecretKey, "Refresh tokens signing key")
	fs.DurationVar(&c.AccessTokenTTL, "access-token-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-token-ttl", c.RefreshTokenTTL, "Refresh token lifetime")
	fs.DurationVar(&c.BlacklistTTL, "blacklist-ttl", c.BlacklistTTL, "How long revoked tokens are remembered")
	fs.DurationVar(&c.CleanupInterval, "cleanup-interval", c.CleanupInterval, "Expired records cleanup period")
	fs.IntVar(&c.PasswordMinLength, "password-min-length", c.PasswordMinLength, "Minimal password length")
	fs.IntVar(&c.RateLimit, "rate-limit", c.RateLimit, "Requests allowed per client and route in one window")
	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", c.RateLimitWindow, "Rate limit window")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, production)")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.AccessSecretKey == "" || c.RefreshSecretKey == "" {
		errs = append(errs, errors.New("access and refresh secret keys are required"))
	}
	if c.AccessSecretKey != "" && c.AccessSecretKey == c.RefreshSecretKey {
		errs = append(errs, errors.New("access and refresh secret keys must differ"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.BlacklistTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit and its window must be positive"))
	}

	return errors.Join(errs...)
}
