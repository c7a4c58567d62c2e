// Package config loads process-wide settings from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultDiscoveryTimeout = 10 * time.Second
	defaultJWKSMaxAge       = 5 * time.Minute
)

// Config holds the root secrets and tuning knobs for the auth core.
type Config struct {
	// AuthSecret signs issued access tokens.
	AuthSecret string
	// RootEncryptionKey seals tenant key material at rest.
	RootEncryptionKey string
	// DiscoveryTimeout bounds each discovery/JWKS fetch.
	DiscoveryTimeout time.Duration
	// JWKSMaxAge is the longest a cached signing key set may be served.
	JWKSMaxAge time.Duration
}

// FromEnv reads configuration. AUTH_SECRET and ROOT_ENCRYPTION_KEY are
// mandatory in production; development falls back to fixed dev values so
// the module runs without provisioning.
func FromEnv() (*Config, error) {
	cfg := &Config{
		AuthSecret:        strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		RootEncryptionKey: strings.TrimSpace(os.Getenv("ROOT_ENCRYPTION_KEY")),
		DiscoveryTimeout:  defaultDiscoveryTimeout,
		JWKSMaxAge:        defaultJWKSMaxAge,
	}
	if v := strings.TrimSpace(os.Getenv("OIDC_DISCOVERY_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: bad OIDC_DISCOVERY_TIMEOUT: %w", err)
		}
		cfg.DiscoveryTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("OIDC_JWKS_MAX_AGE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: bad OIDC_JWKS_MAX_AGE: %w", err)
		}
		cfg.JWKSMaxAge = d
	}

	if cfg.AuthSecret == "" || cfg.RootEncryptionKey == "" {
		if IsProdEnv() {
			return nil, fmt.Errorf("config: AUTH_SECRET and ROOT_ENCRYPTION_KEY must be set in production")
		}
		if cfg.AuthSecret == "" {
			cfg.AuthSecret = "dev-auth-secret"
		}
		if cfg.RootEncryptionKey == "" {
			cfg.RootEncryptionKey = "dev-root-encryption-key"
		}
	}
	return cfg, nil
}

// IsProdEnv reports whether the process appears to run in production, based
// on ENV, APP_ENV, or ENVIRONMENT (case-insensitive).
func IsProdEnv() bool {
	env := strings.TrimSpace(os.Getenv("ENV"))
	if env == "" {
		env = strings.TrimSpace(os.Getenv("APP_ENV"))
	}
	if env == "" {
		env = strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	}
	env = strings.ToLower(env)
	return env == "production" || env == "prod"
}
