// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package config loads server configuration from defaults, an optional
// YAML file, command-line flags, and environment variables for secrets.
// Precedence, lowest to highest: defaults, file, flags, environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Default values for server configuration.
const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultLogFormat       = "json"
	DefaultTokenIssuer     = "parley"
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultSweepInterval   = time.Hour
)

// Config holds all runtime configuration for the auth server.
type Config struct {
	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	LogFormat   string `koanf:"log_format"`

	// DatabaseURL is read from the DATABASE_URL environment variable only,
	// never from the config file, so connection credentials stay out of
	// files that get committed or mounted.
	DatabaseURL string `koanf:"-"`

	Token  TokenConfig  `koanf:"token"`
	Cookie CookieConfig `koanf:"cookie"`

	// SweepInterval is how often expired sessions are purged.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// TokenConfig configures JWT issuance.
type TokenConfig struct {
	Issuer     string        `koanf:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`

	// SigningKey is read from the PARLEY_TOKEN_SECRET environment variable only.
	SigningKey string `koanf:"-"`
}

// CookieConfig configures the refresh token cookie.
type CookieConfig struct {
	// Secure marks the refresh cookie as HTTPS-only. Leave false only for
	// local development.
	Secure bool   `koanf:"secure"`
	Domain string `koanf:"domain"`
}

// Default returns a Config populated with default values.
// Secrets are left empty.
func Default() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		MetricsAddr: DefaultMetricsAddr,
		LogFormat:   DefaultLogFormat,
		Token: TokenConfig{
			Issuer:     DefaultTokenIssuer,
			AccessTTL:  DefaultAccessTokenTTL,
			RefreshTTL: DefaultRefreshTokenTTL,
		},
		SweepInterval: DefaultSweepInterval,
	}
}

// Load builds the effective configuration. path may be empty to skip the
// file layer; flags may be nil to skip the flag layer.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").
				With("path", path).
				Wrapf(err, "load config file")
		}
	}

	if flags != nil {
		// Flag names use dashes by CLI convention; config keys use
		// underscores. "listen-addr" feeds the "listen_addr" key.
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").Wrapf(err, "load flags")
		}
	}

	// Unmarshal merges onto the defaults; keys absent from every layer
	// keep their default value.
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").Wrapf(err, "unmarshal config")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.Token.SigningKey = os.Getenv("PARLEY_TOKEN_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// It does not require secrets to be set; commands that need the database
// or token signing check those themselves.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	if c.Token.AccessTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token.access_ttl must be positive")
	}
	if c.Token.RefreshTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token.refresh_ttl must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return oops.Code("CONFIG_INVALID").
			Errorf("token.refresh_ttl must be longer than token.access_ttl")
	}
	if c.SweepInterval <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("sweep_interval must be positive")
	}
	return nil
}
