// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package config loads the service configuration: defaults, then an
// optional YAML file, then command-line flags. The result is an explicit
// struct handed to constructors; there is no process-wide singleton.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full service configuration.
type Config struct {
	// Listen is the address of the account API in "host:port" format.
	Listen string `koanf:"listen"`

	// MetricsListen is the address of the observability endpoints.
	MetricsListen string `koanf:"metrics_listen"`

	// BaseURL is the absolute public URL embedded in notification links.
	BaseURL string `koanf:"base_url"`

	// DatabaseURL is the PostgreSQL DSN. Empty selects the in-memory
	// store (development only).
	DatabaseURL string `koanf:"database_url"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`

	Token    TokenConfig    `koanf:"token"`
	Security SecurityConfig `koanf:"security"`
	SMTP     SMTPConfig     `koanf:"smtp"`
}

// TokenConfig configures the token service.
type TokenConfig struct {
	// Secret signs confirmation and reset tokens. Required.
	Secret string `koanf:"secret"`

	// ConfirmationTTL bounds email-confirmation tokens.
	ConfirmationTTL time.Duration `koanf:"confirmation_ttl"`

	// ResetTTL bounds password-reset tokens.
	ResetTTL time.Duration `koanf:"reset_ttl"`
}

// SecurityConfig holds the policy knobs.
type SecurityConfig struct {
	// MergeLoginErrors collapses "user not found" and "incorrect
	// password" into one message (anti-enumeration hardening).
	MergeLoginErrors bool `koanf:"merge_login_errors"`

	// LockoutThreshold is the failure count that locks an account.
	// Zero disables lockout.
	LockoutThreshold int `koanf:"lockout_threshold"`

	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration time.Duration `koanf:"lockout_duration"`
}

// SMTPConfig configures the mail notifier. An empty Host selects the
// log-only notifier.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	From     string `koanf:"from"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Listen:        ":8080",
		MetricsListen: ":9100",
		BaseURL:       "http://localhost:8080",
		LogFormat:     "json",
		Token: TokenConfig{
			ConfirmationTTL: 24 * time.Hour,
			ResetTTL:        time.Hour,
		},
		Security: SecurityConfig{
			LockoutThreshold: 7,
			LockoutDuration:  15 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if non-empty), then the flag set (if non-nil). Flags use the same dotted
// keys as the file, e.g. --token.secret.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the service relies on.
func (c Config) Validate() error {
	if c.Listen == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen address is required")
	}
	if c.BaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("base_url is required")
	}
	if c.Token.Secret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("token.secret is required")
	}
	if c.Token.ConfirmationTTL <= 0 || c.Token.ResetTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token TTLs must be positive")
	}
	if c.Security.LockoutThreshold < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("security.lockout_threshold cannot be negative")
	}
	return nil
}
