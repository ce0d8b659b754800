// Package config loads the bridge's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration. Variables tagged required must be
// set, though they may be empty.
type Config struct {
	DiscordToken        string `env:"DISCORD_TOKEN,required"`
	DiscordClientID     string `env:"DISCORD_CLIENT_ID,required"`
	DiscordClientSecret string `env:"DISCORD_CLIENT_SECRET,required"`
	DiscordRedirectURI  string `env:"DISCORD_REDIRECT_URI,required"`
	CookieSecret        string `env:"COOKIE_SECRET,required"`
	// LocaltunnelSubdomain is required for deployment parity but not read by the server.
	LocaltunnelSubdomain string `env:"LOCALTUNNEL_SUBDOMAIN,required"`
	NationStatesSecret   string `env:"NATIONSTATES_SECRET,required"`

	Port         int  `env:"PORT" envDefault:"3000"`
	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"true"`
	// PreviousCookieSecrets still open cookies sealed before a COOKIE_SECRET rotation.
	PreviousCookieSecrets []string      `env:"COOKIE_SECRET_PREVIOUS" envSeparator:","`
	NationStatesUserAgent string        `env:"NATIONSTATES_USER_AGENT"`
	HTTPClientTimeout     time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"10s"`
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"info"`
	RegisterMetadata      bool          `env:"REGISTER_METADATA" envDefault:"true"`
}

// CookieSecrets returns the current cookie secret followed by any previous ones.
func (c Config) CookieSecrets() []string {
	out := []string{c.CookieSecret}
	for _, s := range c.PreviousCookieSecrets {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads a .env file in the working directory when present, then parses
// the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse parses the current environment into a Config. Every missing
// required variable is named in the returned error.
func Parse() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		if missing := MissingVars(err); len(missing) > 0 {
			return Config{}, fmt.Errorf("environment validation failed: missing variable(s) %s: %w", strings.Join(missing, ", "), err)
		}
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.HTTPClientTimeout <= 0 {
		return Config{}, fmt.Errorf("parse env: HTTP_CLIENT_TIMEOUT must be positive, got %s", cfg.HTTPClientTimeout)
	}
	return cfg, nil
}

// MissingVars returns the names of unset required variables reported in err.
func MissingVars(err error) []string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return nil
	}
	var out []string
	for _, e := range agg.Errors {
		var notSet env.EnvVarIsNotSetError
		if errors.As(e, &notSet) {
			out = append(out, notSet.Key)
		}
	}
	return out
}

// Addr returns the listen address for Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
