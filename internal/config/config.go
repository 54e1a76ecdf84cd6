// Package config loads the posauthd process configuration.
//
// Order of precedence, lowest first:
//  1. built-in defaults
//  2. the YAML file passed to Load
//  3. environment variables, after .env files have been loaded into the
//     environment (variables already set are not overwritten)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/internal/logging"
	"github.com/MrEthical07/posauth/mail"
)

// Config is the full process configuration.
type Config struct {
	Listen        string          `yaml:"listen"`
	SecureCookies bool            `yaml:"secure_cookies"`
	DatabaseURL   string          `yaml:"database_url"`
	Redis         RedisConfig     `yaml:"redis"`
	SMTP          mail.SMTPConfig `yaml:"smtp"`
	Log           logging.Config  `yaml:"log"`
	Realtime      RealtimeConfig  `yaml:"realtime"`
	Auth          posauth.Config  `yaml:"auth"`
}

// RedisConfig enables the shared throttle when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RealtimeConfig controls the audit stream endpoint.
type RealtimeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	RequiredRole string `yaml:"required_role"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen: ":8080",
		SMTP:   mail.SMTPConfig{Port: 587},
		Log:    logging.Config{Level: "info"},
		Realtime: RealtimeConfig{
			Enabled:      true,
			RequiredRole: "MANAGER",
		},
		Auth: posauth.DefaultConfig(),
	}
}

// Load reads path (skipped when empty) over the defaults and applies the
// environment. envFiles defaults to ".env"; missing files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Listen, "POSAUTH_LISTEN")
	setString(&c.DatabaseURL, "POSAUTH_DATABASE_URL")
	setString(&c.Redis.Addr, "POSAUTH_REDIS_ADDR")
	setString(&c.Redis.Password, "POSAUTH_REDIS_PASSWORD")
	setString(&c.Auth.JWT.AccessSecret, "POSAUTH_ACCESS_SECRET")
	setString(&c.Auth.JWT.RefreshSecret, "POSAUTH_REFRESH_SECRET")
	setString(&c.Auth.JWT.ResetSecret, "POSAUTH_RESET_SECRET")
	setString(&c.SMTP.Host, "POSAUTH_SMTP_HOST")
	setString(&c.SMTP.Username, "POSAUTH_SMTP_USERNAME")
	setString(&c.SMTP.Password, "POSAUTH_SMTP_PASSWORD")
	setString(&c.SMTP.From, "POSAUTH_SMTP_FROM")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v, ok := os.LookupEnv("POSAUTH_SMTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: POSAUTH_SMTP_PORT %q is not a port", v)
		}
		c.SMTP.Port = port
	}
	if v, ok := os.LookupEnv("LOG_DEV"); ok && v != "" {
		c.Log.Dev = v == "1"
	}
	if v, ok := os.LookupEnv("POSAUTH_SECURE_COOKIES"); ok && v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: POSAUTH_SECURE_COOKIES %q: %w", v, err)
		}
		c.SecureCookies = secure
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks the process settings and the engine settings.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.SMTP.Host == "" {
		return errors.New("config: smtp host is required")
	}
	if c.SMTP.From == "" {
		return errors.New("config: smtp from address is required")
	}
	return c.Auth.Validate()
}

// ToEngineConfig returns the engine section. The engine falls back to an
// in-process throttle when no redis client is wired.
func (c Config) ToEngineConfig() posauth.Config {
	return c.Auth
}
