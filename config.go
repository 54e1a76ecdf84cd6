package posauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/posauth/lockout"
	"github.com/MrEthical07/posauth/password"
)

// Config is injected into the Builder. DefaultConfig documents every default.
type Config struct {
	JWT      JWTConfig       `yaml:"jwt"`
	Password password.Config `yaml:"password"`
	Lockout  lockout.Policy  `yaml:"lockout"`
	Recovery RecoveryConfig  `yaml:"recovery"`
	Throttle ThrottleConfig  `yaml:"throttle"`
	Audit    AuditConfig     `yaml:"audit"`
	Mail     MailConfig      `yaml:"mail"`
	Sweeper  SweeperConfig   `yaml:"sweeper"`
	// Hierarchies lists role lines, lowest priority first.
	Hierarchies [][]string `yaml:"hierarchies"`
}

// JWTConfig holds the token secrets and lifetimes. ResetSecret falls back to
// AccessSecret when empty.
type JWTConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	ResetSecret   string        `yaml:"reset_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	Issuer        string        `yaml:"issuer"`
	Leeway        time.Duration `yaml:"leeway"`
}

// RecoveryConfig tunes the password recovery protocol.
type RecoveryConfig struct {
	CodeLength   int           `yaml:"code_length"`
	CodeTTL      time.Duration `yaml:"code_ttl"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	Subject      string        `yaml:"subject"`
	TemplateName string        `yaml:"template"`
}

// ThrottleConfig bounds unauthenticated requests per client.
type ThrottleConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MailConfig sizes the background email outbox.
type MailConfig struct {
	Workers     int           `yaml:"workers"`
	BufferSize  int           `yaml:"buffer_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	MaxRetries  uint64        `yaml:"max_retries"`
}

// SweeperConfig sets how often expired reset credentials are cleared.
type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the production defaults. Secrets are left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "posauth",
		},
		Password: password.DefaultConfig(),
		Lockout:  lockout.DefaultPolicy(),
		Recovery: RecoveryConfig{
			CodeLength:   6,
			CodeTTL:      15 * time.Minute,
			TokenTTL:     15 * time.Minute,
			Subject:      "Password Reset Request",
			TemplateName: "forget-password",
		},
		Throttle: ThrottleConfig{Enabled: true, Limit: 5, Window: 10 * time.Second},
		Audit:    AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: true},
		Mail:     MailConfig{Workers: 2, BufferSize: 64, SendTimeout: 30 * time.Second, MaxRetries: 3},
		Sweeper:  SweeperConfig{Interval: time.Hour},
		Hierarchies: [][]string{
			{"STAFF", "MANAGER", "ADMIN"},
			{"KITCHEN", "ADMIN"},
			{"MANAGER", "ADMIN"},
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if len(c.JWT.AccessSecret) < 32 || len(c.JWT.RefreshSecret) < 32 {
		return errors.New("config: jwt access and refresh secrets must be at least 32 bytes")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("config: jwt access and refresh secrets must differ")
	}
	if c.JWT.ResetSecret != "" && len(c.JWT.ResetSecret) < 32 {
		return errors.New("config: jwt reset secret must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("config: jwt ttls must be positive")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("config: jwt leeway must be between 0 and 2m")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("config: refresh ttl must not be shorter than access ttl")
	}
	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Lockout.MaxAttempts < 1 {
		return errors.New("config: lockout max attempts must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("config: lockout duration must be positive")
	}
	if c.Recovery.CodeLength < 4 || c.Recovery.CodeLength > 10 {
		return errors.New("config: recovery code length must be between 4 and 10")
	}
	if c.Recovery.CodeTTL <= 0 || c.Recovery.TokenTTL <= 0 {
		return errors.New("config: recovery ttls must be positive")
	}
	if c.Recovery.TemplateName == "" {
		return errors.New("config: recovery template name is required")
	}
	if c.Throttle.Enabled && (c.Throttle.Limit < 1 || c.Throttle.Window <= 0) {
		return errors.New("config: throttle limit and window must be positive")
	}
	if c.Sweeper.Interval < 0 {
		return errors.New("config: sweeper interval must not be negative")
	}
	if len(c.Hierarchies) == 0 {
		return errors.New("config: at least one role hierarchy is required")
	}
	return nil
}
