package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid covers bad signatures, malformed tokens, wrong issuer and
	// tokens minted for another context.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned only for an otherwise valid token whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
)

const minSecretBytes = 32

// Kind separates the three signing contexts. It travels in the "typ" claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
)

// Config holds the secrets and lifetimes for each context. ResetSecret may be
// left empty, in which case reset tokens are signed with AccessSecret.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	ResetSecret   []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	Issuer        string
	Leeway        time.Duration

	// Now overrides the clock used for issuing and validating. Nil means time.Now.
	Now func() time.Time
}

// Payload is the identity carried by access and refresh tokens.
type Payload struct {
	Subject  string
	Email    string
	Role     string
	Username string
}

// Claims is the decoded form of any token issued by Manager.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	Username string `json:"username,omitempty"`
	Kind     Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// Payload strips the timing and bookkeeping claims so the identity can be
// reissued.
func (c *Claims) Payload() Payload {
	return Payload{
		Subject:  c.Subject,
		Email:    c.Email,
		Role:     c.Role,
		Username: c.Username,
	}
}

// Manager signs and verifies HS256 tokens. It is immutable and safe for
// concurrent use.
type Manager struct {
	config Config
	keys   map[Kind][]byte
	ttls   map[Kind]time.Duration
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) < minSecretBytes || len(cfg.RefreshSecret) < minSecretBytes {
		return nil, fmt.Errorf("jwt: access and refresh secrets must be at least %d bytes", minSecretBytes)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("jwt: access and refresh secrets must differ")
	}
	if len(cfg.ResetSecret) == 0 {
		cfg.ResetSecret = cfg.AccessSecret
	} else if len(cfg.ResetSecret) < minSecretBytes {
		return nil, fmt.Errorf("jwt: reset secret must be at least %d bytes", minSecretBytes)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ResetTTL <= 0 {
		return nil, errors.New("jwt: invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		config: cfg,
		keys: map[Kind][]byte{
			KindAccess:  cfg.AccessSecret,
			KindRefresh: cfg.RefreshSecret,
			KindReset:   cfg.ResetSecret,
		},
		ttls: map[Kind]time.Duration{
			KindAccess:  cfg.AccessTTL,
			KindRefresh: cfg.RefreshTTL,
			KindReset:   cfg.ResetTTL,
		},
	}, nil
}

// AccessTTL is the lifetime of access tokens.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// ResetTTL is the lifetime of reset tokens.
func (m *Manager) ResetTTL() time.Duration { return m.config.ResetTTL }

// IssueAccess signs p with the access secret.
func (m *Manager) IssueAccess(p Payload) (string, error) {
	token, _, err := m.issue(KindAccess, p)
	return token, err
}

// IssueRefresh signs p with the refresh secret.
func (m *Manager) IssueRefresh(p Payload) (string, error) {
	token, _, err := m.issue(KindRefresh, p)
	return token, err
}

// IssueReset signs a token whose only identity is email and returns its expiry.
func (m *Manager) IssueReset(email string) (string, time.Time, error) {
	return m.issue(KindReset, Payload{Email: email})
}

// VerifyAccess checks signature, expiry and context of an access token.
func (m *Manager) VerifyAccess(token string) (*Claims, error) {
	return m.verify(KindAccess, token)
}

// VerifyRefresh checks signature, expiry and context of a refresh token.
func (m *Manager) VerifyRefresh(token string) (*Claims, error) {
	return m.verify(KindRefresh, token)
}

// VerifyReset checks signature, expiry and context of a reset token.
func (m *Manager) VerifyReset(token string) (*Claims, error) {
	return m.verify(KindReset, token)
}

func (m *Manager) issue(kind Kind, p Payload) (string, time.Time, error) {
	if kind != KindReset && p.Subject == "" {
		return "", time.Time{}, errors.New("jwt: payload subject is required")
	}
	if kind == KindReset && p.Email == "" {
		return "", time.Time{}, errors.New("jwt: reset payload email is required")
	}

	now := m.config.Now()
	exp := now.Add(m.ttls[kind])
	claims := Claims{
		Email:    p.Email,
		Role:     p.Role,
		Username: p.Username,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    m.config.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.keys[kind])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign %s token: %w", kind, err)
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return signed, claims.ExpiresAt.Time, nil
}

func (m *Manager) verify(kind Kind, tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.keys[kind], nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Kind != kind {
		return nil, fmt.Errorf("%w: not a %s token", ErrTokenInvalid, kind)
	}
	if kind == KindReset {
		if claims.Email == "" {
			return nil, fmt.Errorf("%w: missing email", ErrTokenInvalid)
		}
	} else if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
