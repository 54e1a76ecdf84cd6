package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var (
	accessSecret  = []byte(strings.Repeat("a", 32))
	refreshSecret = []byte(strings.Repeat("r", 32))
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newManager(t *testing.T, c *clock) *Manager {
	t.Helper()
	cfg := Config{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		ResetTTL:      15 * time.Minute,
		Issuer:        "posauth",
	}
	if c != nil {
		cfg.Now = c.Now
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

var alice = Payload{Subject: "u1", Email: "alice@example.com", Role: "MANAGER", Username: "alice"}

func TestAccessRoundTrip(t *testing.T) {
	m := newManager(t, nil)

	token, err := m.IssueAccess(alice)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	claims, err := m.VerifyAccess(token)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Payload() != alice {
		t.Fatalf("payload = %+v, want %+v", claims.Payload(), alice)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
}

func TestRefreshTokensAreUniqueWithinOneSecond(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	m := newManager(t, c)

	first, err := m.IssueRefresh(alice)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	second, err := m.IssueRefresh(alice)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct refresh tokens for the same payload and instant")
	}
}

func TestVerifyDistinguishesExpiredFromInvalid(t *testing.T) {
	c := &clock{now: time.Now()}
	m := newManager(t, c)

	token, err := m.IssueRefresh(alice)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := m.VerifyRefresh(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("tampered token error = %v, want ErrTokenInvalid", err)
	}

	c.now = c.now.Add(7*24*time.Hour + time.Second)
	if _, err := m.VerifyRefresh(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired token error = %v, want ErrTokenExpired", err)
	}
	if _, err := m.VerifyRefresh("not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage error = %v, want ErrTokenInvalid", err)
	}
}

func TestContextsDoNotCrossVerify(t *testing.T) {
	m := newManager(t, nil)

	access, _ := m.IssueAccess(alice)
	refresh, _ := m.IssueRefresh(alice)
	reset, _, err := m.IssueReset(alice.Email)
	if err != nil {
		t.Fatalf("issue reset: %v", err)
	}

	if _, err := m.VerifyRefresh(access); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access as refresh: %v", err)
	}
	if _, err := m.VerifyAccess(refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh as access: %v", err)
	}
	// Reset tokens share the access secret by default; the typ claim keeps them apart.
	if _, err := m.VerifyReset(access); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access as reset: %v", err)
	}
	if _, err := m.VerifyAccess(reset); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("reset as access: %v", err)
	}
}

func TestResetTokenCarriesEmailAndExpiry(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	m := newManager(t, c)

	token, exp, err := m.IssueReset("a@b.com")
	if err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	if want := c.now.Add(15 * time.Minute); !exp.Equal(want) {
		t.Fatalf("exp = %v, want %v", exp, want)
	}
	claims, err := m.VerifyReset(token)
	if err != nil {
		t.Fatalf("verify reset: %v", err)
	}
	if claims.Email != "a@b.com" || claims.Subject != "" {
		t.Fatalf("unexpected reset claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	m := newManager(t, nil)

	claims := Claims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "posauth",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(accessSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.VerifyAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := m.VerifyAccess(none); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected alg=none to be rejected, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuerAndMissingExpiry(t *testing.T) {
	m := newManager(t, nil)

	other := Claims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "someone-else",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, other).SignedString(accessSecret)
	if _, err := m.VerifyAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong issuer error = %v", err)
	}

	noExp := Claims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1", Issuer: "posauth"}}
	token, _ = gjwt.NewWithClaims(gjwt.SigningMethodHS256, noExp).SignedString(accessSecret)
	if _, err := m.VerifyAccess(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("missing exp error = %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	base := Config{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    time.Hour,
		ResetTTL:      time.Minute,
	}

	cases := map[string]func(*Config){
		"short access secret": func(c *Config) { c.AccessSecret = []byte("short") },
		"shared secrets":      func(c *Config) { c.RefreshSecret = c.AccessSecret },
		"short reset secret":  func(c *Config) { c.ResetSecret = []byte("short") },
		"zero refresh ttl":    func(c *Config) { c.RefreshTTL = 0 },
		"negative leeway":     func(c *Config) { c.Leeway = -time.Second },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := NewManager(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
