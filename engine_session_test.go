package posauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/internal/audit"
)

func TestSignInSuccess(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.addAccount(t, "u1", testEmail, "STAFF")

	pair, err := env.engine.SignIn(context.Background(), "u1", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.ExpiresIn != int64(time.Hour/time.Second) {
		t.Fatalf("expected expiresIn 3600, got %d", pair.ExpiresIn)
	}

	stored := env.account(t, a.ID)
	if stored.RefreshTokenHash == nil {
		t.Fatal("refresh token hash not persisted")
	}
	if *stored.RefreshTokenHash == pair.RefreshToken {
		t.Fatal("refresh token stored in clear")
	}

	claims, err := env.engine.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != a.ID || claims.Role != "STAFF" || claims.Username != "u1" || claims.Email != testEmail {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSignInRejectsIneligibleAccountsUniformly(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.addAccount(t, "inactive", "i@b.com", "STAFF", func(a *account.Account) { a.IsActive = false })
	env.addAccount(t, "deleted", "d@b.com", "STAFF", func(a *account.Account) { a.IsDeleted = true })
	env.addAccount(t, "u1", testEmail, "STAFF")

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"unknown user", "ghost", testPassword},
		{"inactive", "inactive", testPassword},
		{"deleted", "deleted", testPassword},
		{"wrong password", "u1", "wrong-password"},
		{"empty password", "u1", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.SignIn(context.Background(), tc.username, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestSignInLockout(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	a := env.addAccount(t, "u1", testEmail, "STAFF")
	ctx := context.Background()

	for i := 0; i < cfg.Lockout.MaxAttempts; i++ {
		_, err := env.engine.SignIn(ctx, "u1", "wrong-password")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	stored := env.account(t, a.ID)
	if stored.FailedLoginAttempts != 0 {
		t.Fatalf("lock should reset the counter, got %d", stored.FailedLoginAttempts)
	}
	if stored.LockoutExpiresAt == nil || !stored.LockoutExpiresAt.Equal(env.clock.Now().Add(cfg.Lockout.Duration)) {
		t.Fatalf("unexpected lockout expiry: %v", stored.LockoutExpiresAt)
	}

	// Correct password is refused while locked.
	if _, err := env.engine.SignIn(ctx, "u1", testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	env.clock.Advance(cfg.Lockout.Duration + time.Second)
	if _, err := env.engine.SignIn(ctx, "u1", testPassword); err != nil {
		t.Fatalf("SignIn after lockout expired: %v", err)
	}
	stored = env.account(t, a.ID)
	if stored.LockoutExpiresAt != nil || stored.FailedLoginAttempts != 0 {
		t.Fatalf("successful sign-in must clear lockout state: %+v", stored)
	}
}

func TestSignInFailureCountsAndSuccessResets(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.addAccount(t, "u1", testEmail, "STAFF")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		env.engine.SignIn(ctx, "u1", "wrong-password")
	}
	if got := env.account(t, a.ID).FailedLoginAttempts; got != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", got)
	}
	if _, err := env.engine.SignIn(ctx, "u1", testPassword); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if got := env.account(t, a.ID).FailedLoginAttempts; got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}
}

func TestConcurrentFailuresAreAllCounted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.addAccount(t, "u1", testEmail, "STAFF")

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.SignIn(context.Background(), "u1", "wrong-password")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if got := env.account(t, a.ID).FailedLoginAttempts; got != workers {
		t.Fatalf("expected %d failed attempts, got %d", workers, got)
	}
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.addAccount(t, "u1", testEmail, "STAFF")
	ctx := context.Background()

	pair, err := env.engine.SignIn(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	rotated, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("reused refresh token: expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated token should be accepted: %v", err)
	}
}

func TestRefreshRejections(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	a := env.addAccount(t, "u1", testEmail, "STAFF")
	ctx := context.Background()

	pair, err := env.engine.SignIn(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("garbage: expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("access token: expected ErrInvalidRefreshToken, got %v", err)
	}

	if err := env.store.SetActive(ctx, a.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("inactive: expected ErrInvalidRefreshToken, got %v", err)
	}
	env.store.SetActive(ctx, a.ID, true)

	env.clock.Advance(cfg.JWT.RefreshTTL + time.Second)
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expired: expected ErrRefreshTokenExpired, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.addAccount(t, "u1", testEmail, "STAFF")
	ctx := context.Background()

	pair, err := env.engine.SignIn(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := env.engine.Logout(ctx, a.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if env.account(t, a.ID).RefreshTokenHash != nil {
		t.Fatal("refresh token hash should be cleared")
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken after logout, got %v", err)
	}

	if err := env.engine.Logout(ctx, a.ID); err != nil {
		t.Fatalf("second Logout should succeed: %v", err)
	}
	if err := env.engine.Logout(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	a := env.addAccount(t, "u1", testEmail, "MANAGER")
	ctx := context.Background()

	pair, err := env.engine.SignIn(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	claims, err := env.engine.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.Role != "MANAGER" {
		t.Fatalf("unexpected role %q", claims.Role)
	}

	if _, err := env.engine.Authenticate(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("refresh token as access: expected ErrInvalidAccessToken, got %v", err)
	}

	env.store.Delete(ctx, a.ID)
	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("deleted account: expected ErrInvalidAccessToken, got %v", err)
	}

	env.clock.Advance(cfg.JWT.AccessTTL + time.Second)
	if _, err := env.engine.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrAccessTokenExpired) {
		t.Fatalf("expected ErrAccessTokenExpired, got %v", err)
	}
}

func TestSignInThrottledPerClientIP(t *testing.T) {
	cfg := testConfig()
	cfg.Throttle = ThrottleConfig{Enabled: true, Limit: 2, Window: time.Minute}
	env := newTestEnv(t, cfg)
	env.addAccount(t, "u1", testEmail, "STAFF")

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	for i := 0; i < 2; i++ {
		if _, err := env.engine.SignIn(ctx, "u1", testPassword); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := env.engine.SignIn(ctx, "u1", testPassword); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	other := WithClientIP(context.Background(), "203.0.113.8")
	if _, err := env.engine.SignIn(other, "u1", testPassword); err != nil {
		t.Fatalf("other client should not be throttled: %v", err)
	}
}

func TestRefreshIsNotThrottled(t *testing.T) {
	cfg := testConfig()
	cfg.Throttle = ThrottleConfig{Enabled: true, Limit: 5, Window: 10 * time.Second}
	env := newTestEnv(t, cfg)
	env.addAccount(t, "u1", testEmail, "STAFF")

	ctx := WithClientIP(context.Background(), "10.0.0.7")
	pair, err := env.engine.SignIn(ctx, "u1", testPassword)
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	for i := 0; i < 2*cfg.Throttle.Limit; i++ {
		pair, err = env.engine.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh #%d: %v", i+1, err)
		}
	}
}

func TestSignInEmitsAuditEvents(t *testing.T) {
	trail := NewChannelAuditSink(16)
	stream := NewChannelAuditSink(16)
	env := newTestEnv(t, testConfig(), func(b *Builder) {
		b.WithAuditSink("log", trail).WithAuditSink("realtime", stream)
	})
	a := env.addAccount(t, "u1", testEmail, "STAFF")

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.1"), "till-04")
	env.engine.SignIn(ctx, "u1", "wrong-password")
	env.engine.SignIn(ctx, "u1", testPassword)
	env.engine.Close()

	for name, sink := range map[string]*audit.ChannelSink{"log": trail, "realtime": stream} {
		var got []AuditEventType
		for len(sink.Events()) > 0 {
			ev := <-sink.Events()
			if ev.AccountID != a.ID || ev.IP != "198.51.100.1" || ev.UserAgent != "till-04" || ev.ID == "" {
				t.Fatalf("%s: unexpected event: %+v", name, ev)
			}
			if !ev.Timestamp.Equal(env.clock.Now()) {
				t.Fatalf("%s: timestamp %v not taken from the engine clock", name, ev.Timestamp)
			}
			got = append(got, ev.Type)
		}
		if len(got) != 2 || got[0] != AuditSignInFailed || got[1] != AuditSignInSucceeded {
			t.Fatalf("%s: unexpected audit sequence: %v", name, got)
		}
	}
	if n := env.engine.AuditDropped(); n != 0 {
		t.Fatalf("dropped %d events", n)
	}
}

func TestAuditSinkSharesEngineRoutes(t *testing.T) {
	trail := NewChannelAuditSink(4)
	env := newTestEnv(t, testConfig(), func(b *Builder) { b.WithAuditSink("log", trail) })

	env.engine.AuditSink().Emit(context.Background(), AuditEvent{Type: AuditResetSwept, Success: true})
	env.engine.Close()

	if len(trail.Events()) != 1 {
		t.Fatalf("got %d events, want 1", len(trail.Events()))
	}
	ev := <-trail.Events()
	if ev.Type != AuditResetSwept || ev.ID == "" || !ev.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("unexpected event: %+v", ev)
	}

	var nilEngine *Engine
	nilEngine.AuditSink().Emit(context.Background(), AuditEvent{Type: AuditResetSwept})
}

func TestEngineIsAuthorized(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if env.engine.IsAuthorized("KITCHEN", "MANAGER") {
		t.Fatal("KITCHEN must not satisfy MANAGER")
	}
	if !env.engine.IsAuthorized("ADMIN", "STAFF") {
		t.Fatal("ADMIN must satisfy STAFF")
	}

	var nilEngine *Engine
	if nilEngine.IsAuthorized("ADMIN", "STAFF") {
		t.Fatal("nil engine must deny")
	}
	if _, err := nilEngine.SignIn(context.Background(), "u1", testPassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
