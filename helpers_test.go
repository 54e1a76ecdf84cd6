package posauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/mail"
	"github.com/MrEthical07/posauth/password"
	"github.com/MrEthical07/posauth/store/memory"
)

const (
	testPassword = "correct-password-123"
	testEmail    = "a@b.com"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSender) Messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.msgs...)
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	mailer *recordingSender
	clock  *testClock
	hasher *password.Argon2
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = "access-secret-access-secret-0123456789"
	cfg.JWT.RefreshSecret = "refresh-secret-refresh-secret-0123456789"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Throttle.Enabled = false
	cfg.Mail.MaxRetries = 0
	return cfg
}

func newTestEnv(t *testing.T, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  memory.New(),
		mailer: &recordingSender{},
		clock:  newTestClock(),
	}
	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	env.hasher = hasher

	b := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithMailer(env.mailer).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	env.engine = engine
	t.Cleanup(engine.Close)
	return env
}

func (env *testEnv) addAccount(t *testing.T, username, email, role string, mutate ...func(*account.Account)) *account.Account {
	t.Helper()
	hash, err := env.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	a := &account.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	for _, m := range mutate {
		m(a)
	}
	created, err := env.store.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created
}

func (env *testEnv) account(t *testing.T, id string) *account.Account {
	t.Helper()
	a, err := env.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	return a
}
