// Command posauth-loadtest drives sign-in, refresh rotation and access-token
// authentication against an in-memory engine and reports latency percentiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/mail"
	"github.com/MrEthical07/posauth/password"
	"github.com/MrEthical07/posauth/store/memory"
)

const loadPassword = "load-test-password-123"

type accountState struct {
	username string
	mu       sync.Mutex
	pair     posauth.TokenPair
}

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		memoryKB    = flag.Uint("argon2-memory-kb", 8*1024, "argon2id memory cost")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := posauth.DefaultConfig()
	cfg.JWT.AccessSecret = "loadtest-access-secret-0123456789abcdef"
	cfg.JWT.RefreshSecret = "loadtest-refresh-secret-0123456789abcdef"
	cfg.Password.Memory = uint32(*memoryKB)
	cfg.Throttle.Limit = 1 << 20
	cfg.Audit.Enabled = false

	store := memory.New()
	engine, err := posauth.New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(client).
		WithMailer(mail.SenderFunc(func(context.Context, mail.Message) error { return nil })).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states, err := seed(ctx, store, cfg.Password, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	signInStats := runPhase(*ops, *concurrency, 7919, func(ctx context.Context, r *rand.Rand) error {
		st := states[r.Intn(len(states))]
		pair, err := engine.SignIn(ctx, st.username, loadPassword)
		if err != nil {
			return err
		}
		st.mu.Lock()
		st.pair = pair
		st.mu.Unlock()
		return nil
	})

	// Refreshes on one account are serialized: a rotated token invalidates
	// the one a concurrent worker would present.
	refreshStats := runPhase(*ops, *concurrency, 6151, func(ctx context.Context, r *rand.Rand) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.pair.RefreshToken == "" {
			return errNoSession
		}
		pair, err := engine.Refresh(ctx, st.pair.RefreshToken)
		if err != nil {
			return err
		}
		st.pair = pair
		return nil
	})

	authStats := runPhase(*ops, *concurrency, 104729, func(ctx context.Context, r *rand.Rand) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		token := st.pair.AccessToken
		st.mu.Unlock()
		if token == "" {
			return errNoSession
		}
		_, err := engine.Authenticate(ctx, token)
		return err
	})

	fmt.Println("---- results ----")
	printStats("signin", signInStats)
	printStats("refresh", refreshStats)
	printStats("authenticate", authStats)
}

var errNoSession = errors.New("account has no session yet")

func seed(ctx context.Context, store *memory.Store, pc password.Config, n int) ([]*accountState, error) {
	hasher, err := password.NewArgon2(pc)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	fmt.Printf("seeding %d accounts...\n", n)
	start := time.Now()
	states := make([]*accountState, n)
	for i := range states {
		name := fmt.Sprintf("cashier-%d", i)
		if _, err := store.Create(ctx, &account.Account{
			Username:     name,
			Email:        name + "@load.test",
			PasswordHash: hash,
			Role:         "STAFF",
			IsActive:     true,
		}); err != nil {
			return nil, err
		}
		states[i] = &accountState{username: name}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return states, nil
}

// runPhase runs op ops times across concurrency workers. Each worker presents
// its own client IP so the throttle keys stay distinct.
func runPhase(ops, concurrency int, seedPrime int64, op func(context.Context, *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedPrime))
			ctx := posauth.WithClientIP(context.Background(), fmt.Sprintf("10.0.%d.%d", worker/256, worker%256))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(ctx, r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
