// Command impactlog-loadtest drives many concurrent client sessions against
// an Impact Log backend and reports per-phase latency percentiles.
//
// Without --api-url it starts the in-process fake backend. Tokens are kept
// in Redis, one key per simulated user; without --redis-addr (or REDIS_ADDR)
// an embedded miniredis is used.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/impactlog/impactlog"
	"github.com/impactlog/impactlog/apitest"
	"github.com/impactlog/impactlog/session"
)

const loadtestPassword = "loadtest-pw"

func main() {
	var (
		users       = pflag.Int("users", 200, "number of simulated signed-in users")
		concurrency = pflag.Int("concurrency", 64, "number of concurrent workers")
		ops         = pflag.Int("ops", 5000, "operations per phase")
		apiURL      = pflag.String("api-url", "", "backend URL; empty starts the in-process fake")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = pflag.String("prefix", "impactlog:loadtest", "token key prefix")
	)
	pflag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanupRedis, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanupRedis()

	base := *apiURL
	if base == "" {
		srv := apitest.NewServer(apitest.Options{})
		defer srv.Close()
		base = srv.URL
		fmt.Printf("using in-process backend at %s\n", base)
	} else {
		fmt.Printf("using backend at %s\n", base)
	}

	cfg := impactlog.DefaultConfig()
	cfg.API.BaseURL = base
	cfg.Session.Backend = "memory"
	cfg.HTTP.Timeout = 10 * time.Second
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmt.Printf("signing in %d users...\n", *users)
	startSeed := time.Now()
	controllers := make([]*impactlog.Controller, *users)
	for i := range controllers {
		key := fmt.Sprintf("%s:%d", *prefix, i)
		c, err := impactlog.New().
			WithConfig(cfg).
			WithLogger(logger).
			WithTokenStore(session.NewRedisTokenStore(client, key, time.Hour)).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()
		if err := c.Bootstrap(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "bootstrap user %d: %v\n", i, err)
		}
		if !c.Snapshot().Authenticated() {
			if err := signIn(ctx, c, i); err != nil {
				fmt.Fprintf(os.Stderr, "sign-in user %d failed: %v\n", i, err)
				os.Exit(1)
			}
		}
		controllers[i] = c
	}
	fmt.Printf("signed in in %s\n", time.Since(startSeed).Round(time.Millisecond))

	hydrateStats := runPhase(ctx, controllers, *ops, *concurrency, 7919, func(ctx context.Context, c *impactlog.Controller) error {
		return c.Refresh(ctx)
	})
	mineStats := runPhase(ctx, controllers, *ops, *concurrency, 6151, func(ctx context.Context, c *impactlog.Controller) error {
		_, err := c.Logs().Mine(ctx)
		return err
	})
	feedStats := runPhase(ctx, controllers, *ops, *concurrency, 4447, func(ctx context.Context, c *impactlog.Controller) error {
		_, err := c.Logs().PublicFeed(ctx)
		return err
	})

	var invalidated uint64
	for _, c := range controllers {
		invalidated += c.MetricsSnapshot().Counters[impactlog.MetricSessionInvalidated]
	}

	fmt.Println("---- results ----")
	printStats("hydrate", hydrateStats)
	printStats("my-logs", mineStats)
	printStats("feed", feedStats)
	fmt.Printf("sessions invalidated by the backend: %d\n", invalidated)
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// signIn registers user i on first use and signs in afterwards.
func signIn(ctx context.Context, c *impactlog.Controller, i int) error {
	email := fmt.Sprintf("loadtest-%d@example.com", i)
	_, err := c.SignUp(ctx, email, loadtestPassword, fmt.Sprintf("Load Test %d", i))
	if errors.Is(err, impactlog.ErrAccountExists) {
		_, err = c.SignIn(ctx, email, loadtestPassword)
	}
	return err
}

func runPhase(
	ctx context.Context,
	controllers []*impactlog.Controller,
	ops, concurrency int,
	seed int64,
	op func(context.Context, *impactlog.Controller) error,
) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				c := controllers[r.Intn(len(controllers))]
				t0 := time.Now()
				err := op(ctx, c)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
