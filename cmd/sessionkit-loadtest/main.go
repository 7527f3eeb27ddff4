// Command sessionkit-loadtest measures session store throughput and latency
// for the Redis backend. It seeds a population of encoded sessions, then runs
// a read phase (decode on every hit) and a rotate phase (read, swap tokens,
// write back) under configurable concurrency, printing per-phase percentile
// latencies.
//
// Without -redis-addr it starts an in-process miniredis, so the tool runs
// standalone for quick sanity checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/parkrow/sessionkit/session"
	"github.com/parkrow/sessionkit/store/redisstore"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 1000, "number of seeded sessions")
		concurrency = flag.Int("concurrency", 16, "concurrent workers per phase")
		ops         = flag.Int("ops", 10000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address (empty starts an in-process miniredis)")
		prefix      = flag.String("prefix", "sessionkit:", "key prefix")
	)
	flag.Parse()

	addr := *redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			log.Fatalf("start miniredis: %v", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using in-process miniredis at %s\n", addr)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	st := redisstore.New(client, *prefix, 0)

	fmt.Printf("seeding %d sessions...\n", *sessions)
	start := time.Now()
	for i := 0; i < *sessions; i++ {
		blob, err := session.Encode(buildSession(i))
		if err != nil {
			log.Fatalf("encode session %d: %v", i, err)
		}
		if err := st.Set(ctx, seedKey(i), blob); err != nil {
			log.Fatalf("seed session %d: %v", i, err)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))

	readStats := runReadPhase(ctx, st, *sessions, *concurrency, *ops)
	printStats("read", readStats)

	rotateStats := runRotatePhase(ctx, st, *sessions, *concurrency, *ops)
	printStats("rotate", rotateStats)

	if readStats.errors > 0 || rotateStats.errors > 0 {
		os.Exit(1)
	}
}

func seedKey(i int) string {
	return fmt.Sprintf("session.device-%d", i)
}

func buildSession(i int) *session.Session {
	return &session.Session{
		AccessToken:  fmt.Sprintf("access-%d", i),
		RefreshToken: fmt.Sprintf("refresh-%d", i),
		User: session.UserProfile{
			ID:         fmt.Sprintf("user-%d", i),
			Email:      fmt.Sprintf("resident%d@example.com", i),
			Name:       fmt.Sprintf("Resident %d", i),
			Role:       "resident",
			LocationID: fmt.Sprintf("loc-%d", i%20),
			Status:     "active",
		},
		Provider: session.ProviderPassword,
		IssuedAt: time.Now().UTC(),
	}
}

type phaseStats struct {
	total     time.Duration
	ops       int
	errors    int64
	latencies []time.Duration
	p50       time.Duration
	p95       time.Duration
	p99       time.Duration
}

func runReadPhase(ctx context.Context, st *redisstore.Store, sessions, concurrency, ops int) phaseStats {
	latencies := make([]time.Duration, ops)
	var errCount int64
	var next int64

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1)) - 1
				if i >= ops {
					return
				}
				opStart := time.Now()
				blob, err := st.Get(ctx, seedKey(i%sessions))
				if err == nil {
					_, err = session.Decode(blob)
				}
				latencies[i] = time.Since(opStart)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
				}
			}
		}()
	}
	wg.Wait()

	return computeStats(time.Since(start), latencies, errCount)
}

func runRotatePhase(ctx context.Context, st *redisstore.Store, sessions, concurrency, ops int) phaseStats {
	latencies := make([]time.Duration, ops)
	var errCount int64
	var next int64

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1)) - 1
				if i >= ops {
					return
				}
				opStart := time.Now()
				err := rotateOnce(ctx, st, seedKey(i%sessions), i)
				latencies[i] = time.Since(opStart)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
				}
			}
		}()
	}
	wg.Wait()

	return computeStats(time.Since(start), latencies, errCount)
}

func rotateOnce(ctx context.Context, st *redisstore.Store, key string, op int) error {
	blob, err := st.Get(ctx, key)
	if err != nil {
		return err
	}
	sess, err := session.Decode(blob)
	if err != nil {
		return err
	}

	sess.AccessToken = fmt.Sprintf("access-rot-%d", op)
	sess.RefreshToken = fmt.Sprintf("refresh-rot-%d", op)
	sess.IssuedAt = time.Now().UTC()

	rotated, err := session.Encode(sess)
	if err != nil {
		return err
	}
	return st.Set(ctx, key, rotated)
}

func computeStats(total time.Duration, latencies []time.Duration, errCount int64) phaseStats {
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return phaseStats{
		total:     total,
		ops:       len(latencies),
		errors:    errCount,
		latencies: sorted,
		p50:       percentile(sorted, 0.50),
		p95:       percentile(sorted, 0.95),
		p99:       percentile(sorted, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printStats(phase string, s phaseStats) {
	throughput := float64(s.ops) / s.total.Seconds()
	fmt.Printf("%-8s %d ops in %s (%.0f ops/s) p50=%s p95=%s p99=%s errors=%d\n",
		phase, s.ops, s.total.Round(time.Millisecond), throughput,
		s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond), s.errors)
}
