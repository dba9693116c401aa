package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/tokenguard"
)

const loadtestSecret = "loadtest"

type sessionState struct {
	access  string
	refresh string
	mu      sync.Mutex
}

type loadtestOptions struct {
	users       int
	concurrency int
	ops         int
}

func loadtestCommand(rt *runtime) *cobra.Command {
	var opts loadtestOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure validate and refresh latency against the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.users <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("users, concurrency and ops must be > 0")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			engine, err := rt.openEngine(ctx, loadtestVerifier())
			if err != nil {
				return err
			}
			return runLoadtest(ctx, cmd.OutOrStdout(), engine, opts)
		},
	}
	cmd.Flags().IntVar(&opts.users, "users", 10000, "number of sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 256, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 200000, "operations per phase (validate + refresh)")
	return cmd
}

// loadtestVerifier accepts any "lt-*" identifier with the fixed secret.
func loadtestVerifier() tokenguard.CredentialVerifier {
	return tokenguard.CredentialVerifierFunc(func(_ context.Context, creds tokenguard.Credentials) (*tokenguard.VerifiedUser, error) {
		if !strings.HasPrefix(creds.Identifier, "lt-") || creds.Secret != loadtestSecret {
			return nil, tokenguard.ErrInvalidCredentials
		}
		return &tokenguard.VerifiedUser{UserID: creds.Identifier, Roles: []string{"member"}}, nil
	})
}

func runLoadtest(ctx context.Context, out io.Writer, engine *tokenguard.Engine, opts loadtestOptions) error {
	states := make([]sessionState, opts.users)
	fmt.Fprintf(out, "seeding %d sessions...\n", opts.users)
	startSeed := time.Now()
	for i := range states {
		access, refresh, err := engine.Login(ctx, tokenguard.Credentials{
			Identifier: fmt.Sprintf("lt-%d", i),
			Secret:     loadtestSecret,
		})
		if err != nil {
			return fmt.Errorf("seed session %d: %w", i, err)
		}
		states[i].access = access
		states[i].refresh = refresh
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(opts, 7919, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		token := state.access
		state.mu.Unlock()
		_, err := engine.Validate(ctx, token)
		return err
	})
	refreshStats := runPhase(opts, 6151, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		access, refresh, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.access = access
		state.refresh = refresh
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "validate", validateStats)
	printStats(out, "refresh", refreshStats)
	return nil
}

// runPhase spreads opts.ops calls of op over opts.concurrency workers and
// records each call's latency.
func runPhase(opts loadtestOptions, seed int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.ops {
					return
				}
				t0 := time.Now()
				err := op(r)
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

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
