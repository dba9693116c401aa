package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/tokenguard/blacklist"
	"github.com/MrEthical07/tokenguard/internal/janitor"
	promexport "github.com/MrEthical07/tokenguard/metrics/export/prometheus"
)

// newRootCommand wires every subcommand to rt. The caller closes rt.
func newRootCommand(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "tokenguardctl",
		Short:         "Operate a tokenguard revocation store",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", "", "config file (yaml, toml or json)")
	root.PersistentFlags().BoolVar(&rt.memory, "memory", false, "use an in-process redis and throwaway keys")

	root.AddCommand(
		reconcileCommand(rt),
		sweepCommand(rt),
		revokeAllCommand(rt),
		inspectCommand(rt),
		healthCommand(rt),
		migrateCommand(rt),
		purgeCommand(rt),
		janitorCommand(rt),
		loadtestCommand(rt),
	)
	return root
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}

/* ==== INDEX MAINTENANCE ==== */

func reconcileCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-id>",
		Short: "Prune dead entries from one user's index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, 30*time.Second)
			defer cancel()

			engine, err := rt.openEngine(ctx, nil)
			if err != nil {
				return err
			}
			res, err := engine.Reconcile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user=%s scanned=%d removed=%d live=%d index_ttl=%s\n",
				args[0], res.Scanned, res.Removed, res.Live, res.IndexTTL)
			return nil
		},
	}
}

func sweepCommand(rt *runtime) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:     "sweep",
		Aliases: []string{"reconcile-all"},
		Short:   "Reconcile every user index",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, timeout)
			defer cancel()

			engine, err := rt.openEngine(ctx, nil)
			if err != nil {
				return err
			}
			res, err := engine.ReconcileAll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "users=%d removed=%d live=%d errors=%d\n",
				res.Users, res.Removed, res.Live, res.Errors)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	return cmd
}

/* ==== REVOCATION ==== */

func revokeAllCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-all <user-id>",
		Short: "Revoke every active token of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, 30*time.Second)
			defer cancel()

			engine, err := rt.openEngine(ctx, nil)
			if err != nil {
				return err
			}
			before, err := engine.ActiveTokenCount(ctx, args[0])
			if err != nil {
				return err
			}
			if err := engine.RevokeAll(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user=%s revoked=%d\n", args[0], before)
			return nil
		},
	}
}

func inspectCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <user-id>",
		Short: "List a user's active token digests and blacklist entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, 30*time.Second)
			defer cancel()

			engine, err := rt.openEngine(ctx, nil)
			if err != nil {
				return err
			}
			digests, err := engine.ActiveTokenDigests(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user=%s active=%d\n", args[0], len(digests))
			for _, d := range digests {
				fmt.Fprintf(out, "  active %s\n", d)
			}

			if rt.memory {
				return nil
			}
			bl, err := rt.openBlacklist(ctx)
			if errors.Is(err, errNoPostgres) {
				return nil
			}
			if err != nil {
				return err
			}
			entries, err := bl.ListByUser(ctx, args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(out, "  blacklisted %s at=%s expires=%s\n",
					e.Digest, e.BlacklistedAt.Format(time.RFC3339), e.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func healthCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the revocation store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, 10*time.Second)
			defer cancel()

			engine, err := rt.openEngine(ctx, nil)
			if err != nil {
				return err
			}
			h := engine.Health(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "redis_available=%t redis_latency=%s\n", h.RedisAvailable, h.RedisLatency)
			if !h.RedisAvailable {
				return errors.New("redis unavailable")
			}
			return nil
		},
	}
}

/* ==== BLACKLIST ==== */

func migrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the blacklist table and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, 30*time.Second)
			defer cancel()

			bl, err := rt.openBlacklist(ctx)
			if err != nil {
				return err
			}
			if err := bl.EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "blacklist schema is up to date")
			return nil
		},
	}
}

func purgeCommand(rt *runtime) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge-blacklist",
		Short: "Delete blacklist rows whose tokens have expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, 5*time.Minute)
			defer cancel()

			bl, err := rt.openBlacklist(ctx)
			if err != nil {
				return err
			}
			n, err := bl.Purge(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged=%d\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "keep rows that expired less than this long ago")
	return cmd
}

/* ==== BACKGROUND ==== */

func janitorCommand(rt *runtime) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Run scheduled maintenance until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := rt.loadSettings()
			if err != nil {
				return err
			}
			engine, err := rt.openEngine(ctx, nil)
			if err != nil {
				return err
			}

			// Typed nil must not reach the interface.
			var purger janitor.Purger
			if s.Postgres.Enabled() && !rt.memory {
				var bl *blacklist.Store
				if bl, err = rt.openBlacklist(ctx); err != nil {
					return err
				}
				purger = bl
			}

			j, err := janitor.New(janitor.Config{
				ReconcileSchedule: s.Janitor.ReconcileSchedule,
				PurgeSchedule:     s.Janitor.PurgeSchedule,
			}, engine, purger, rt.logger)
			if err != nil {
				return err
			}

			var srv *http.Server
			if metricsAddr != "" {
				exp, err := promexport.NewExporter(engine)
				if err != nil {
					return err
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", exp.Handler())
				srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						rt.logger.Error("metrics server failed", zap.Error(err))
					}
				}()
				rt.logger.Info("serving metrics", zap.String("addr", metricsAddr))
			}

			j.Start()
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if srv != nil {
				_ = srv.Shutdown(stopCtx)
			}
			return j.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
