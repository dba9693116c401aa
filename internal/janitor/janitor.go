package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/MrEthical07/tokenguard"
)

// Reconciler sweeps every user index. *tokenguard.Engine satisfies it.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (tokenguard.SweepResult, error)
}

// Purger drops durable blacklist rows that expired before cutoff.
// *blacklist.Store satisfies it.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds cron specs. An empty spec disables that job.
type Config struct {
	ReconcileSchedule string
	PurgeSchedule     string
	// JobTimeout bounds a single run. Zero means five minutes.
	JobTimeout time.Duration
}

const defaultJobTimeout = 5 * time.Minute

// Janitor runs index reconciliation and blacklist purges on a schedule.
type Janitor struct {
	reconciler Reconciler
	purger     Purger
	logger     *zap.Logger
	now        func() time.Time
	timeout    time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// New validates the schedules and registers the jobs. Nothing runs until
// [Janitor.Start]. A nil purger disables the purge job regardless of
// PurgeSchedule.
func New(cfg Config, reconciler Reconciler, purger Purger, logger *zap.Logger) (*Janitor, error) {
	if reconciler == nil {
		return nil, errors.New("janitor: reconciler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	j := &Janitor{
		reconciler: reconciler,
		purger:     purger,
		logger:     logger.Named("janitor"),
		now:        time.Now,
		timeout:    timeout,
		cron:       cron.New(),
	}

	if cfg.ReconcileSchedule != "" {
		if _, err := j.cron.AddFunc(cfg.ReconcileSchedule, j.runReconcile); err != nil {
			return nil, fmt.Errorf("janitor: schedule reconcile %q: %w", cfg.ReconcileSchedule, err)
		}
	}
	if purger != nil && cfg.PurgeSchedule != "" {
		if _, err := j.cron.AddFunc(cfg.PurgeSchedule, j.runPurge); err != nil {
			return nil, fmt.Errorf("janitor: schedule purge %q: %w", cfg.PurgeSchedule, err)
		}
	}
	return j, nil
}

// Jobs returns how many jobs are scheduled.
func (j *Janitor) Jobs() int {
	return len(j.cron.Entries())
}

// Start launches the scheduler in its own goroutine. Calling it twice is a
// no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.cron.Start()
	j.logger.Info("janitor started", zap.Int("jobs", j.Jobs()))
}

// Stop halts scheduling and waits for in-flight jobs or ctx, whichever
// finishes first.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.logger.Info("janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile runs one reconciliation sweep.
func (j *Janitor) Reconcile(ctx context.Context) (tokenguard.SweepResult, error) {
	start := j.now()
	res, err := j.reconciler.ReconcileAll(ctx)
	fields := []zap.Field{
		zap.Int("users", res.Users),
		zap.Int("removed", res.Removed),
		zap.Int("live", res.Live),
		zap.Int("errors", res.Errors),
		zap.Duration("took", j.now().Sub(start)),
	}
	if err != nil {
		j.logger.Error("reconcile sweep failed", append(fields, zap.Error(err))...)
		return res, err
	}
	j.logger.Info("reconcile sweep finished", fields...)
	return res, nil
}

// Purge removes blacklist rows that expired before now.
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	if j.purger == nil {
		return 0, nil
	}
	cutoff := j.now()
	n, err := j.purger.Purge(ctx, cutoff)
	if err != nil {
		j.logger.Error("blacklist purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return n, err
	}
	j.logger.Info("blacklist purge finished", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (j *Janitor) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, _ = j.Reconcile(ctx)
}

func (j *Janitor) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, _ = j.Purge(ctx)
}
