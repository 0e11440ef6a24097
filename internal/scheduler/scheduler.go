// Package scheduler runs the daily background jobs. Jobs call the same
// services as HTTP requests do.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"messhub/backend/config"
	"messhub/backend/internal/service"
	"messhub/backend/pkg/clock"
)

// JobFunc one run of a daily job.
type JobFunc func(ctx context.Context) error

type job struct {
	name string
	spec string
	id   cron.EntryID
	run  JobFunc
}

// Scheduler fires each job daily at its HH:MM in the clock's zone.
// A run still in progress makes the next firing of the same job a no-op.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []*job
}

// New creates a scheduler in clk's zone.
func New(clk clock.Clock, logger *zap.Logger) *Scheduler {
	cl := cronLogger{l: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(clk.Location()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a daily job at HH:MM.
func (s *Scheduler) Add(name, at string, fn JobFunc) error {
	hour, minute, err := parseHHMM(at)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	j := &job{name: name, spec: fmt.Sprintf("%d %d * * *", minute, hour), run: fn}
	id, err := s.cron.AddFunc(j.spec, func() { s.runJob(s.context(), j) })
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	j.id = id

	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	return nil
}

// RegisterPolicyJobs adds auto-presence and, when enabled, the late-fee sweep.
func (s *Scheduler) RegisterPolicyJobs(cfg *config.Config, svc *service.Service) error {
	if err := s.Add("auto-presence", cfg.Scheduler.AutoPresenceAt, func(ctx context.Context) error {
		_, err := svc.Presence.Run(ctx, time.Time{})
		return err
	}); err != nil {
		return err
	}

	if !cfg.Scheduler.LateFeeSweepEnabled {
		return nil
	}
	fee := decimal.NewFromFloat(cfg.Billing.DefaultLateFee)
	return s.Add("late-fee-sweep", cfg.Scheduler.LateFeeSweepAt, func(ctx context.Context) error {
		_, err := svc.Billing.ApplyLateFeesBatch(ctx, fee)
		return err
	})
}

// Start runs the cron loop until Stop is called or ctx is cancelled.
// Running jobs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", n))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job finished",
		zap.String("job", j.name),
		zap.Duration("took", time.Since(start)),
	)
}

func parseHHMM(at string) (int, int, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", at)
	}
	return t.Hour(), t.Minute(), nil
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
