package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/redis/go-redis/v9"

	"triagedesk.app/triage/common/logger"
)

// Job is one named sweep bound to a cron expression.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Scheduler runs each job at its cron ticks. Before running it takes a
// short-lived redis lease keyed by job name so that overlapping sweeper
// replicas do not double-fire the same tick.
type Scheduler struct {
	client   *redis.Client
	jobs     []Job
	leaseTTL time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewScheduler(client *redis.Client, leaseTTL time.Duration, jobs ...Job) (*Scheduler, error) {
	for _, j := range jobs {
		if !gronx.IsValid(j.Cron) {
			return nil, fmt.Errorf("invalid cron expression for %s: %q", j.Name, j.Cron)
		}
	}
	return &Scheduler{
		client:   client,
		jobs:     jobs,
		leaseTTL: leaseTTL,
	}, nil
}

// Start launches one goroutine per job and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			s.runLoop(ctx, j)
		}(job)
	}
}

// Stop cancels the job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Sweep:     logger.Ptr(job.Name),
		Component: "triage.sweep.scheduler",
	})

	slog.InfoContext(ctx, "sweep scheduled", "cron", job.Cron)

	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(job.Cron, now, false)
		if err != nil {
			slog.ErrorContext(ctx, "computing next tick failed", "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(time.Until(next)):
			s.runOnce(ctx, job, next)
		case <-ctx.Done():
			slog.InfoContext(ctx, "sweep scheduler stopping")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, tick time.Time) {
	acquired, err := s.acquireLease(ctx, job.Name, tick)
	if err != nil {
		slog.ErrorContext(ctx, "lease acquisition failed", "error", err)
		return
	}
	if !acquired {
		slog.DebugContext(ctx, "tick already claimed by another replica")
		return
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		slog.ErrorContext(ctx, "sweep run failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "sweep run completed", "duration_ms", time.Since(start).Milliseconds())
}

// acquireLease claims the tick via SET NX with the lease TTL. The key embeds
// the tick timestamp so consecutive ticks never contend with each other.
func (s *Scheduler) acquireLease(ctx context.Context, name string, tick time.Time) (bool, error) {
	key := fmt.Sprintf("sweep-lease:%s:%d", name, tick.Unix())
	ok, err := s.client.SetNX(ctx, key, "1", s.leaseTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}
