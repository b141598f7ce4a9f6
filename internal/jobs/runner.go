package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"permatweet/internal/metrics"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Runner schedules the poll job on a fixed interval. The first run fires
// immediately on Start; errors are logged and never stop the schedule.
type Runner struct {
	cron     *cron.Cron
	job      Job
	interval time.Duration
	log      *zap.Logger
}

func NewRunner(interval time.Duration, job Job, log *zap.Logger) (*Runner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %s", interval)
	}
	r := &Runner{
		cron:     cron.New(),
		job:      job,
		interval: interval,
		log:      log,
	}
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), r.runOnce); err != nil {
		return nil, fmt.Errorf("failed to schedule poll job: %w", err)
	}
	return r, nil
}

// Start begins the schedule, running the job once right away.
func (r *Runner) Start() {
	r.log.Info("poll loop starting", zap.Duration("interval", r.interval))
	go r.runOnce()
	r.cron.Start()
}

// Stop halts the schedule and returns a context that is done once any
// in-flight run completes.
func (r *Runner) Stop() context.Context {
	r.log.Info("poll loop stopping")
	return r.cron.Stop()
}

func (r *Runner) runOnce() {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.CycleErrors.Inc()
			r.log.Error("poll cycle panicked", zap.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	start := time.Now()
	if err := r.job(ctx); err != nil {
		metrics.CycleErrors.Inc()
		r.log.Error("poll cycle failed", zap.Error(err))
		return
	}
	r.log.Info("poll cycle completed", zap.Duration("took", time.Since(start)))
}
