package jobruntime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/errkind"
	"github.com/BryanOwens012/dogwalker/internal/pipeline"
	"github.com/BryanOwens012/dogwalker/internal/task"
)

// PipelineRunner is the boundary the Job Runtime drives jobs through,
// satisfied by *pipeline.Pipeline in production and substitutable in tests.
type PipelineRunner interface {
	Run(ctx context.Context, payload task.Payload, d dog.Dog) (*pipeline.Result, error)
}

// Config controls the Job Runtime's worker pool size and retry policy
// (spec §4.12, §7: transient-transport failures retry with exponential
// backoff capped at 3 attempts).
type Config struct {
	Workers      int
	MaxAttempts  int
	BaseBackoff  time.Duration // backoff for attempt N is BaseBackoff * 2^N
	PollInterval time.Duration
	LeaseTimeout time.Duration // RequeueExpired threshold for a dead worker's lease
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 30 * time.Minute
	}
	return c
}

// Runtime hosts the worker pool: each worker claims one job at a time
// (prefetch = 1), runs it through the Pipeline, and acks or requeues based
// on the returned error (spec §4.12).
type Runtime struct {
	queue    Queue
	pipeline PipelineRunner
	cfg      Config
	log      *zap.Logger
}

// New builds a Runtime around queue and pl.
func New(queue Queue, pl PipelineRunner, cfg Config, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{queue: queue, pipeline: pl, cfg: cfg.withDefaults(), log: log}
}

// Run starts the worker pool and blocks until ctx is cancelled or a worker
// returns a non-nil error (workers themselves never return an error for job
// failures — only for a fatal claim-loop condition).
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			r.worker(gctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runtime) worker(ctx context.Context, id int) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if n, err := r.queue.RequeueExpired(ctx, r.cfg.LeaseTimeout); err != nil {
			r.log.Warn("requeuing expired leases failed", zap.Error(err))
		} else if n > 0 {
			r.log.Info("reclaimed jobs from lost workers", zap.Int("count", n))
		}

		job, err := r.queue.Claim(ctx)
		if err != nil {
			r.log.Warn("claiming job failed", zap.Int("worker", id), zap.Error(err))
		}
		if err != nil || job == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		r.handle(ctx, job)
	}
}

// handle runs one job through the pipeline, guaranteeing an ack or requeue
// decision even if the pipeline panics (the pipeline's own Run already
// guarantees workspace cleanup via its defers; this guarantees the queue
// entry itself is never silently lost to a worker-process crash during that
// call, on top of the lease-expiry fallback).
func (r *Runtime) handle(ctx context.Context, job *Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pipeline panicked, treating as transient", zap.String("job_id", job.ID), zap.Any("recover", rec))
			r.requeueOrDrop(ctx, job, errkind.Transient(fmt.Errorf("pipeline panic: %v", rec)))
		}
	}()

	_, err := r.pipeline.Run(ctx, job.Payload, job.Dog)
	if err == nil {
		if ackErr := r.queue.Ack(ctx, job.ID); ackErr != nil {
			r.log.Warn("acking completed job failed", zap.String("job_id", job.ID), zap.Error(ackErr))
		}
		return
	}
	r.requeueOrDrop(ctx, job, err)
}

func (r *Runtime) requeueOrDrop(ctx context.Context, job *Job, err error) {
	if !errkind.IsTransient(err) || job.Attempt+1 >= r.cfg.MaxAttempts {
		r.log.Error("job failed permanently, dropping",
			zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		if ackErr := r.queue.Ack(ctx, job.ID); ackErr != nil {
			r.log.Warn("acking permanently failed job failed", zap.String("job_id", job.ID), zap.Error(ackErr))
		}
		return
	}

	nextAttempt := job.Attempt + 1
	backoff := r.cfg.BaseBackoff * time.Duration(1<<uint(nextAttempt))
	r.log.Warn("transient failure, requeuing with backoff",
		zap.String("job_id", job.ID), zap.Int("attempt", nextAttempt), zap.Duration("backoff", backoff), zap.Error(err))
	if reqErr := r.queue.Requeue(ctx, job.ID, nextAttempt, time.Now().Add(backoff)); reqErr != nil {
		r.log.Error("requeue failed, job stuck leased until lease expiry", zap.String("job_id", job.ID), zap.Error(reqErr))
	}
}
