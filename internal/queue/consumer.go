package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ecommerce-admin/pkg/logger"
)

// Handler processes one delivery. Returning nil acknowledges the job; an error
// schedules a retry unless it is wrapped with Permanent.
type Handler func(ctx context.Context, job *Job) error

// Hooks observe job outcomes. All fields are optional.
type Hooks struct {
	OnComplete func(job *Job, took time.Duration)
	OnRetry    func(job *Job, err error, delay time.Duration)
	OnFailed   func(job *Job, err error)
}

type ConsumerConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// Consumer runs Concurrency workers that each reserve and handle one job at a
// time. Unrelated jobs never wait on each other.
type Consumer struct {
	q       *Queue
	handler Handler
	cfg     ConsumerConfig
	hooks   Hooks
	log     *slog.Logger
}

func NewConsumer(q *Queue, h Handler, cfg ConsumerConfig, hooks Hooks, log *slog.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{q: q, handler: h, cfg: cfg, hooks: hooks, log: log}
}

// Run blocks until ctx is cancelled. In-flight jobs finish before it returns.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			c.loop(gctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) loop(ctx context.Context, worker int) {
	log := c.log.With("queue", c.q.Name(), "worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := c.q.Reserve(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("reserve failed", "err", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}
		c.Process(ctx, job)
	}
}

// Process runs the handler for a reserved job and records the outcome.
func (c *Consumer) Process(ctx context.Context, job *Job) {
	log := c.log.With("queue", c.q.Name(), "job_id", job.ID, "attempt", job.Attempt)
	jobCtx := logger.With(ctx, log)

	// queue bookkeeping must survive shutdown of the worker context
	ackCtx := context.WithoutCancel(ctx)

	start := time.Now()
	err := c.run(jobCtx, job)
	if err == nil {
		if cerr := c.q.Complete(ackCtx, job); cerr != nil {
			log.Warn("complete failed", "err", cerr)
			return
		}
		if c.hooks.OnComplete != nil {
			c.hooks.OnComplete(job, time.Since(start))
		}
		return
	}

	out, ferr := c.q.Fail(ackCtx, job, err)
	if ferr != nil {
		if errors.Is(ferr, ErrLeaseLost) {
			log.Warn("lease lost before failure could be recorded", "err", err)
		} else {
			log.Error("record failure", "err", ferr, "cause", err)
		}
		return
	}
	if out.Retried {
		log.Warn("job failed, retrying", "err", err, "retry_in", out.Delay.String())
		if c.hooks.OnRetry != nil {
			c.hooks.OnRetry(job, err, out.Delay)
		}
		return
	}
	log.Error("job failed permanently", "err", err, "permanent", IsPermanent(err))
	if c.hooks.OnFailed != nil {
		c.hooks.OnFailed(job, err)
	}
}

func (c *Consumer) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return c.handler(ctx, job)
}
