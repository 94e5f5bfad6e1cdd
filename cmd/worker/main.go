package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecommerce-admin/internal/config"
	"ecommerce-admin/internal/ivr"
	"ecommerce-admin/internal/metrics"
	"ecommerce-admin/internal/queue"
	"ecommerce-admin/internal/store"
	"ecommerce-admin/internal/telephony"
	"ecommerce-admin/pkg/logger"
	"ecommerce-admin/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

const depthInterval = 15 * time.Second

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "worker")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, utils.DriverPgx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{URL: cfg.Redis.URL, Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	dialer, err := telephony.NewDialer(telephony.Config{
		Provider:   cfg.Telephony.Provider,
		BaseURL:    cfg.Telephony.BaseURL,
		AccountSID: cfg.Telephony.AccountSID,
		APIKey:     cfg.Telephony.APIKey,
		APIToken:   cfg.Telephony.APIToken,
		CallerID:   cfg.Telephony.CallerID,
		Timeout:    cfg.Telephony.Timeout,
	})
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	repo := store.NewPostgres(db)
	m := metrics.New()
	q := queue.New(rdb, queue.Config{
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.BackoffBase,
		Visibility:  cfg.Queue.VisibilityTimeout,
		MaxStalls:   cfg.Queue.MaxStalls,
	})

	w := ivr.NewWorker(repo, dialer, m, ivr.WorkerConfig{
		CallbackURL: cfg.CallbackURL(),
		DialTimeout: cfg.Telephony.Timeout,
	})
	consumer := queue.NewConsumer(q, w.Handle, queue.ConsumerConfig{
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
	}, queue.Hooks{
		OnComplete: func(job *queue.Job, took time.Duration) {
			m.Job("completed", took)
		},
		OnRetry: func(job *queue.Job, err error, delay time.Duration) {
			m.Job("retried", 0)
			log.Warn("call job will retry", "job_id", job.ID, "attempt", job.Attempt, "delay", delay.String(), "err", err)
		},
		OnFailed: func(job *queue.Job, err error) {
			m.Job("failed", 0)
			log.Error("call job failed permanently", "job_id", job.ID, "attempt", job.Attempt, "err", err)
		},
	}, log)

	sweeper := ivr.NewSweeper(repo, cfg.Sweep.StaleAfter, m, log, nil)
	cr, err := sweeper.Start(rootCtx, cfg.Sweep.Schedule)
	if err != nil {
		log.Error("sweeper init failed", "err", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("worker consuming", "queue", q.Name(), "provider", dialer.Name(), "concurrency", cfg.Queue.Concurrency)
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		reportDepth(gctx, q, m, log)
		return nil
	})
	g.Go(func() error {
		log.Info("worker metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")
		<-cr.Stop().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}

// reportDepth refreshes the queue depth gauge until ctx ends.
func reportDepth(ctx context.Context, q *queue.Queue, m *metrics.Metrics, log *slog.Logger) {
	t := time.NewTicker(depthInterval)
	defer t.Stop()
	for {
		st, err := q.Stats(ctx)
		if err == nil {
			m.SetQueueDepth(st.Delayed, st.Waiting, st.Active, st.Failed)
		} else if ctx.Err() == nil {
			log.Warn("queue stats failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
