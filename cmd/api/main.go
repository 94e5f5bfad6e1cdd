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

	"ecommerce-admin/internal/audit"
	"ecommerce-admin/internal/auth"
	"ecommerce-admin/internal/config"
	"ecommerce-admin/internal/ivr"
	"ecommerce-admin/internal/metrics"
	"ecommerce-admin/internal/otp"
	"ecommerce-admin/internal/queue"
	"ecommerce-admin/internal/reporting"
	"ecommerce-admin/internal/store"
	"ecommerce-admin/pkg/logger"
	"ecommerce-admin/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, utils.DriverPgx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := store.Migrate(rootCtx, db); err != nil {
			log.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{URL: cfg.Redis.URL, Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	repo := store.NewPostgres(db)
	m := metrics.New()
	q := queue.New(rdb, queue.Config{
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.BackoffBase,
		Visibility:  cfg.Queue.VisibilityTimeout,
		MaxStalls:   cfg.Queue.MaxStalls,
	})

	calls := ivr.NewService(repo, q, m, log, ivr.ServiceConfig{EagerDequeue: cfg.IVR.EagerDequeue})
	otpSvc := otp.NewService(otp.NewRedisStore(rdb), otp.LogSender{Log: log}, authManager, otp.Config{
		TTL:         cfg.OTP.TTL,
		Length:      cfg.OTP.Length,
		MaxAttempts: cfg.OTP.MaxAttempts,
		SendLimit:   cfg.OTP.SendLimit,
		SendWindow:  cfg.OTP.SendWindow,
	})
	ready := func(ctx context.Context) error {
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}

	deps := routeDeps{
		cfg:        cfg,
		auth:       authManager,
		calls:      calls,
		correlator: ivr.NewCorrelator(repo, m, nil),
		otp:        otpSvc,
		audit:      audit.NewService(audit.NewPostgresRepo(db)),
		reports:    reporting.NewService(repo),
		jobs:       q,
		metrics:    m,
		ready:      ready,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", cfg.Telephony.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
