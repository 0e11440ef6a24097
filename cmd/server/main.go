package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"messhub/backend/config"
	"messhub/backend/internal/api/handler"
	"messhub/backend/internal/api/router"
	"messhub/backend/internal/repository"
	"messhub/backend/internal/scheduler"
	"messhub/backend/internal/service"
	"messhub/backend/pkg/clock"
	"messhub/backend/pkg/database"
	"messhub/backend/pkg/jwt"
	"messhub/backend/pkg/lock"
	applogger "messhub/backend/pkg/logger"
	"messhub/backend/pkg/redis"
)

const (
	lockTTL  = 10 * time.Second
	lockWait = 5 * time.Second
)

func main() {
	// 1. config
	cfg, err := config.Load(os.Getenv("MESS_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// 2. logger
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting messhub",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.String("timezone", cfg.Clock.Timezone),
	)

	// 3. database
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("get sql.DB failed", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	// 4. redis is optional: without it locks are in-process and rate limiting is off
	var locker lock.Locker
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, using in-process locks and no rate limiting", zap.Error(err))
		rdb = nil
		locker = lock.NewMemory()
	} else {
		locker = lock.NewRedis(rdb, lockTTL, lockWait, logger)
	}

	// 5. clock and jwt
	loc, err := cfg.Clock.Location()
	if err != nil {
		logger.Fatal("resolve clock timezone failed", zap.Error(err))
	}
	clk := clock.New(loc)
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 6. Repository → Service → Handler
	repo := repository.NewRepository(db, loc)
	svc := service.NewService(cfg, repo, locker, clk, logger)
	h := handler.NewHandler(svc, cfg.Billing, loc)

	engine := router.Setup(cfg, h, jwtMgr, rdb, logger)

	// 7. daily policy jobs
	ctx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(clk, logger)
		if err := sched.RegisterPolicyJobs(cfg, svc); err != nil {
			logger.Fatal("register scheduled jobs failed", zap.Error(err))
		}
		sched.Start(ctx)
	}

	// 8. http server with graceful shutdown
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutting down", zap.String("signal", sig.String()))

	if sched != nil {
		sched.Stop()
	}
	stopJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	if err := sqlDB.Close(); err != nil {
		logger.Error("close database failed", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("server stopped")
}
