package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashdrawer/internal/config"
	"cashdrawer/internal/infra"
	"cashdrawer/internal/repository"
	"cashdrawer/internal/router"
	"cashdrawer/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Report rendering runs in the pool; handlers only enqueue.
	cashRepo := repository.NewCashRepository(db)
	dispatcher := worker.NewDispatcher(rdb)
	reports := worker.NewReportWorker(cashRepo, cfg.PDFStoragePath, time.Local)
	pool := worker.NewPool(rdb, cfg.WorkerPoolSize)
	if to := cfg.Recipients(); len(to) > 0 {
		reports.WithEmail(dispatcher, to)
		pool.Register(worker.JobReportEmail, worker.NewEmailWorker(infra.NewMailer(cfg), cfg.PDFStoragePath))
		log.Info().Strs("to", to).Msg("close reports will be mailed")
	}
	pool.Register(worker.JobSessionReport, reports)
	pool.Start(ctx)

	worker.StartReportSweep(ctx, worker.ReportSweepConfig{
		Repo:        cashRepo,
		Enqueuer:    dispatcher,
		RDB:         rdb,
		StoragePath: cfg.PDFStoragePath,
	})

	r, err := router.New(ctx, cfg, db, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("cash drawer server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	cancel()
	pool.Wait()
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	log.Info().Msg("server exited")
}
