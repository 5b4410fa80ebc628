package worker

// report_sweep.go
// Background goroutine that re-enqueues close reports that never got
// rendered: the enqueue after a close is best-effort, and a report job can
// be lost if Redis was down at that moment. Each session is claimed in
// Redis once per lookback window so a report that keeps failing ends up in
// the DLQ once, not on every tick.

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"cashdrawer/internal/repository"
	"cashdrawer/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	sweepTickInterval = 5 * time.Minute
	sweepBatchSize    = 50
	sweepClaimPrefix  = "report:swept:"
)

// ReportSweepConfig holds all dependencies for the sweep goroutine.
type ReportSweepConfig struct {
	Repo        repository.CashRepository
	Enqueuer    service.ReportEnqueuer
	RDB         *redis.Client
	StoragePath string
	// Lookback bounds how far back closed sessions are checked.
	Lookback time.Duration
	// Grace leaves freshly closed sessions to the regular enqueue.
	Grace time.Duration
}

func (c *ReportSweepConfig) defaults() {
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
	if c.Grace <= 0 {
		c.Grace = 2 * time.Minute
	}
}

// StartReportSweep ticks every five minutes until ctx is cancelled.
func StartReportSweep(ctx context.Context, cfg ReportSweepConfig) {
	cfg.defaults()
	go func() {
		ticker := time.NewTicker(sweepTickInterval)
		defer ticker.Stop()

		log.Info().Msg("report_sweep: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("report_sweep: shutting down")
				return
			case <-ticker.C:
				if _, err := SweepReports(ctx, cfg, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("report_sweep: tick failed")
				}
			}
		}
	}()
}

// SweepReports enqueues a report for every session closed within the
// lookback window whose PDF is missing. It returns how many were enqueued.
func SweepReports(ctx context.Context, cfg ReportSweepConfig, now time.Time) (int, error) {
	cfg.defaults()
	sessions, err := cfg.Repo.ListClosedSince(ctx, now.Add(-cfg.Lookback), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, s := range sessions {
		if s.ClosedAt == nil || s.ClosedAt.After(now.Add(-cfg.Grace)) {
			continue
		}
		if _, err := os.Stat(filepath.Join(cfg.StoragePath, service.ReportFileName(s.ID))); err == nil {
			continue
		}
		if cfg.RDB != nil {
			claimed, err := cfg.RDB.SetNX(ctx, sweepClaimPrefix+s.ID.String(), now.Unix(), cfg.Lookback).Result()
			if err != nil {
				return enqueued, err
			}
			if !claimed {
				continue
			}
		}
		if err := cfg.Enqueuer.EnqueueSessionReport(ctx, s.ID); err != nil {
			return enqueued, err
		}
		enqueued++
		log.Info().Str("session_id", s.ID.String()).Msg("report_sweep: missing report re-enqueued")
	}
	return enqueued, nil
}
