package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"shopify-catalog-mirror/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TenantLister lists the shops eligible for unattended sync
type TenantLister interface {
	ListOfflineTenants(ctx context.Context) ([]string, error)
}

// TenantSyncer runs one sync
type TenantSyncer interface {
	Run(ctx context.Context, tenantID string, opts SyncOptions) (*domain.SyncRun, error)
}

// ScheduleResult summarises one scheduler pass
type ScheduleResult struct {
	Tenants   int
	Completed int
	Failed    int
	Skipped   int
}

// Scheduler periodically syncs every shop holding an offline credential
type Scheduler struct {
	tenants     TenantLister
	syncer      TenantSyncer
	interval    time.Duration
	concurrency int
	logger      zerolog.Logger
}

// NewScheduler creates a scheduler. interval 0 disables the periodic loop.
func NewScheduler(tenants TenantLister, syncer TenantSyncer, interval time.Duration, concurrency int, logger zerolog.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		tenants:     tenants,
		syncer:      syncer,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
	}
}

// RunOnce syncs every eligible shop, at most concurrency at a time. A failing shop does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (ScheduleResult, error) {
	tenants, err := s.tenants.ListOfflineTenants(ctx)
	if err != nil {
		return ScheduleResult{}, err
	}

	var completed, failed, skipped atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		tenantID := tenantID
		g.Go(func() error {
			run, err := s.syncer.Run(ctx, tenantID, SyncOptions{})
			switch {
			case errors.Is(err, domain.ErrConcurrentSyncInProgress):
				skipped.Add(1)
				s.logger.Info().Str("shop", tenantID).Msg("Sync already running, skipping shop")
			case err != nil:
				failed.Add(1)
				s.logger.Warn().Err(err).Str("shop", tenantID).Msg("Scheduled sync failed")
			default:
				completed.Add(1)
				s.logger.Debug().Str("shop", tenantID).Int("pages", run.Pages).Msg("Scheduled sync completed")
			}
			return nil
		})
	}
	_ = g.Wait()

	result := ScheduleResult{
		Tenants:   len(tenants),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	s.logger.Info().
		Int("tenants", result.Tenants).
		Int("completed", result.Completed).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Scheduled sync pass finished")
	return result, ctx.Err()
}

// Run runs a pass immediately and then every interval until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("Scheduled sync disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Scheduled sync pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
